package repositories

import (
	"database/sql"
	"errors"
)

var (
	// ErrNotFound is returned when a specific record is not found.
	ErrNotFound = errors.New("requested record not found")

	// ErrDatabaseError is returned for unexpected database errors.
	// It can be used to wrap more specific driver errors.
	ErrDatabaseError = errors.New("database error")

	// ErrDuplicateKey is returned when an insert/update violates a unique constraint.
	ErrDuplicateKey = errors.New("duplicate key value violates unique constraint")
)

// SQLExecutor defines an interface that can be satisfied by *sql.DB or *sql.Tx
// This allows repository methods to be used within transactions or with a direct DB connection.
type SQLExecutor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// Tx is the transactional variant of SQLExecutor. *sql.Tx satisfies it.
type Tx interface {
	SQLExecutor
	Commit() error
	Rollback() error
}

// TxProvider hands out transactions to the service layer so business
// operations can span multiple repository calls atomically.
type TxProvider interface {
	Begin() (Tx, error)
}

type txProvider struct {
	db *sql.DB
}

// NewTxProvider wraps a *sql.DB as a TxProvider.
func NewTxProvider(db *sql.DB) TxProvider {
	return &txProvider{db: db}
}

func (p *txProvider) Begin() (Tx, error) {
	return p.db.Begin()
}
