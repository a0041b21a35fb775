package repositories

import (
	"database/sql"
	"errors"
	"fmt"

	"kds_backend/internal/models"
)

// StationRepository reads the static reference data the routing layer
// consumes: stations, the menu-item -> station mapping, and dining tables.
type StationRepository interface {
	GetStations(activeOnly bool) ([]models.Station, error)
	GetStationByID(stationID int64) (*models.Station, error)
	GetMenuItemByID(menuItemID int64) (*models.MenuItem, error)
	GetTableByID(tableID int64) (*models.DiningTable, error)
}

type stationRepository struct {
	db *sql.DB
}

// NewStationRepository creates a new instance of StationRepository.
func NewStationRepository(db *sql.DB) StationRepository {
	return &stationRepository{db: db}
}

func (r *stationRepository) GetStations(activeOnly bool) ([]models.Station, error) {
	stations := []models.Station{}
	query := `SELECT id, name, category, display_order, is_active, created_at, updated_at
	          FROM stations`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY display_order`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("%w: querying stations: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.Station
		err := rows.Scan(&s.ID, &s.Name, &s.Category, &s.DisplayOrder, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning station: %v", ErrDatabaseError, err)
		}
		stations = append(stations, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating station rows: %v", ErrDatabaseError, err)
	}
	return stations, nil
}

func (r *stationRepository) GetStationByID(stationID int64) (*models.Station, error) {
	s := &models.Station{}
	query := `SELECT id, name, category, display_order, is_active, created_at, updated_at
	          FROM stations WHERE id = $1`
	err := r.db.QueryRow(query, stationID).Scan(
		&s.ID, &s.Name, &s.Category, &s.DisplayOrder, &s.IsActive, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: getting station by ID %d: %v", ErrDatabaseError, stationID, err)
	}
	return s, nil
}

func (r *stationRepository) GetMenuItemByID(menuItemID int64) (*models.MenuItem, error) {
	mi := &models.MenuItem{}
	query := `SELECT id, name, station_id, is_available, created_at, updated_at
	          FROM menu_items WHERE id = $1`
	err := r.db.QueryRow(query, menuItemID).Scan(
		&mi.ID, &mi.Name, &mi.StationID, &mi.IsAvailable, &mi.CreatedAt, &mi.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: getting menu item by ID %d: %v", ErrDatabaseError, menuItemID, err)
	}
	return mi, nil
}

func (r *stationRepository) GetTableByID(tableID int64) (*models.DiningTable, error) {
	t := &models.DiningTable{}
	query := `SELECT id, table_number, created_at FROM dining_tables WHERE id = $1`
	err := r.db.QueryRow(query, tableID).Scan(&t.ID, &t.TableNumber, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: getting table by ID %d: %v", ErrDatabaseError, tableID, err)
	}
	return t, nil
}
