package models

import "time"

// NewString returns a pointer to s, or nil when s is empty.
// Used when binding optional text fields into nullable columns.
func NewString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NewInt64 returns a pointer to n.
func NewInt64(n int64) *int64 {
	return &n
}

// NewTime returns a pointer to t.
func NewTime(t time.Time) *time.Time {
	return &t
}
