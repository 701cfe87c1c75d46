// Package models provides data model definitions for the Shelfmark sync backend.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UUID is a wrapper around string for client-assigned UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// NewID generates a new UUID v4.
func NewID() UUID {
	return UUID(uuid.New().String())
}

// ValidateID returns an error unless s is a well-formed UUID v4.
// Record identifiers are assigned by clients, so they are validated
// at the sync boundary before touching the store.
func ValidateID(s string) error {
	id, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid record id %q: %w", s, err)
	}
	if id.Version() != 4 {
		return fmt.Errorf("invalid record id %q: expected UUID v4, got v%d", s, id.Version())
	}
	return nil
}

// NowMillis returns the current time as epoch milliseconds, the
// storage and wire representation for all timestamps.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// MillisToTime converts an epoch-millisecond timestamp to time.Time.
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
