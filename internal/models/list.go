// Package models provides data model definitions for the Shelfmark sync backend.
package models

// ListType identifies what kind of items a list holds. It also selects
// the detail table for typed items created under the list.
type ListType string

const (
	ListTypeMovie  ListType = "movie"
	ListTypeBook   ListType = "book"
	ListTypeMusic  ListType = "music"
	ListTypePlace  ListType = "place"
	ListTypeGift   ListType = "gift"
	ListTypeCustom ListType = "custom"
)

// List represents a user-owned collection of items.
// DeletedAt is zero for live rows; a non-zero value is the soft-delete
// timestamp and makes the row invisible to all reads except delete-delta
// queries.
type List struct {
	ID          UUID   `db:"id" json:"id"`
	OwnerID     string `db:"owner_id" json:"owner_id"`
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description,omitempty"`
	ListType    string `db:"list_type" json:"list_type"`
	Settings    string `db:"settings" json:"settings,omitempty"` // JSON
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
	DeletedAt   int64  `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TableName returns the table name for List.
func (List) TableName() string {
	return "lists"
}

// Touch updates the UpdatedAt timestamp.
func (l *List) Touch() {
	l.UpdatedAt = NowMillis()
}

// IsDeleted reports whether the list is soft deleted.
func (l *List) IsDeleted() bool {
	return l.DeletedAt != 0
}

// ToWire renders the list as a wire map with numeric timestamps.
func (l *List) ToWire() map[string]interface{} {
	m := map[string]interface{}{
		"id":         l.ID.String(),
		"owner_id":   l.OwnerID,
		"title":      l.Title,
		"list_type":  l.ListType,
		"created_at": l.CreatedAt,
		"updated_at": l.UpdatedAt,
	}
	if l.Description != "" {
		m["description"] = l.Description
	}
	if l.Settings != "" {
		m["settings"] = l.Settings
	}
	return m
}
