// Package models provides data model definitions for the Shelfmark sync backend.
package models

// ListItem represents a single entry in a list. Typed items (movie, book,
// music, place) own exactly one detail record through the matching
// *_detail_id foreign key; the key is patched on during creation.
type ListItem struct {
	ID            UUID   `db:"id" json:"id"`
	ListID        UUID   `db:"list_id" json:"list_id"`
	OwnerID       string `db:"owner_id" json:"owner_id"`
	Title         string `db:"title" json:"title"`
	Notes         string `db:"notes" json:"notes,omitempty"`
	ItemType      string `db:"item_type" json:"item_type"`
	SortOrder     int    `db:"sort_order" json:"sort_order"`
	Status        string `db:"status" json:"status,omitempty"`
	Metadata      string `db:"metadata" json:"metadata,omitempty"` // JSON
	MovieDetailID UUID   `db:"movie_detail_id" json:"movie_detail_id,omitempty"`
	BookDetailID  UUID   `db:"book_detail_id" json:"book_detail_id,omitempty"`
	TrackDetailID UUID   `db:"track_detail_id" json:"track_detail_id,omitempty"`
	PlaceDetailID UUID   `db:"place_detail_id" json:"place_detail_id,omitempty"`
	CreatedAt     int64  `db:"created_at" json:"created_at"`
	UpdatedAt     int64  `db:"updated_at" json:"updated_at"`
	DeletedAt     int64  `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TableName returns the table name for ListItem.
func (ListItem) TableName() string {
	return "list_items"
}

// Touch updates the UpdatedAt timestamp.
func (i *ListItem) Touch() {
	i.UpdatedAt = NowMillis()
}

// IsDeleted reports whether the item is soft deleted.
func (i *ListItem) IsDeleted() bool {
	return i.DeletedAt != 0
}

// ToWire renders the item as a wire map with numeric timestamps.
func (i *ListItem) ToWire() map[string]interface{} {
	m := map[string]interface{}{
		"id":         i.ID.String(),
		"list_id":    i.ListID.String(),
		"owner_id":   i.OwnerID,
		"title":      i.Title,
		"item_type":  i.ItemType,
		"sort_order": i.SortOrder,
		"created_at": i.CreatedAt,
		"updated_at": i.UpdatedAt,
	}
	if i.Notes != "" {
		m["notes"] = i.Notes
	}
	if i.Status != "" {
		m["status"] = i.Status
	}
	if i.Metadata != "" {
		m["metadata"] = i.Metadata
	}
	if i.MovieDetailID != "" {
		m["movie_detail_id"] = i.MovieDetailID.String()
	}
	if i.BookDetailID != "" {
		m["book_detail_id"] = i.BookDetailID.String()
	}
	if i.TrackDetailID != "" {
		m["track_detail_id"] = i.TrackDetailID.String()
	}
	if i.PlaceDetailID != "" {
		m["place_detail_id"] = i.PlaceDetailID.String()
	}
	return m
}
