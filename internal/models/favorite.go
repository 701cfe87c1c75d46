// Package models provides data model definitions for the Shelfmark sync backend.
package models

// FavoriteTargetType enumerates what a favorite can point at.
const (
	FavoriteTargetList = "list"
	FavoriteTargetItem = "list_item"
)

// Favorite marks a list or item as a favorite of one user. At most one
// live row may exist per (user_id, target_id, target_type); "add"
// operations resolve against existing live and soft-deleted rows before
// inserting.
type Favorite struct {
	ID         UUID   `db:"id" json:"id"`
	UserID     string `db:"user_id" json:"user_id"`
	TargetID   UUID   `db:"target_id" json:"target_id"`
	TargetType string `db:"target_type" json:"target_type"`
	CreatedAt  int64  `db:"created_at" json:"created_at"`
	UpdatedAt  int64  `db:"updated_at" json:"updated_at"`
	DeletedAt  int64  `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TableName returns the table name for Favorite.
func (Favorite) TableName() string {
	return "favorites"
}

// Touch updates the UpdatedAt timestamp.
func (f *Favorite) Touch() {
	f.UpdatedAt = NowMillis()
}

// IsDeleted reports whether the favorite is soft deleted.
func (f *Favorite) IsDeleted() bool {
	return f.DeletedAt != 0
}

// ToWire renders the favorite as a wire map with numeric timestamps.
func (f *Favorite) ToWire() map[string]interface{} {
	return map[string]interface{}{
		"id":          f.ID.String(),
		"user_id":     f.UserID,
		"target_id":   f.TargetID.String(),
		"target_type": f.TargetType,
		"created_at":  f.CreatedAt,
		"updated_at":  f.UpdatedAt,
	}
}
