// Package models provides data model definitions for the Shelfmark sync backend.
package models

// Detail records hold type-specific metadata for a typed list item. Each
// detail row is owned by exactly one item through the foreign key stored
// on the item; details are created lazily on first sync of a typed item.

// MovieDetail holds movie metadata.
type MovieDetail struct {
	ID          UUID   `db:"id" json:"id"`
	Title       string `db:"title" json:"title"`
	ReleaseYear int    `db:"release_year" json:"release_year,omitempty"`
	Director    string `db:"director" json:"director,omitempty"`
	PosterURL   string `db:"poster_url" json:"poster_url,omitempty"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for MovieDetail.
func (MovieDetail) TableName() string {
	return "movie_details"
}

// BookDetail holds book metadata.
type BookDetail struct {
	ID        UUID   `db:"id" json:"id"`
	Title     string `db:"title" json:"title"`
	Author    string `db:"author" json:"author,omitempty"`
	ISBN      string `db:"isbn" json:"isbn,omitempty"`
	CoverURL  string `db:"cover_url" json:"cover_url,omitempty"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for BookDetail.
func (BookDetail) TableName() string {
	return "book_details"
}

// TrackDetail holds music track metadata.
type TrackDetail struct {
	ID        UUID   `db:"id" json:"id"`
	Title     string `db:"title" json:"title"`
	Artist    string `db:"artist" json:"artist,omitempty"`
	Album     string `db:"album" json:"album,omitempty"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for TrackDetail.
func (TrackDetail) TableName() string {
	return "track_details"
}

// PlaceDetail holds place metadata.
type PlaceDetail struct {
	ID        UUID    `db:"id" json:"id"`
	Name      string  `db:"name" json:"name"`
	Address   string  `db:"address" json:"address,omitempty"`
	Latitude  float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude float64 `db:"longitude" json:"longitude,omitempty"`
	CreatedAt int64   `db:"created_at" json:"created_at"`
	UpdatedAt int64   `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for PlaceDetail.
func (PlaceDetail) TableName() string {
	return "place_details"
}
