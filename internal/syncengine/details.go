// Package syncengine implements the Shelfmark sync protocol.
package syncengine

import (
	"database/sql"

	"github.com/shelfmark/shelfmark/backend/internal/models"
)

// detailSpec is the tagged-variant mapping from an item's source kind to
// its detail table: where the row lives, which foreign-key column on
// list_items points at it, and how client detail fields map onto
// columns. Kinds without an entry (gift, custom) carry no detail record.
type detailSpec struct {
	Table    string
	FKColumn string

	// BuildColumns maps the client's detail payload to column/value
	// pairs. fallbackTitle is the item title, used when the detail
	// payload has no name of its own.
	BuildColumns func(detail map[string]interface{}, fallbackTitle string) ([]string, []interface{})
}

// detailSpecs is resolved once per item creation, never via inheritance.
var detailSpecs = map[string]*detailSpec{
	"movie": {
		Table:    "movie_details",
		FKColumn: "movie_detail_id",
		BuildColumns: func(d map[string]interface{}, fallbackTitle string) ([]string, []interface{}) {
			return []string{"title", "release_year", "director", "poster_url"},
				[]interface{}{
					stringField(d, "title", fallbackTitle),
					intField(d, "release_year"),
					stringField(d, "director", ""),
					stringField(d, "poster_url", ""),
				}
		},
	},
	"book": {
		Table:    "book_details",
		FKColumn: "book_detail_id",
		BuildColumns: func(d map[string]interface{}, fallbackTitle string) ([]string, []interface{}) {
			return []string{"title", "author", "isbn", "cover_url"},
				[]interface{}{
					stringField(d, "title", fallbackTitle),
					stringField(d, "author", ""),
					stringField(d, "isbn", ""),
					stringField(d, "cover_url", ""),
				}
		},
	},
	"music": {
		Table:    "track_details",
		FKColumn: "track_detail_id",
		BuildColumns: func(d map[string]interface{}, fallbackTitle string) ([]string, []interface{}) {
			return []string{"title", "artist", "album"},
				[]interface{}{
					stringField(d, "title", fallbackTitle),
					stringField(d, "artist", ""),
					stringField(d, "album", ""),
				}
		},
	},
	"place": {
		Table:    "place_details",
		FKColumn: "place_detail_id",
		BuildColumns: func(d map[string]interface{}, fallbackTitle string) ([]string, []interface{}) {
			return []string{"name", "address", "latitude", "longitude"},
				[]interface{}{
					stringField(d, "name", fallbackTitle),
					stringField(d, "address", ""),
					floatField(d, "latitude"),
					floatField(d, "longitude"),
				}
		},
	},
}

// detailSpecFor resolves the detail variant for a source kind, or nil
// when the kind carries no detail record.
func detailSpecFor(kind string) *detailSpec {
	return detailSpecs[kind]
}

// readDetailRecord loads a detail row back as a wire map, using the
// same column set BuildColumns writes. Returns nil when the row is
// gone; an item may outlive its detail record.
func readDetailRecord(q querier, spec *detailSpec, id string) (map[string]interface{}, error) {
	cols, _ := spec.BuildColumns(nil, "")

	query := "SELECT " + joinColumns(cols) + " FROM " + spec.Table + " WHERE id = ?"
	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	err := q.QueryRow(query, id).Scan(ptrs...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	wire := make(map[string]interface{}, len(cols)+1)
	wire["id"] = id
	for i, col := range cols {
		if b, ok := vals[i].([]byte); ok {
			wire[col] = string(b)
			continue
		}
		wire[col] = vals[i]
	}
	return wire, nil
}

// createDetailRecord inserts a detail row and returns its id. The caller
// patches the returned id onto the item's foreign-key column.
func createDetailRecord(q querier, spec *detailSpec, detail map[string]interface{}, fallbackTitle string) (models.UUID, error) {
	id := models.NewID()
	now := models.NowMillis()

	cols, args := spec.BuildColumns(detail, fallbackTitle)
	cols = append(cols, "id", "created_at", "updated_at")
	args = append(args, string(id), now, now)

	query := "INSERT INTO " + spec.Table + " (" + joinColumns(cols) + ") VALUES (" + placeholderList(len(cols)) + ")"
	if _, err := q.Exec(query, args...); err != nil {
		return "", err
	}
	return id, nil
}

func stringField(m map[string]interface{}, key, fallback string) string {
	if m != nil {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func intField(m map[string]interface{}, key string) int {
	if m != nil {
		switch v := m[key].(type) {
		case float64:
			return int(v)
		case int:
			return v
		}
	}
	return 0
}

func floatField(m map[string]interface{}, key string) float64 {
	if m != nil {
		if f, ok := m[key].(float64); ok {
			return f
		}
	}
	return 0
}
