// Package db provides the schema registry used by the push reconciler.
package db

import (
	"database/sql"
	"fmt"
)

// TableSchema describes one client-syncable table: which columns exist,
// which hold serialized JSON, and which a client may never overwrite.
// The registry replaces runtime information_schema introspection: the
// column sets are declared here and verified against the live database
// once at startup.
type TableSchema struct {
	Name      string
	Columns   map[string]bool
	JSONCols  map[string]bool
	Immutable map[string]bool
}

// Registry holds the schemas of all tables clients may push to.
type Registry struct {
	tables map[string]*TableSchema
}

func cols(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// NewRegistry builds the registry for the current schema version.
func NewRegistry() *Registry {
	r := &Registry{tables: make(map[string]*TableSchema)}

	r.tables["lists"] = &TableSchema{
		Name: "lists",
		Columns: cols("id", "owner_id", "title", "description", "list_type",
			"settings", "created_at", "updated_at", "deleted_at"),
		JSONCols:  cols("settings"),
		Immutable: cols("id", "owner_id", "created_at", "deleted_at"),
	}

	r.tables["list_items"] = &TableSchema{
		Name: "list_items",
		Columns: cols("id", "list_id", "owner_id", "title", "notes", "item_type",
			"sort_order", "status", "metadata", "movie_detail_id", "book_detail_id",
			"track_detail_id", "place_detail_id", "created_at", "updated_at", "deleted_at"),
		JSONCols:  cols("metadata"),
		Immutable: cols("id", "owner_id", "created_at", "deleted_at"),
	}

	r.tables["favorites"] = &TableSchema{
		Name: "favorites",
		Columns: cols("id", "user_id", "target_id", "target_type",
			"created_at", "updated_at", "deleted_at"),
		JSONCols:  cols(),
		Immutable: cols("id", "user_id", "created_at", "deleted_at"),
	}

	return r
}

// Lookup returns the schema for a syncable table, or nil if clients may
// not push to it.
func (r *Registry) Lookup(table string) *TableSchema {
	return r.tables[table]
}

// Tables returns the names of all syncable tables.
func (r *Registry) Tables() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	return names
}

// FilterPayload drops every key of payload that is not a column of table.
// Unknown client fields are tolerated (schema drift between app versions)
// and returned so the caller can log a validation warning.
func (s *TableSchema) FilterPayload(payload map[string]interface{}) (map[string]interface{}, []string) {
	filtered := make(map[string]interface{}, len(payload))
	var dropped []string
	for k, v := range payload {
		if s.Columns[k] {
			filtered[k] = v
		} else {
			dropped = append(dropped, k)
		}
	}
	return filtered, dropped
}

// StripImmutable removes columns a client update may never change.
func (s *TableSchema) StripImmutable(payload map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if !s.Immutable[k] {
			out[k] = v
		}
	}
	return out
}

// Verify checks each registered table against the live database schema.
// A registry column missing from the database is a startup error; extra
// database columns are fine (the registry simply never writes them).
func (r *Registry) Verify(db *sql.DB) error {
	for name, schema := range r.tables {
		live, err := tableColumns(db, name)
		if err != nil {
			return fmt.Errorf("schema registry: cannot inspect table %s: %w", name, err)
		}
		for col := range schema.Columns {
			if !live[col] {
				return fmt.Errorf("schema registry: table %s is missing column %s", name, col)
			}
		}
	}
	return nil
}

// tableColumns reads the live column set once, at startup only.
func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	live := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &primaryKey); err != nil {
			return nil, err
		}
		live[name] = true
	}
	return live, rows.Err()
}
