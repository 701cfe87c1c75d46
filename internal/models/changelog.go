// Package models provides data model definitions for the Shelfmark sync backend.
package models

// ChangeLogEntry is the durable record of a mutation, written in the
// same transaction as the mutation itself. The table holds one row per
// (table_name, record_id); re-mutating a record upserts the existing row
// rather than appending a new one. Incremental pulls read entries newer
// than the client's watermark.
type ChangeLogEntry struct {
	TableName  string `db:"table_name" json:"table_name"`
	RecordID   UUID   `db:"record_id" json:"record_id"`
	Operation  string `db:"operation" json:"operation"`               // create, update, delete
	ChangeData string `db:"change_data" json:"change_data,omitempty"` // JSON snapshot
	CreatedAt  int64  `db:"created_at" json:"created_at"`
	UpdatedAt  int64  `db:"updated_at" json:"updated_at"`
}
