// Package models provides data model definitions for the Shelfmark sync backend.
package models

// Embedding queue status values. The queue is produced by the sync
// engine and drained by an external enrichment worker.
const (
	EmbeddingStatusPending  = "pending"
	EmbeddingStatusInactive = "inactive"
)

// EmbeddingQueueEntry asks the external embedding worker to (re)generate
// or deactivate a vector for an entity.
type EmbeddingQueueEntry struct {
	ID         UUID   `db:"id" json:"id"`
	EntityID   UUID   `db:"entity_id" json:"entity_id"`
	EntityType string `db:"entity_type" json:"entity_type"`
	Status     string `db:"status" json:"status"`
	RetryCount int    `db:"retry_count" json:"retry_count"`
	Metadata   string `db:"metadata" json:"metadata,omitempty"` // JSON
	CreatedAt  int64  `db:"created_at" json:"created_at"`
	UpdatedAt  int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for EmbeddingQueueEntry.
func (EmbeddingQueueEntry) TableName() string {
	return "embedding_queue"
}
