// Package syncengine implements the Shelfmark sync protocol: applying
// client mutation batches (push) and computing permission-scoped deltas
// (pull) against the shared store.
package syncengine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Change operations accepted from clients.
const (
	OpCreate         = "create"
	OpUpdate         = "update"
	OpDelete         = "delete"
	OpBatchReorder   = "batch_reorder"
	OpBatchFavorites = "batch_favorites"
)

// Per-item result statuses.
const (
	StatusCreated   = "created"
	StatusUpdated   = "updated"
	StatusDeleted   = "deleted"
	StatusNoop      = "noop"
	StatusRestored  = "restored"
	StatusReordered = "reordered"
	StatusWarning   = "warning"
	StatusDenied    = "denied"
	StatusError     = "error"
)

// ChangeItem is one client-submitted mutation. Consumed once per push
// call; the server never stores it.
type ChangeItem struct {
	TableName string                 `json:"table_name" validate:"required"`
	Operation string                 `json:"operation" validate:"required,oneof=create update delete batch_reorder batch_favorites"`
	RecordID  string                 `json:"client_record_id,omitempty"`
	Payload   map[string]interface{} `json:"data_payload,omitempty"`
}

var validate = validator.New()

// Validate checks the envelope invariants before any store access:
// a payload is required for create/update, and update/delete need a
// record identifier from either the envelope or the payload.
func (c *ChangeItem) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	switch c.Operation {
	case OpCreate, OpUpdate:
		if len(c.Payload) == 0 {
			return fmt.Errorf("%s on %s requires a data payload", c.Operation, c.TableName)
		}
	}
	switch c.Operation {
	case OpUpdate, OpDelete:
		if c.recordID() == "" {
			return fmt.Errorf("%s on %s requires a record id", c.Operation, c.TableName)
		}
	}
	return nil
}

// recordID resolves the target identifier from the envelope, falling
// back to the payload's id field.
func (c *ChangeItem) recordID() string {
	if c.RecordID != "" {
		return c.RecordID
	}
	if c.Payload != nil {
		if id, ok := c.Payload["id"].(string); ok {
			return id
		}
	}
	return ""
}

// ItemResult reports the outcome of one ChangeItem.
type ItemResult struct {
	ClientRecordID string `json:"client_record_id,omitempty"`
	Status         string `json:"status"`
	ServerID       string `json:"server_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// PushResult is the response body of a push call. When the transaction
// rolled back, Success is false and Results is advisory only: nothing
// in it was committed.
type PushResult struct {
	Success bool         `json:"success"`
	Results []ItemResult `json:"results"`
	Message string       `json:"message,omitempty"`
}

// TableDiff is the per-table delta of a pull response. Deleted carries
// bare record identifiers; created and updated carry full wire rows.
type TableDiff struct {
	Created []map[string]interface{} `json:"created"`
	Updated []map[string]interface{} `json:"updated"`
	Deleted []string                 `json:"deleted"`
}

// PullResponse is the response body of a pull call. HasMore signals a
// truncated change-log page: the client must pull again with the new
// timestamp to drain the rest.
type PullResponse struct {
	Changes   map[string]*TableDiff `json:"changes"`
	Timestamp int64                 `json:"timestamp"`
	HasMore   bool                  `json:"has_more,omitempty"`
}

func newTableDiff() *TableDiff {
	return &TableDiff{
		Created: []map[string]interface{}{},
		Updated: []map[string]interface{}{},
		Deleted: []string{},
	}
}

// ParseWatermark accepts the client watermark as epoch millis or an
// RFC3339 timestamp. Empty means 0: initial-snapshot mode.
func ParseWatermark(s string) (int64, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	return 0, fmt.Errorf("invalid watermark %q", s)
}
