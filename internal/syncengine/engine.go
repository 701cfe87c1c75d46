// Package syncengine implements the Shelfmark sync protocol.
package syncengine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shelfmark/shelfmark/backend/internal/access"
	"github.com/shelfmark/shelfmark/backend/internal/db"
	"github.com/shelfmark/shelfmark/backend/internal/embedding"
)

type querier = db.Querier

// Engine applies pushes and assembles pulls. All collaborators are
// injected; the engine holds no global state.
type Engine struct {
	repo     *db.Repository
	registry *db.Registry
	resolver *access.Resolver
	notifier embedding.Notifier

	// pullPageSize bounds one incremental change-log page.
	pullPageSize int
}

// NewEngine creates a sync engine.
func NewEngine(repo *db.Repository, registry *db.Registry, resolver *access.Resolver, notifier embedding.Notifier, pullPageSize int) *Engine {
	if pullPageSize <= 0 {
		pullPageSize = 1000
	}
	return &Engine{
		repo:         repo,
		registry:     registry,
		resolver:     resolver,
		notifier:     notifier,
		pullPageSize: pullPageSize,
	}
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}

func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// normalizeEpochMillis coerces a client-supplied timestamp to epoch
// milliseconds. Clients send numbers (seconds or millis) or RFC3339
// strings depending on app version.
func normalizeEpochMillis(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return secondsHeuristic(int64(t)), true
	case int64:
		return secondsHeuristic(t), true
	case int:
		return secondsHeuristic(int64(t)), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return secondsHeuristic(n), true
		}
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts.UnixMilli(), true
		}
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return secondsHeuristic(n), true
		}
	}
	return 0, false
}

// secondsHeuristic widens second-precision epochs to milliseconds.
// Anything below 10^11 is before 1973 as millis, so it must be seconds.
func secondsHeuristic(n int64) int64 {
	if n > 0 && n < 100_000_000_000 {
		return n * 1000
	}
	return n
}

// reserializeJSON normalizes a JSON-typed column value: already
// serialized strings pass through, anything else is stringified.
func reserializeJSON(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("failed to serialize JSON column: %w", err)
		}
		return string(raw), nil
	}
}

// snapshotJSON renders a wire map for storage in sync_log.change_data.
func snapshotJSON(wire map[string]interface{}) string {
	raw, err := json.Marshal(wire)
	if err != nil {
		return ""
	}
	return string(raw)
}

func stringValue(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// entityTypeForTable maps a syncable table to its embedding entity type.
// Lists carry no embeddings.
func entityTypeForTable(table string) string {
	switch table {
	case "list_items":
		return "list_item"
	case "favorites":
		return "favorite"
	default:
		return ""
	}
}
