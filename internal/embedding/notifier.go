// Package embedding is the outbound port through which the sync engine
// notifies the external embedding worker about content changes. The
// engine only produces queue entries; generation itself happens outside
// this backend. Every operation is fire-and-forget: failures are logged
// and never surfaced to the sync caller.
package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shelfmark/shelfmark/backend/internal/db"
	"github.com/shelfmark/shelfmark/backend/internal/logging"
	"github.com/shelfmark/shelfmark/backend/internal/models"
)

// Notifier is the outbound port injected into the push reconciler.
type Notifier interface {
	// Enqueue asks for (re)generation of an entity's embedding.
	Enqueue(ctx context.Context, entityID models.UUID, entityType string, metadata map[string]interface{}) error

	// Deactivate marks an entity's embedding work item obsolete, e.g.
	// after a soft delete.
	Deactivate(ctx context.Context, entityID models.UUID, entityType string) error
}

// NopNotifier discards all notifications; used in tests.
type NopNotifier struct{}

func (NopNotifier) Enqueue(context.Context, models.UUID, string, map[string]interface{}) error {
	return nil
}

func (NopNotifier) Deactivate(context.Context, models.UUID, string) error {
	return nil
}

// notification is one buffered queue write.
type notification struct {
	entityID   models.UUID
	entityType string
	metadata   string
	deactivate bool
}

// QueueNotifier persists notifications into the embedding_queue table
// through an in-process buffer with exponential-backoff retries, so a
// transient store hiccup never blocks or fails a sync call.
type QueueNotifier struct {
	repo       *db.Repository
	buf        chan notification
	maxRetries int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewQueueNotifier creates and starts a QueueNotifier with the given
// buffer capacity.
func NewQueueNotifier(repo *db.Repository, bufferSize int) *QueueNotifier {
	n := &QueueNotifier{
		repo:       repo,
		buf:        make(chan notification, bufferSize),
		maxRetries: 3,
		stopCh:     make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Enqueue buffers a generation request. A full buffer drops the
// notification with a warning rather than blocking the sync path.
func (n *QueueNotifier) Enqueue(ctx context.Context, entityID models.UUID, entityType string, metadata map[string]interface{}) error {
	meta := ""
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding metadata: %w", err)
		}
		meta = string(raw)
	}
	return n.offer(notification{entityID: entityID, entityType: entityType, metadata: meta})
}

// Deactivate buffers a deactivation request.
func (n *QueueNotifier) Deactivate(ctx context.Context, entityID models.UUID, entityType string) error {
	return n.offer(notification{entityID: entityID, entityType: entityType, deactivate: true})
}

func (n *QueueNotifier) offer(msg notification) error {
	select {
	case n.buf <- msg:
		return nil
	default:
		logging.Warn("embedding notification dropped, buffer full", map[string]interface{}{
			"entity_id":   msg.entityID.String(),
			"entity_type": msg.entityType,
		})
		return fmt.Errorf("embedding notification buffer full")
	}
}

// run drains the buffer until Close, then flushes what remains.
func (n *QueueNotifier) run() {
	defer n.wg.Done()
	for {
		select {
		case msg := <-n.buf:
			n.deliver(msg)
		case <-n.stopCh:
			for {
				select {
				case msg := <-n.buf:
					n.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

// deliver writes one notification, retrying with exponential backoff.
func (n *QueueNotifier) deliver(msg notification) {
	var err error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff(attempt))
		}
		if msg.deactivate {
			err = n.repo.DeactivateEmbedding(msg.entityID, msg.entityType, models.NowMillis())
		} else {
			now := models.NowMillis()
			err = n.repo.UpsertEmbeddingPending(&models.EmbeddingQueueEntry{
				ID:         models.NewID(),
				EntityID:   msg.entityID,
				EntityType: msg.entityType,
				Status:     models.EmbeddingStatusPending,
				Metadata:   msg.metadata,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
		if err == nil {
			return
		}
	}
	logging.Error("embedding notification failed permanently", err, map[string]interface{}{
		"entity_id":   msg.entityID.String(),
		"entity_type": msg.entityType,
		"deactivate":  msg.deactivate,
	})
}

// backoff returns the delay before retry attempt n: 1s, 2s, 4s, capped
// at 30 seconds.
func backoff(attempt int) time.Duration {
	d := time.Second << uint(attempt-1)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// Close stops the worker after flushing buffered notifications.
func (n *QueueNotifier) Close() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
	})
	n.wg.Wait()
}
