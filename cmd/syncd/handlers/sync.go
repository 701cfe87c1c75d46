// Package handlers provides the REST API for the sync backend.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/shelfmark/shelfmark/backend/internal/auth"
	"github.com/shelfmark/shelfmark/backend/internal/db"
	apperrors "github.com/shelfmark/shelfmark/backend/internal/errors"
	"github.com/shelfmark/shelfmark/backend/internal/governor"
	"github.com/shelfmark/shelfmark/backend/internal/logging"
	"github.com/shelfmark/shelfmark/backend/internal/models"
	"github.com/shelfmark/shelfmark/backend/internal/syncengine"
)

// maxPushBody bounds a push request body at 8 MiB.
const maxPushBody = 8 << 20

// SyncBroadcaster notifies a user's other connected devices that new
// data is available server side.
type SyncBroadcaster interface {
	BroadcastSyncApplied(userID string, timestamp int64)
}

// SyncHandler handles push and pull sync endpoints.
type SyncHandler struct {
	engine   *syncengine.Engine
	repo     *db.Repository
	verifier auth.Verifier
	locks    *governor.UserLocks
	throttle *governor.Throttle
	cache    *governor.PullCache
	metrics  *governor.Metrics
	validate *validator.Validate
	wsHub    SyncBroadcaster
}

// NewSyncHandler creates the sync API handler.
func NewSyncHandler(engine *syncengine.Engine, repo *db.Repository, verifier auth.Verifier, locks *governor.UserLocks, throttle *governor.Throttle, cache *governor.PullCache, metrics *governor.Metrics) *SyncHandler {
	return &SyncHandler{
		engine:   engine,
		repo:     repo,
		verifier: verifier,
		locks:    locks,
		throttle: throttle,
		cache:    cache,
		metrics:  metrics,
		validate: validator.New(),
	}
}

// SetWebSocketHub sets the broadcaster for cross-device notifications.
func (h *SyncHandler) SetWebSocketHub(hub SyncBroadcaster) {
	h.wsHub = hub
}

type pushRequest struct {
	Changes []syncengine.ChangeItem `json:"changes" validate:"required,min=1,dive"`
}

// Push handles POST /api/sync/push.
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := auth.FromRequest(r, h.verifier)
	if err != nil {
		writeAppError(w, err)
		return
	}

	done, err := h.throttle.Admit(userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var outcome error
	defer func() { done(outcome) }()

	if err := h.locks.Acquire(userID); err != nil {
		outcome = err
		writeAppError(w, err)
		return
	}
	defer h.locks.Release(userID)

	var req pushRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxPushBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		outcome = err
		writeAppError(w, apperrors.Wrap(apperrors.ErrSyncBadEnvelope, "invalid request body", err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		outcome = err
		writeAppError(w, apperrors.Wrap(apperrors.ErrSyncBadEnvelope, "invalid push envelope", err))
		return
	}

	result, err := h.engine.Push(r.Context(), userID, req.Changes)
	if err != nil {
		outcome = err
		h.countSync("push", "error")
		if result != nil {
			writeJSON(w, statusForCode(apperrors.CodeOf(err)), result)
			return
		}
		writeAppError(w, err)
		return
	}

	h.cache.InvalidateUser(userID)
	h.countSync("push", "ok")

	if h.wsHub != nil {
		h.wsHub.BroadcastSyncApplied(userID, models.NowMillis())
	}

	writeJSON(w, http.StatusOK, result)
}

// Pull handles GET /api/sync/pull?last_pulled_at=<watermark>. The
// shorter "since" alias is accepted as well.
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := auth.FromRequest(r, h.verifier)
	if err != nil {
		writeAppError(w, err)
		return
	}

	raw := r.URL.Query().Get("last_pulled_at")
	if raw == "" {
		raw = r.URL.Query().Get("since")
	}
	watermark, err := syncengine.ParseWatermark(raw)
	if err != nil {
		writeAppError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid last_pulled_at parameter", err))
		return
	}

	done, err := h.throttle.Admit(userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var outcome error
	defer func() { done(outcome) }()

	if body := h.cache.Get(userID, watermark); body != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		h.countSync("pull", "cached")
		return
	}

	resp, err := h.engine.Pull(r.Context(), userID, watermark)
	if err != nil {
		outcome = err
		h.countSync("pull", "error")
		writeAppError(w, err)
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		outcome = err
		writeAppError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to encode pull response", err))
		return
	}

	h.cache.Put(userID, watermark, resp.Timestamp, body)
	h.countSync("pull", "ok")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// Status handles GET /api/sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := auth.FromRequest(r, h.verifier)
	if err != nil {
		writeAppError(w, err)
		return
	}

	storeOK := true
	if err := h.repo.DB().PingContext(r.Context()); err != nil {
		storeOK = false
		logging.Error("status store check failed", err)
	}

	queueDepth, err := h.repo.PendingEmbeddingCount()
	if err != nil {
		logging.Warn("status queue depth query failed", map[string]interface{}{"error": err.Error()})
		queueDepth = -1
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"server_time":     models.NowMillis(),
		"sync_locked":     h.locks.Held(userID),
		"active_locks":    h.locks.HeldCount(),
		"cache_entries":   h.cache.Len(),
		"embedding_queue": queueDepth,
		"store_ok":        storeOK,
	})
}

func (h *SyncHandler) countSync(direction, outcome string) {
	if h.metrics != nil {
		h.metrics.SyncTotal.WithLabelValues(direction, outcome).Inc()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode response", err, nil)
	}
}

// writeAppError maps a coded error to an HTTP status and JSON body.
func writeAppError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := statusForCode(code)

	body := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    string(code),
			"message": err.Error(),
		},
	}
	if appErr, ok := err.(*apperrors.AppError); ok && appErr.RetryAfterMillis > 0 {
		body["error"].(map[string]interface{})["retry_after_ms"] = appErr.RetryAfterMillis
	}
	writeJSON(w, status, body)
}

func statusForCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrSyncUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrPermission:
		return http.StatusForbidden
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrValidation, apperrors.ErrSyncBadEnvelope, apperrors.ErrSyncUnknownTable:
		return http.StatusBadRequest
	case apperrors.ErrSyncLocked, apperrors.ErrConflict:
		return http.StatusConflict
	case apperrors.ErrSyncThrottled:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
