// Package db provides repository operations for the Shelfmark sync backend.
package db

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/shelfmark/shelfmark/backend/internal/models"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Repository methods that must run inside the push transaction take a
// Querier so the caller controls the transaction boundary.
type Querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Repository provides typed store operations for the sync engine.
// Frequently used read queries go through a prepared statement cache.
type Repository struct {
	db *DB

	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle for transaction management.
func (r *Repository) DB() *DB {
	return r.db
}

// PrepareStmt gets or creates a prepared statement from the cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// placeholders renders "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArgs(ids []models.UUID) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}
	return args
}

// =====================================================
// List operations
// =====================================================

const listColumns = `id, owner_id, title, description, list_type, settings, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanList(s rowScanner) (*models.List, error) {
	var l models.List
	var deletedAt sql.NullInt64
	err := s.Scan(&l.ID, &l.OwnerID, &l.Title, &l.Description, &l.ListType,
		&l.Settings, &l.CreatedAt, &l.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		l.DeletedAt = deletedAt.Int64
	}
	return &l, nil
}

// GetList retrieves a live list by ID.
func (r *Repository) GetList(id models.UUID) (*models.List, error) {
	query := `SELECT ` + listColumns + ` FROM lists WHERE id = ? AND deleted_at IS NULL`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanList(stmt.QueryRow(string(id)))
}

// GetListAny retrieves a list by ID regardless of soft-delete state,
// inside the caller's transaction.
func (r *Repository) GetListAny(q Querier, id models.UUID) (*models.List, error) {
	query := `SELECT ` + listColumns + ` FROM lists WHERE id = ?`
	return scanList(q.QueryRow(query, string(id)))
}

// ListsByIDs fetches live lists for the given ids, restricted to the
// caller's visible set. One query regardless of the number of ids.
func (r *Repository) ListsByIDs(q Querier, ids, visible []models.UUID) ([]*models.List, error) {
	if len(ids) == 0 || len(visible) == 0 {
		return nil, nil
	}
	query := `SELECT ` + listColumns + ` FROM lists
		WHERE deleted_at IS NULL
		AND id IN (` + placeholders(len(ids)) + `)
		AND id IN (` + placeholders(len(visible)) + `)`
	args := append(idArgs(ids), idArgs(visible)...)
	return r.queryLists(q, query, args...)
}

// VisibleLists fetches every live list in the visible set; used by the
// initial-snapshot pull mode.
func (r *Repository) VisibleLists(q Querier, visible []models.UUID) ([]*models.List, error) {
	if len(visible) == 0 {
		return nil, nil
	}
	query := `SELECT ` + listColumns + ` FROM lists
		WHERE deleted_at IS NULL AND id IN (` + placeholders(len(visible)) + `)`
	return r.queryLists(q, query, idArgs(visible)...)
}

func (r *Repository) queryLists(q Querier, query string, args ...interface{}) ([]*models.List, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lists []*models.List
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

// =====================================================
// ListItem operations
// =====================================================

const itemColumns = `id, list_id, owner_id, title, notes, item_type, sort_order, status, metadata,
	movie_detail_id, book_detail_id, track_detail_id, place_detail_id, created_at, updated_at, deleted_at`

func scanItem(s rowScanner) (*models.ListItem, error) {
	var it models.ListItem
	var deletedAt sql.NullInt64
	err := s.Scan(&it.ID, &it.ListID, &it.OwnerID, &it.Title, &it.Notes, &it.ItemType,
		&it.SortOrder, &it.Status, &it.Metadata,
		&it.MovieDetailID, &it.BookDetailID, &it.TrackDetailID, &it.PlaceDetailID,
		&it.CreatedAt, &it.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		it.DeletedAt = deletedAt.Int64
	}
	return &it, nil
}

// GetItem retrieves a live list item by ID.
func (r *Repository) GetItem(id models.UUID) (*models.ListItem, error) {
	query := `SELECT ` + itemColumns + ` FROM list_items WHERE id = ? AND deleted_at IS NULL`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanItem(stmt.QueryRow(string(id)))
}

// GetItemAny retrieves a list item regardless of soft-delete state,
// inside the caller's transaction.
func (r *Repository) GetItemAny(q Querier, id models.UUID) (*models.ListItem, error) {
	query := `SELECT ` + itemColumns + ` FROM list_items WHERE id = ?`
	return scanItem(q.QueryRow(query, string(id)))
}

// ItemsByIDs fetches live items for the given ids when their parent list
// is visible or the caller owns them directly.
func (r *Repository) ItemsByIDs(q Querier, ids, visibleLists []models.UUID, userID string) ([]*models.ListItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + itemColumns + ` FROM list_items
		WHERE deleted_at IS NULL
		AND id IN (` + placeholders(len(ids)) + `)
		AND (owner_id = ?`
	args := append(idArgs(ids), userID)
	if len(visibleLists) > 0 {
		query += ` OR list_id IN (` + placeholders(len(visibleLists)) + `)`
		args = append(args, idArgs(visibleLists)...)
	}
	query += `)`
	return r.queryItems(q, query, args...)
}

// VisibleItems fetches every live item under the visible lists; used by
// the initial-snapshot pull mode.
func (r *Repository) VisibleItems(q Querier, visibleLists []models.UUID, userID string) ([]*models.ListItem, error) {
	query := `SELECT ` + itemColumns + ` FROM list_items
		WHERE deleted_at IS NULL AND (owner_id = ?`
	args := []interface{}{userID}
	if len(visibleLists) > 0 {
		query += ` OR list_id IN (` + placeholders(len(visibleLists)) + `)`
		args = append(args, idArgs(visibleLists)...)
	}
	query += `)`
	return r.queryItems(q, query, args...)
}

func (r *Repository) queryItems(q Querier, query string, args ...interface{}) ([]*models.ListItem, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.ListItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// =====================================================
// Favorite operations
// =====================================================

const favoriteColumns = `id, user_id, target_id, target_type, created_at, updated_at, deleted_at`

func scanFavorite(s rowScanner) (*models.Favorite, error) {
	var f models.Favorite
	var deletedAt sql.NullInt64
	err := s.Scan(&f.ID, &f.UserID, &f.TargetID, &f.TargetType,
		&f.CreatedAt, &f.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		f.DeletedAt = deletedAt.Int64
	}
	return &f, nil
}

// FindFavorite resolves the single favorite row for a (user, target,
// type) triple, preferring a live row over a soft-deleted one. Returns
// nil when no row exists at all.
func (r *Repository) FindFavorite(q Querier, userID string, targetID models.UUID, targetType string) (*models.Favorite, error) {
	query := `SELECT ` + favoriteColumns + ` FROM favorites
		WHERE user_id = ? AND target_id = ? AND target_type = ?
		ORDER BY (deleted_at IS NULL) DESC, updated_at DESC
		LIMIT 1`
	f, err := scanFavorite(q.QueryRow(query, userID, string(targetID), targetType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

// GetFavoriteAny retrieves a favorite by ID regardless of soft-delete
// state, inside the caller's transaction.
func (r *Repository) GetFavoriteAny(q Querier, id models.UUID) (*models.Favorite, error) {
	query := `SELECT ` + favoriteColumns + ` FROM favorites WHERE id = ?`
	return scanFavorite(q.QueryRow(query, string(id)))
}

// InsertFavorite inserts a new favorite row.
func (r *Repository) InsertFavorite(q Querier, f *models.Favorite) error {
	query := `INSERT INTO favorites (id, user_id, target_id, target_type, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)`
	_, err := q.Exec(query, string(f.ID), f.UserID, string(f.TargetID), f.TargetType, f.CreatedAt, f.UpdatedAt)
	return err
}

// RestoreFavorite clears the soft-delete marker on a favorite.
func (r *Repository) RestoreFavorite(q Querier, id models.UUID, now int64) error {
	query := `UPDATE favorites SET deleted_at = NULL, updated_at = ? WHERE id = ?`
	_, err := q.Exec(query, now, string(id))
	return err
}

// SoftDeleteFavorite marks a favorite deleted.
func (r *Repository) SoftDeleteFavorite(q Querier, id models.UUID, now int64) (int64, error) {
	query := `UPDATE favorites SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`
	res, err := q.Exec(query, now, now, string(id))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FavoritesByIDs fetches the caller's live favorites for the given ids.
func (r *Repository) FavoritesByIDs(q Querier, ids []models.UUID, userID string) ([]*models.Favorite, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + favoriteColumns + ` FROM favorites
		WHERE deleted_at IS NULL AND user_id = ?
		AND id IN (` + placeholders(len(ids)) + `)`
	args := append([]interface{}{userID}, idArgs(ids)...)
	return r.queryFavorites(q, query, args...)
}

// UserFavorites fetches every live favorite of the user; used by the
// initial-snapshot pull mode.
func (r *Repository) UserFavorites(q Querier, userID string) ([]*models.Favorite, error) {
	query := `SELECT ` + favoriteColumns + ` FROM favorites
		WHERE deleted_at IS NULL AND user_id = ?`
	return r.queryFavorites(q, query, userID)
}

func (r *Repository) queryFavorites(q Querier, query string, args ...interface{}) ([]*models.Favorite, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var favorites []*models.Favorite
	for rows.Next() {
		f, err := scanFavorite(rows)
		if err != nil {
			return nil, err
		}
		favorites = append(favorites, f)
	}
	return favorites, rows.Err()
}

// =====================================================
// Change log operations
// =====================================================

// UpsertChangeLog records a mutation in sync_log. One row per
// (table_name, record_id); re-mutation replaces operation, snapshot, and
// timestamps instead of appending history. Must run inside the same
// transaction as the mutation.
func (r *Repository) UpsertChangeLog(q Querier, entry *models.ChangeLogEntry) error {
	query := `INSERT INTO sync_log (table_name, record_id, operation, change_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, record_id) DO UPDATE SET
			operation = excluded.operation,
			change_data = excluded.change_data,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`
	_, err := q.Exec(query, entry.TableName, string(entry.RecordID), entry.Operation,
		entry.ChangeData, entry.CreatedAt, entry.UpdatedAt)
	return err
}

// ChangesSince returns change log entries newer than the watermark, in
// chronological order, up to limit rows. The second return value reports
// whether more entries remain beyond the page. Runs on the caller's
// Querier so incremental pulls read from their snapshot transaction.
func (r *Repository) ChangesSince(q Querier, since int64, limit int) ([]*models.ChangeLogEntry, bool, error) {
	query := `SELECT table_name, record_id, operation, change_data, created_at, updated_at
		FROM sync_log WHERE created_at > ? ORDER BY created_at ASC LIMIT ?`

	rows, err := q.Query(query, since, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var entries []*models.ChangeLogEntry
	for rows.Next() {
		var e models.ChangeLogEntry
		if err := rows.Scan(&e.TableName, &e.RecordID, &e.Operation, &e.ChangeData, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, false, err
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	overflow := len(entries) > limit
	if overflow {
		entries = entries[:limit]
	}
	return entries, overflow, nil
}

// =====================================================
// Reservation operations
// =====================================================

// ActiveReservations fetches live reservations for the given items in a
// single query; used by the gift-item enrichment pass.
func (r *Repository) ActiveReservations(q Querier, itemIDs []models.UUID) ([]*models.Reservation, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	query := `SELECT id, item_id, user_id, status, created_at, updated_at, deleted_at
		FROM reservations
		WHERE deleted_at IS NULL AND status IN ('reserved', 'purchased')
		AND item_id IN (` + placeholders(len(itemIDs)) + `)`
	rows, err := q.Query(query, idArgs(itemIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reservations []*models.Reservation
	for rows.Next() {
		var res models.Reservation
		var deletedAt sql.NullInt64
		if err := rows.Scan(&res.ID, &res.ItemID, &res.UserID, &res.Status,
			&res.CreatedAt, &res.UpdatedAt, &deletedAt); err != nil {
			return nil, err
		}
		if deletedAt.Valid {
			res.DeletedAt = deletedAt.Int64
		}
		reservations = append(reservations, &res)
	}
	return reservations, rows.Err()
}

// =====================================================
// Embedding queue operations
// =====================================================

// UpsertEmbeddingPending queues (or re-queues) an entity for embedding
// generation by the external worker.
func (r *Repository) UpsertEmbeddingPending(entry *models.EmbeddingQueueEntry) error {
	query := `INSERT INTO embedding_queue (id, entity_id, entity_type, status, retry_count, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(entity_id, entity_type) DO UPDATE SET
			status = excluded.status,
			retry_count = 0,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`
	_, err := r.db.Exec(query, string(entry.ID), string(entry.EntityID), entry.EntityType,
		entry.Status, entry.Metadata, entry.CreatedAt, entry.UpdatedAt)
	return err
}

// DeactivateEmbedding marks an entity's embedding work item inactive.
// Zero affected rows is fine; there may never have been one.
func (r *Repository) DeactivateEmbedding(entityID models.UUID, entityType string, now int64) error {
	query := `UPDATE embedding_queue SET status = ?, updated_at = ? WHERE entity_id = ? AND entity_type = ?`
	_, err := r.db.Exec(query, models.EmbeddingStatusInactive, now, string(entityID), entityType)
	return err
}

// PendingEmbeddingCount reports queue depth for the status endpoint.
func (r *Repository) PendingEmbeddingCount() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM embedding_queue WHERE status = ?`, models.EmbeddingStatusPending).Scan(&n)
	return n, err
}
