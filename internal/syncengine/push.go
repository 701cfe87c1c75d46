// Package syncengine implements the Shelfmark sync protocol.
package syncengine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/shelfmark/shelfmark/backend/internal/db"
	apperrors "github.com/shelfmark/shelfmark/backend/internal/errors"
	"github.com/shelfmark/shelfmark/backend/internal/logging"
	"github.com/shelfmark/shelfmark/backend/internal/models"
)

// sideEffect is an embedding notification deferred until after commit,
// so a rollback never leaves queue entries for data that doesn't exist.
type sideEffect struct {
	entityID   models.UUID
	entityType string
	metadata   map[string]interface{}
	deactivate bool
}

// pushState carries per-push context through the dispatch helpers.
type pushState struct {
	ctx    context.Context
	tx     *sql.Tx
	userID string

	// visible memoizes the resolver result for parent-list checks.
	visible       map[models.UUID]bool
	visibleLoaded bool

	effects []sideEffect
}

// Push applies an ordered batch of client mutations for one user inside
// a single all-or-nothing transaction. The returned result carries one
// entry per change item; when the transaction rolled back, Success is
// false and the entries are advisory only. Envelope validation happens
// before any store access.
func (e *Engine) Push(ctx context.Context, userID string, changes []ChangeItem) (*PushResult, error) {
	for i := range changes {
		if err := changes[i].Validate(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrSyncBadEnvelope,
				fmt.Sprintf("change %d is malformed", i), err)
		}
	}

	sorted := sortChanges(changes)

	tx, err := e.repo.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to begin push transaction", err)
	}
	defer tx.Rollback()

	p := &pushState{ctx: ctx, tx: tx, userID: userID}

	results := make([]ItemResult, 0, len(sorted))
	for _, c := range sorted {
		res, err := e.apply(p, c)
		if err != nil {
			wrapped := apperrors.Wrap(apperrors.ErrSyncFailed, "push transaction rolled back", err)
			return &PushResult{
				Success: false,
				Results: results,
				Message: wrapped.Error(),
			}, wrapped
		}
		results = append(results, res)
	}

	if err := tx.Commit(); err != nil {
		wrapped := apperrors.Wrap(apperrors.ErrDatabase, "failed to commit push transaction", err)
		return &PushResult{Success: false, Results: results, Message: wrapped.Error()}, wrapped
	}

	e.flushSideEffects(ctx, p.effects)

	return &PushResult{Success: true, Results: results}, nil
}

// flushSideEffects fires embedding notifications after commit. Failures
// are logged and swallowed; they must never fail a sync call.
func (e *Engine) flushSideEffects(ctx context.Context, effects []sideEffect) {
	for _, se := range effects {
		var err error
		if se.deactivate {
			err = e.notifier.Deactivate(ctx, se.entityID, se.entityType)
		} else {
			err = e.notifier.Enqueue(ctx, se.entityID, se.entityType, se.metadata)
		}
		if err != nil {
			logging.Warn("embedding notification failed", map[string]interface{}{
				"entity_id":   se.entityID.String(),
				"entity_type": se.entityType,
				"error":       err.Error(),
			})
		}
	}
}

// apply dispatches one change item by (table, operation). A returned
// error is unrecoverable and rolls back the whole push; recoverable
// conditions surface as per-item statuses.
func (e *Engine) apply(p *pushState, c ChangeItem) (ItemResult, error) {
	switch c.Operation {
	case OpBatchReorder:
		return e.applyBatchReorder(p, c)
	case OpBatchFavorites:
		return e.applyBatchFavorites(p, c)
	}

	schema := e.registry.Lookup(c.TableName)
	if schema == nil {
		return ItemResult{
			ClientRecordID: c.recordID(),
			Status:         StatusWarning,
			Error:          fmt.Sprintf("table %s is not syncable", c.TableName),
		}, nil
	}

	switch c.Operation {
	case OpCreate:
		return e.applyCreate(p, schema, c)
	case OpUpdate:
		return e.applyUpdate(p, schema, c)
	case OpDelete:
		return e.applyDelete(p, schema, c)
	}
	// unreachable, Validate restricts operations
	return ItemResult{Status: StatusError, Error: "unknown operation"}, nil
}

// =====================================================
// create
// =====================================================

func (e *Engine) applyCreate(p *pushState, schema *db.TableSchema, c ChangeItem) (ItemResult, error) {
	idStr := stringValue(c.Payload, "id")
	if idStr == "" {
		return ItemResult{Status: StatusError, Error: "create requires a client-assigned id"}, nil
	}
	if err := models.ValidateID(idStr); err != nil {
		return ItemResult{ClientRecordID: idStr, Status: StatusError, Error: err.Error()}, nil
	}
	id := models.UUID(idStr)

	// Favorites funnel through the single-live-row resolution no matter
	// which operation shape the client used.
	if schema.Name == "favorites" {
		return e.favoriteAdd(p, c.Payload, id)
	}

	payload := make(map[string]interface{}, len(c.Payload))
	for k, v := range c.Payload {
		payload[k] = v
	}

	// The optional detail object is not a column; pull it out before
	// schema filtering.
	var detail map[string]interface{}
	if schema.Name == "list_items" {
		detail, _ = payload["detail"].(map[string]interface{})
		delete(payload, "detail")
	}

	filtered, dropped := schema.FilterPayload(payload)
	if len(dropped) > 0 {
		logging.Warn("dropping unknown fields from create payload", map[string]interface{}{
			"table":  schema.Name,
			"fields": dropped,
		})
	}

	if res, fatal := e.normalizeWritePayload(schema, filtered); fatal != nil {
		return res, nil
	}

	now := models.NowMillis()
	createdAt, updatedAt := resolveCreateTimestamps(filtered, now)
	filtered["created_at"] = createdAt
	filtered["updated_at"] = updatedAt
	delete(filtered, "deleted_at")
	filtered["id"] = idStr
	filtered["owner_id"] = p.userID

	var kind string
	switch schema.Name {
	case "lists":
		existing, err := e.repo.GetListAny(p.tx, id)
		if err != nil && err != sql.ErrNoRows {
			return ItemResult{}, err
		}
		if existing != nil {
			if existing.OwnerID != p.userID {
				return denied(idStr, "list belongs to another user"), nil
			}
			return e.overwriteExisting(p, schema, id, filtered, existing.IsDeleted())
		}

	case "list_items":
		listIDStr := stringValue(filtered, "list_id")
		if listIDStr == "" {
			return ItemResult{ClientRecordID: idStr, Status: StatusError, Error: "list_item create requires list_id"}, nil
		}
		parent, err := e.repo.GetListAny(p.tx, models.UUID(listIDStr))
		if err == sql.ErrNoRows {
			return ItemResult{ClientRecordID: idStr, Status: StatusError, Error: "parent list not found"}, nil
		}
		if err != nil {
			return ItemResult{}, err
		}
		if parent.IsDeleted() {
			return ItemResult{ClientRecordID: idStr, Status: StatusError, Error: "parent list is deleted"}, nil
		}
		if parent.OwnerID != p.userID {
			ok, err := p.canSee(e, models.UUID(listIDStr))
			if err != nil {
				return ItemResult{}, err
			}
			if !ok {
				return denied(idStr, "no access to parent list"), nil
			}
		}

		// Source kind: explicit tag on the item, else inherited from
		// the parent list's type.
		kind = stringValue(filtered, "item_type")
		if kind == "" {
			kind = parent.ListType
			filtered["item_type"] = kind
		}

		existing, err := e.repo.GetItemAny(p.tx, id)
		if err != nil && err != sql.ErrNoRows {
			return ItemResult{}, err
		}
		if existing != nil {
			if existing.OwnerID != p.userID {
				return denied(idStr, "item belongs to another user"), nil
			}
			return e.overwriteExisting(p, schema, id, filtered, existing.IsDeleted())
		}
	}

	if err := e.insertRow(p.tx, schema.Name, filtered); err != nil {
		return ItemResult{}, err
	}

	// Lazily create the typed detail record and patch the foreign key
	// back onto the item.
	if schema.Name == "list_items" {
		if spec := detailSpecFor(kind); spec != nil {
			detailID, err := createDetailRecord(p.tx, spec, detail, stringValue(filtered, "title"))
			if err != nil {
				return ItemResult{}, err
			}
			query := "UPDATE list_items SET " + spec.FKColumn + " = ? WHERE id = ?"
			if _, err := p.tx.Exec(query, string(detailID), idStr); err != nil {
				return ItemResult{}, err
			}
		}
	}

	if err := e.recordChange(p.tx, schema.Name, id, "create"); err != nil {
		return ItemResult{}, err
	}

	if et := entityTypeForTable(schema.Name); et != "" {
		p.effects = append(p.effects, sideEffect{
			entityID:   id,
			entityType: et,
			metadata: map[string]interface{}{
				"table": schema.Name,
				"title": stringValue(filtered, "title"),
			},
		})
	}

	return ItemResult{ClientRecordID: idStr, Status: StatusCreated, ServerID: idStr}, nil
}

// overwriteExisting handles create-on-existing-id: last write wins, so
// the create is applied as a full update that also clears any
// soft-delete marker.
func (e *Engine) overwriteExisting(p *pushState, schema *db.TableSchema, id models.UUID, filtered map[string]interface{}, wasDeleted bool) (ItemResult, error) {
	set := schema.StripImmutable(filtered)
	set["updated_at"] = filtered["updated_at"]

	cols := sortedKeys(set)
	query := "UPDATE " + schema.Name + " SET deleted_at = NULL"
	args := make([]interface{}, 0, len(cols)+1)
	for _, col := range cols {
		query += ", " + col + " = ?"
		args = append(args, set[col])
	}
	query += " WHERE id = ?"
	args = append(args, string(id))

	if _, err := p.tx.Exec(query, args...); err != nil {
		return ItemResult{}, err
	}

	if err := e.recordChange(p.tx, schema.Name, id, "update"); err != nil {
		return ItemResult{}, err
	}

	if et := entityTypeForTable(schema.Name); et != "" {
		p.effects = append(p.effects, sideEffect{entityID: id, entityType: et,
			metadata: map[string]interface{}{"table": schema.Name}})
	}

	status := StatusUpdated
	if wasDeleted {
		status = StatusRestored
	}
	return ItemResult{ClientRecordID: id.String(), Status: status, ServerID: id.String()}, nil
}

// =====================================================
// update
// =====================================================

func (e *Engine) applyUpdate(p *pushState, schema *db.TableSchema, c ChangeItem) (ItemResult, error) {
	idStr := c.recordID()
	id := models.UUID(idStr)

	res, exists, err := e.checkOwnership(p, schema.Name, id)
	if err != nil {
		return ItemResult{}, err
	}
	if !exists || res.Status == StatusDenied {
		return res, nil
	}

	filtered, dropped := schema.FilterPayload(c.Payload)
	if len(dropped) > 0 {
		logging.Warn("dropping unknown fields from update payload", map[string]interface{}{
			"table":  schema.Name,
			"fields": dropped,
		})
	}
	set := schema.StripImmutable(filtered)

	if r, fatal := e.normalizeWritePayload(schema, set); fatal != nil {
		return r, nil
	}

	// Auto-stamp updated_at unless the client supplied its own.
	if v, ok := set["updated_at"]; ok {
		if ms, ok2 := normalizeEpochMillis(v); ok2 {
			set["updated_at"] = ms
		} else {
			set["updated_at"] = models.NowMillis()
		}
	} else {
		set["updated_at"] = models.NowMillis()
	}

	if len(set) == 1 { // only updated_at
		return ItemResult{ClientRecordID: idStr, Status: StatusWarning, Error: "no updatable fields in payload"}, nil
	}

	cols := sortedKeys(set)
	query := "UPDATE " + schema.Name + " SET "
	args := make([]interface{}, 0, len(cols)+1)
	for i, col := range cols {
		if i > 0 {
			query += ", "
		}
		query += col + " = ?"
		args = append(args, set[col])
	}
	query += " WHERE id = ? AND deleted_at IS NULL"
	args = append(args, idStr)

	result, err := p.tx.Exec(query, args...)
	if err != nil {
		return ItemResult{}, err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ItemResult{ClientRecordID: idStr, Status: StatusWarning, Error: "record not found or deleted"}, nil
	}

	if err := e.recordChange(p.tx, schema.Name, id, "update"); err != nil {
		return ItemResult{}, err
	}

	if et := entityTypeForTable(schema.Name); et != "" {
		p.effects = append(p.effects, sideEffect{entityID: id, entityType: et,
			metadata: map[string]interface{}{"table": schema.Name}})
	}

	return ItemResult{ClientRecordID: idStr, Status: StatusUpdated, ServerID: idStr}, nil
}

// =====================================================
// delete
// =====================================================

func (e *Engine) applyDelete(p *pushState, schema *db.TableSchema, c ChangeItem) (ItemResult, error) {
	idStr := c.recordID()
	id := models.UUID(idStr)

	res, exists, err := e.checkOwnership(p, schema.Name, id)
	if err != nil {
		return ItemResult{}, err
	}
	if !exists || res.Status == StatusDenied {
		return res, nil
	}

	now := models.NowMillis()
	query := "UPDATE " + schema.Name + " SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL"
	result, err := p.tx.Exec(query, now, now, idStr)
	if err != nil {
		return ItemResult{}, err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		// Already deleted; not a hard failure.
		return ItemResult{ClientRecordID: idStr, Status: StatusWarning, Error: "record already deleted"}, nil
	}

	if err := e.recordChange(p.tx, schema.Name, id, "delete"); err != nil {
		return ItemResult{}, err
	}

	if et := entityTypeForTable(schema.Name); et != "" {
		p.effects = append(p.effects, sideEffect{entityID: id, entityType: et, deactivate: true})
	}

	return ItemResult{ClientRecordID: idStr, Status: StatusDeleted, ServerID: idStr}, nil
}

// =====================================================
// batch_reorder
// =====================================================

func (e *Engine) applyBatchReorder(p *pushState, c ChangeItem) (ItemResult, error) {
	raw, _ := c.Payload["items"].([]interface{})
	if len(raw) == 0 {
		return ItemResult{Status: StatusError, Error: "batch_reorder requires an items array"}, nil
	}

	now := models.NowMillis()
	missing := 0
	for _, entry := range raw {
		m, ok := entry.(map[string]interface{})
		if !ok {
			missing++
			continue
		}
		idStr := stringValue(m, "id")
		if idStr == "" {
			missing++
			continue
		}
		if _, ok := m["sort_order"]; !ok {
			missing++
			continue
		}
		sortOrder := intFromAny(m["sort_order"])

		result, err := p.tx.Exec(
			`UPDATE list_items SET sort_order = ?, updated_at = ? WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`,
			sortOrder, now, idStr, p.userID)
		if err != nil {
			return ItemResult{}, err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			logging.Warn("batch_reorder target missing", map[string]interface{}{"id": idStr})
			missing++
			continue
		}
		if err := e.recordChange(p.tx, "list_items", models.UUID(idStr), "update"); err != nil {
			return ItemResult{}, err
		}
	}

	if missing > 0 {
		return ItemResult{Status: StatusWarning, Error: fmt.Sprintf("%d of %d reorder targets missing", missing, len(raw))}, nil
	}
	return ItemResult{Status: StatusReordered}, nil
}

// =====================================================
// batch_favorites
// =====================================================

func (e *Engine) applyBatchFavorites(p *pushState, c ChangeItem) (ItemResult, error) {
	raw, _ := c.Payload["favorites"].([]interface{})
	if len(raw) == 0 {
		return ItemResult{Status: StatusError, Error: "batch_favorites requires a favorites array"}, nil
	}

	warnings := 0
	for _, entry := range raw {
		m, ok := entry.(map[string]interface{})
		if !ok {
			warnings++
			continue
		}
		switch stringValue(m, "action") {
		case "add":
			res, err := e.favoriteAdd(p, m, "")
			if err != nil {
				return ItemResult{}, err
			}
			if res.Status == StatusError || res.Status == StatusWarning {
				warnings++
			}
		case "delete":
			res, err := e.favoriteDelete(p, m)
			if err != nil {
				return ItemResult{}, err
			}
			if res.Status == StatusWarning {
				warnings++
			}
		default:
			warnings++
		}
	}

	if warnings > 0 {
		return ItemResult{Status: StatusWarning, Error: fmt.Sprintf("%d of %d favorite actions skipped", warnings, len(raw))}, nil
	}
	return ItemResult{Status: StatusUpdated}, nil
}

// favoriteAdd resolves an add against current store state: an active
// duplicate is a no-op, a soft-deleted duplicate is restored, otherwise
// a new row is inserted. Exactly one live row can exist afterward.
func (e *Engine) favoriteAdd(p *pushState, payload map[string]interface{}, explicitID models.UUID) (ItemResult, error) {
	targetStr := stringValue(payload, "target_id")
	if targetStr == "" {
		return ItemResult{Status: StatusError, Error: "favorite add requires target_id"}, nil
	}
	targetType := stringValue(payload, "target_type")
	if targetType == "" {
		targetType = models.FavoriteTargetItem
	}
	targetID := models.UUID(targetStr)

	existing, err := e.repo.FindFavorite(p.tx, p.userID, targetID, targetType)
	if err != nil {
		return ItemResult{}, err
	}

	switch {
	case existing != nil && !existing.IsDeleted():
		return ItemResult{ClientRecordID: existing.ID.String(), Status: StatusNoop, ServerID: existing.ID.String()}, nil

	case existing != nil:
		now := models.NowMillis()
		if err := e.repo.RestoreFavorite(p.tx, existing.ID, now); err != nil {
			return ItemResult{}, err
		}
		if err := e.recordChange(p.tx, "favorites", existing.ID, "update"); err != nil {
			return ItemResult{}, err
		}
		p.effects = append(p.effects, sideEffect{entityID: existing.ID, entityType: "favorite",
			metadata: map[string]interface{}{"target_id": targetStr, "target_type": targetType}})
		return ItemResult{ClientRecordID: existing.ID.String(), Status: StatusRestored, ServerID: existing.ID.String()}, nil
	}

	id := explicitID
	if id == "" {
		id = models.NewID()
	}
	now := models.NowMillis()
	fav := &models.Favorite{
		ID:         id,
		UserID:     p.userID,
		TargetID:   targetID,
		TargetType: targetType,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.repo.InsertFavorite(p.tx, fav); err != nil {
		return ItemResult{}, err
	}
	if err := e.recordChange(p.tx, "favorites", id, "create"); err != nil {
		return ItemResult{}, err
	}
	p.effects = append(p.effects, sideEffect{entityID: id, entityType: "favorite",
		metadata: map[string]interface{}{"target_id": targetStr, "target_type": targetType}})
	return ItemResult{ClientRecordID: id.String(), Status: StatusCreated, ServerID: id.String()}, nil
}

// favoriteDelete soft-deletes by id or by target triple.
func (e *Engine) favoriteDelete(p *pushState, payload map[string]interface{}) (ItemResult, error) {
	now := models.NowMillis()

	var target *models.Favorite
	var err error
	if idStr := stringValue(payload, "id"); idStr != "" {
		target, err = e.repo.GetFavoriteAny(p.tx, models.UUID(idStr))
		if err == sql.ErrNoRows {
			target, err = nil, nil
		}
	} else if targetStr := stringValue(payload, "target_id"); targetStr != "" {
		targetType := stringValue(payload, "target_type")
		if targetType == "" {
			targetType = models.FavoriteTargetItem
		}
		target, err = e.repo.FindFavorite(p.tx, p.userID, models.UUID(targetStr), targetType)
	}
	if err != nil {
		return ItemResult{}, err
	}
	if target == nil {
		return ItemResult{Status: StatusWarning, Error: "favorite not found"}, nil
	}
	if target.UserID != p.userID {
		return denied(target.ID.String(), "favorite belongs to another user"), nil
	}

	affected, err := e.repo.SoftDeleteFavorite(p.tx, target.ID, now)
	if err != nil {
		return ItemResult{}, err
	}
	if affected == 0 {
		return ItemResult{ClientRecordID: target.ID.String(), Status: StatusWarning, Error: "favorite already deleted"}, nil
	}

	if err := e.recordChange(p.tx, "favorites", target.ID, "delete"); err != nil {
		return ItemResult{}, err
	}
	p.effects = append(p.effects, sideEffect{entityID: target.ID, entityType: "favorite", deactivate: true})

	return ItemResult{ClientRecordID: target.ID.String(), Status: StatusDeleted, ServerID: target.ID.String()}, nil
}

// =====================================================
// shared helpers
// =====================================================

// checkOwnership fetches the target row and verifies the caller may
// mutate it. Missing rows are a warning, not a failure; foreign rows
// are denied.
func (e *Engine) checkOwnership(p *pushState, table string, id models.UUID) (ItemResult, bool, error) {
	var owner string
	var err error

	switch table {
	case "lists":
		var l *models.List
		l, err = e.repo.GetListAny(p.tx, id)
		if l != nil {
			owner = l.OwnerID
		}
	case "list_items":
		var it *models.ListItem
		it, err = e.repo.GetItemAny(p.tx, id)
		if it != nil {
			owner = it.OwnerID
		}
	case "favorites":
		var f *models.Favorite
		f, err = e.repo.GetFavoriteAny(p.tx, id)
		if f != nil {
			owner = f.UserID
		}
	default:
		return ItemResult{ClientRecordID: id.String(), Status: StatusWarning, Error: "table not syncable"}, false, nil
	}

	if err == sql.ErrNoRows {
		return ItemResult{ClientRecordID: id.String(), Status: StatusWarning, Error: "record not found"}, false, nil
	}
	if err != nil {
		return ItemResult{}, false, err
	}
	if owner != p.userID {
		return denied(id.String(), "record belongs to another user"), true, nil
	}
	return ItemResult{}, true, nil
}

// normalizeWritePayload re-serializes JSON-typed columns in place. The
// returned result is only meaningful when fatal is non-nil.
func (e *Engine) normalizeWritePayload(schema *db.TableSchema, payload map[string]interface{}) (ItemResult, error) {
	for col := range schema.JSONCols {
		v, ok := payload[col]
		if !ok {
			continue
		}
		s, err := reserializeJSON(v)
		if err != nil {
			return ItemResult{Status: StatusError, Error: err.Error()}, err
		}
		payload[col] = s
	}
	return ItemResult{}, nil
}

// resolveCreateTimestamps normalizes client timestamps, defaulting to
// now and enforcing created_at <= updated_at.
func resolveCreateTimestamps(payload map[string]interface{}, now int64) (int64, int64) {
	createdAt := now
	if v, ok := payload["created_at"]; ok {
		if ms, ok2 := normalizeEpochMillis(v); ok2 {
			createdAt = ms
		}
	}
	updatedAt := createdAt
	if v, ok := payload["updated_at"]; ok {
		if ms, ok2 := normalizeEpochMillis(v); ok2 {
			updatedAt = ms
		}
	}
	if updatedAt < createdAt {
		updatedAt = createdAt
	}
	return createdAt, updatedAt
}

// insertRow builds a dynamic column-list INSERT from the filtered
// payload. Column names come from the schema registry, never from raw
// client input.
func (e *Engine) insertRow(q querier, table string, payload map[string]interface{}) error {
	cols := sortedKeys(payload)
	args := make([]interface{}, 0, len(cols))
	for _, col := range cols {
		args = append(args, payload[col])
	}
	query := "INSERT INTO " + table + " (" + joinColumns(cols) + ") VALUES (" + placeholderList(len(cols)) + ")"
	_, err := q.Exec(query, args...)
	return err
}

// recordChange upserts the change-log row for a mutation, with a fresh
// wire snapshot of the record as the embedded fallback.
func (e *Engine) recordChange(q querier, table string, id models.UUID, operation string) error {
	now := models.NowMillis()
	wire, err := e.wireRow(q, table, id)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	return e.repo.UpsertChangeLog(q, &models.ChangeLogEntry{
		TableName:  table,
		RecordID:   id,
		Operation:  operation,
		ChangeData: snapshotJSON(wire),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// wireRow renders the current state of a record as a wire map.
func (e *Engine) wireRow(q querier, table string, id models.UUID) (map[string]interface{}, error) {
	switch table {
	case "lists":
		l, err := e.repo.GetListAny(q, id)
		if err != nil {
			return nil, err
		}
		return l.ToWire(), nil
	case "list_items":
		it, err := e.repo.GetItemAny(q, id)
		if err != nil {
			return nil, err
		}
		return it.ToWire(), nil
	case "favorites":
		f, err := e.repo.GetFavoriteAny(q, id)
		if err != nil {
			return nil, err
		}
		return f.ToWire(), nil
	}
	return nil, nil
}

func (p *pushState) canSee(e *Engine, listID models.UUID) (bool, error) {
	if !p.visibleLoaded {
		ids, err := e.resolver.VisibleListIDs(p.tx, p.userID)
		if err != nil {
			return false, err
		}
		p.visible = make(map[models.UUID]bool, len(ids))
		for _, id := range ids {
			p.visible[id] = true
		}
		p.visibleLoaded = true
	}
	return p.visible[listID], nil
}

func denied(id, reason string) ItemResult {
	return ItemResult{ClientRecordID: id, Status: StatusDenied, Error: reason}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func intFromAny(v interface{}) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	}
	return 0
}
