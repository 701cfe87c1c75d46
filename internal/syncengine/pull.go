package syncengine

import (
	"context"

	apperrors "github.com/shelfmark/shelfmark/backend/internal/errors"
	"github.com/shelfmark/shelfmark/backend/internal/models"
)

// Pull assembles the delta a client needs to catch up from its
// watermark. A zero watermark means the client has nothing: it gets a
// full snapshot of everything it can currently see and no deletions.
// Any later watermark replays the change log instead.
//
// The whole pull reads from one transaction so a push landing midway
// cannot split the response across two database states.
func (e *Engine) Pull(ctx context.Context, userID string, watermark int64) (*PullResponse, error) {
	tx, err := e.repo.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to begin pull transaction", err)
	}
	defer tx.Rollback()

	serverTime := models.NowMillis()

	visibleIDs, err := e.resolver.VisibleListIDs(tx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to resolve visible lists", err)
	}
	visibleSet := make(map[models.UUID]bool, len(visibleIDs))
	for _, id := range visibleIDs {
		visibleSet[id] = true
	}

	resp := &PullResponse{
		Changes: map[string]*TableDiff{
			"lists":      newTableDiff(),
			"list_items": newTableDiff(),
			"favorites":  newTableDiff(),
		},
		Timestamp: serverTime,
	}

	if watermark == 0 {
		if err := e.assembleSnapshot(tx, userID, visibleIDs, resp); err != nil {
			return nil, err
		}
	} else {
		if err := e.assembleIncremental(tx, userID, watermark, visibleIDs, visibleSet, resp); err != nil {
			return nil, err
		}
	}

	if err := e.enrichDetails(tx, resp); err != nil {
		return nil, err
	}
	if err := e.enrichReservations(tx, userID, resp); err != nil {
		return nil, err
	}

	return resp, nil
}

// enrichDetails inlines each item's typed detail record under the same
// "detail" key clients upload it with. The foreign-key columns alone
// would point receiving devices at rows they have no way to fetch.
func (e *Engine) enrichDetails(q querier, resp *PullResponse) error {
	diff := resp.Changes["list_items"]
	if diff == nil {
		return nil
	}

	attach := func(wires []map[string]interface{}) error {
		for _, wire := range wires {
			spec := detailSpecFor(stringValue(wire, "item_type"))
			if spec == nil {
				continue
			}
			fk := stringValue(wire, spec.FKColumn)
			if fk == "" {
				continue
			}
			detail, err := readDetailRecord(q, spec, fk)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "detail record fetch failed", err)
			}
			if detail != nil {
				wire["detail"] = detail
			}
		}
		return nil
	}

	if err := attach(diff.Created); err != nil {
		return err
	}
	return attach(diff.Updated)
}

// assembleSnapshot loads the caller's full visible dataset. The change
// log is not consulted: deletions are meaningless to a client that
// holds nothing yet.
func (e *Engine) assembleSnapshot(q querier, userID string, visible []models.UUID, resp *PullResponse) error {
	lists, err := e.repo.VisibleLists(q, visible)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "snapshot list fetch failed", err)
	}
	for _, l := range lists {
		resp.Changes["lists"].Created = append(resp.Changes["lists"].Created, l.ToWire())
	}

	items, err := e.repo.VisibleItems(q, visible, userID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "snapshot item fetch failed", err)
	}
	for _, it := range items {
		resp.Changes["list_items"].Created = append(resp.Changes["list_items"].Created, it.ToWire())
	}

	favs, err := e.repo.UserFavorites(q, userID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "snapshot favorite fetch failed", err)
	}
	for _, f := range favs {
		resp.Changes["favorites"].Created = append(resp.Changes["favorites"].Created, f.ToWire())
	}

	return nil
}

// assembleIncremental replays one change-log page past the watermark.
// Each referenced record is re-read at its current state, so a client
// always converges on what the server holds now, not on the historical
// intermediate states.
func (e *Engine) assembleIncremental(q querier, userID string, watermark int64, visible []models.UUID, visibleSet map[models.UUID]bool, resp *PullResponse) error {
	entries, overflow, err := e.repo.ChangesSince(q, watermark, e.pullPageSize)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "change log read failed", err)
	}

	if overflow {
		// Resume point is the last entry this page did include.
		resp.HasMore = true
		resp.Timestamp = entries[len(entries)-1].CreatedAt
	}

	groups := groupChanges(entries)
	rows, err := e.fetchBatch(q, groups, visible, userID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "batch record fetch failed", err)
	}

	for _, entry := range groups.upserts["lists"] {
		if l, ok := rows.lists[entry.RecordID]; ok {
			appendWire(resp.Changes["lists"], l.ToWire(), l.CreatedAt > watermark)
			continue
		}
		appendFallback(resp.Changes["lists"], entry, userID, visibleSet, watermark)
	}
	for _, entry := range groups.upserts["list_items"] {
		if it, ok := rows.items[entry.RecordID]; ok {
			appendWire(resp.Changes["list_items"], it.ToWire(), it.CreatedAt > watermark)
			continue
		}
		appendFallback(resp.Changes["list_items"], entry, userID, visibleSet, watermark)
	}
	for _, entry := range groups.upserts["favorites"] {
		if f, ok := rows.favorites[entry.RecordID]; ok {
			appendWire(resp.Changes["favorites"], f.ToWire(), f.CreatedAt > watermark)
			continue
		}
		appendFallback(resp.Changes["favorites"], entry, userID, visibleSet, watermark)
	}

	for table, dels := range groups.deletes {
		diff, ok := resp.Changes[table]
		if !ok {
			continue
		}
		for _, entry := range dels {
			if deleteVisible(entry, userID, visibleSet) {
				diff.Deleted = append(diff.Deleted, entry.RecordID.String())
			}
		}
	}

	return e.attachParentStubs(q, visible, rows, resp)
}

func appendWire(diff *TableDiff, wire map[string]interface{}, created bool) {
	if created {
		diff.Created = append(diff.Created, wire)
		return
	}
	diff.Updated = append(diff.Updated, wire)
}

// appendFallback emits the change_data snapshot for an upsert whose row
// could not be read back, so the record is not silently dropped from
// the window.
func appendFallback(diff *TableDiff, entry *models.ChangeLogEntry, userID string, visible map[models.UUID]bool, watermark int64) {
	wire := upsertFallback(entry, userID, visible)
	if wire == nil {
		return
	}
	createdAt, _ := normalizeEpochMillis(wire["created_at"])
	appendWire(diff, wire, createdAt > watermark)
}

// attachParentStubs backfills parent lists for items whose list did not
// itself change in this window. Without it a client that gained access
// through a new item would hold an orphan row.
func (e *Engine) attachParentStubs(q querier, visible []models.UUID, rows *fetchedRows, resp *PullResponse) error {
	missing := make(map[models.UUID]bool)
	for _, it := range rows.items {
		if _, have := rows.lists[it.ListID]; !have {
			missing[it.ListID] = true
		}
	}
	if len(missing) == 0 {
		return nil
	}

	ids := make([]models.UUID, 0, len(missing))
	for id := range missing {
		ids = append(ids, id)
	}
	parents, err := e.repo.ListsByIDs(q, ids, visible)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "parent list fetch failed", err)
	}
	for _, l := range parents {
		resp.Changes["lists"].Updated = append(resp.Changes["lists"].Updated, l.ToWire())
	}
	return nil
}

// enrichReservations annotates gift items with their reservation state,
// except for the item's own owner. The owner must not learn whether a
// gift has been claimed.
func (e *Engine) enrichReservations(q querier, userID string, resp *PullResponse) error {
	diff := resp.Changes["list_items"]
	if diff == nil {
		return nil
	}

	eligible := make(map[models.UUID]map[string]interface{})
	collect := func(wires []map[string]interface{}) {
		for _, wire := range wires {
			if stringValue(wire, "item_type") != string(models.ListTypeGift) {
				continue
			}
			if stringValue(wire, "owner_id") == userID {
				continue
			}
			id := models.UUID(stringValue(wire, "id"))
			if id != "" {
				eligible[id] = wire
			}
		}
	}
	collect(diff.Created)
	collect(diff.Updated)

	if len(eligible) == 0 {
		return nil
	}

	ids := make([]models.UUID, 0, len(eligible))
	for id := range eligible {
		ids = append(ids, id)
	}
	reservations, err := e.repo.ActiveReservations(q, ids)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "reservation fetch failed", err)
	}
	for _, r := range reservations {
		if wire, ok := eligible[r.ItemID]; ok {
			wire["reservation_status"] = r.Status
			if r.UserID == userID {
				wire["reserved_by_me"] = true
			}
		}
	}
	return nil
}
