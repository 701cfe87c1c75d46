package syncengine

import (
	"encoding/json"

	"github.com/shelfmark/shelfmark/backend/internal/models"
)

// changeGroups splits a change-log page into per-table upsert and
// delete entries. Both sides keep their full log row: for deletes the
// embedded record snapshot is the only thing left to filter visibility
// on, and for upserts it is the fallback when the row itself can no
// longer be read back.
type changeGroups struct {
	upserts map[string][]*models.ChangeLogEntry
	deletes map[string][]*models.ChangeLogEntry
}

func groupChanges(entries []*models.ChangeLogEntry) *changeGroups {
	g := &changeGroups{
		upserts: make(map[string][]*models.ChangeLogEntry),
		deletes: make(map[string][]*models.ChangeLogEntry),
	}
	for _, entry := range entries {
		if entry.Operation == "delete" {
			g.deletes[entry.TableName] = append(g.deletes[entry.TableName], entry)
			continue
		}
		g.upserts[entry.TableName] = append(g.upserts[entry.TableName], entry)
	}
	return g
}

func entryIDs(entries []*models.ChangeLogEntry) []models.UUID {
	ids := make([]models.UUID, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.RecordID)
	}
	return ids
}

// fetchedRows holds the current state of every record referenced by an
// upsert log entry, fetched in one query per table and already filtered
// to what the caller may see.
type fetchedRows struct {
	lists     map[models.UUID]*models.List
	items     map[models.UUID]*models.ListItem
	favorites map[models.UUID]*models.Favorite
}

// fetchBatch loads records for the grouped upserts. Records the caller
// cannot see, and records soft-deleted since the log entry was written,
// simply come back absent.
func (e *Engine) fetchBatch(q querier, g *changeGroups, visible []models.UUID, userID string) (*fetchedRows, error) {
	out := &fetchedRows{
		lists:     make(map[models.UUID]*models.List),
		items:     make(map[models.UUID]*models.ListItem),
		favorites: make(map[models.UUID]*models.Favorite),
	}

	if entries := g.upserts["lists"]; len(entries) > 0 {
		lists, err := e.repo.ListsByIDs(q, entryIDs(entries), visible)
		if err != nil {
			return nil, err
		}
		for _, l := range lists {
			out.lists[l.ID] = l
		}
	}

	if entries := g.upserts["list_items"]; len(entries) > 0 {
		items, err := e.repo.ItemsByIDs(q, entryIDs(entries), visible, userID)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			out.items[it.ID] = it
		}
	}

	if entries := g.upserts["favorites"]; len(entries) > 0 {
		favs, err := e.repo.FavoritesByIDs(q, entryIDs(entries), userID)
		if err != nil {
			return nil, err
		}
		for _, f := range favs {
			out.favorites[f.ID] = f
		}
	}

	return out, nil
}

// deleteVisible decides, best effort, whether a delete entry concerns a
// record the caller could have held. The record row is gone for the
// purpose of access checks, so the embedded change_data snapshot stands
// in for it. An unreadable snapshot errs on the side of sending the
// delete: clients ignore ids they never had.
func deleteVisible(entry *models.ChangeLogEntry, userID string, visible map[models.UUID]bool) bool {
	if entry.ChangeData == "" {
		return true
	}
	var snap map[string]interface{}
	if err := json.Unmarshal([]byte(entry.ChangeData), &snap); err != nil {
		return true
	}
	return snapshotConcerns(entry.TableName, entry.RecordID, snap, userID, visible)
}

// upsertFallback reconstructs a wire record from the log entry's
// change_data snapshot when the row is absent from the batch results,
// typically because it was removed outright between the log write and
// this pull. The snapshot passes the same owner and visibility checks a
// live row would. Without a readable passing snapshot nothing is sent:
// unlike deletes, a record that cannot be verified must not leak.
func upsertFallback(entry *models.ChangeLogEntry, userID string, visible map[models.UUID]bool) map[string]interface{} {
	if entry.ChangeData == "" {
		return nil
	}
	var snap map[string]interface{}
	if err := json.Unmarshal([]byte(entry.ChangeData), &snap); err != nil {
		return nil
	}
	if !snapshotConcerns(entry.TableName, entry.RecordID, snap, userID, visible) {
		return nil
	}
	return snap
}

// snapshotConcerns applies the per-table owner and visibility rules to
// a change_data snapshot standing in for its record row.
func snapshotConcerns(table string, recordID models.UUID, snap map[string]interface{}, userID string, visible map[models.UUID]bool) bool {
	switch table {
	case "lists":
		if owner, ok := snap["owner_id"].(string); ok && owner == userID {
			return true
		}
		return visible[recordID]
	case "list_items":
		if owner, ok := snap["owner_id"].(string); ok && owner == userID {
			return true
		}
		if listID, ok := snap["list_id"].(string); ok {
			return visible[models.UUID(listID)]
		}
		return true
	case "favorites":
		if owner, ok := snap["user_id"].(string); ok {
			return owner == userID
		}
		return true
	}
	return true
}
