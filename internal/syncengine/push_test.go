// Package syncengine provides unit tests for the push reconciler.
package syncengine

import (
	"context"
	"testing"

	"github.com/shelfmark/shelfmark/backend/internal/access"
	"github.com/shelfmark/shelfmark/backend/internal/db"
	"github.com/shelfmark/shelfmark/backend/internal/embedding"
	"github.com/shelfmark/shelfmark/backend/internal/models"
)

// newTestEngine creates an engine over a migrated in-memory database.
func newTestEngine(t *testing.T, pageSize int) (*Engine, *db.Repository) {
	t.Helper()

	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Failed to initialize migrator: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	repo := db.NewRepository(database)
	t.Cleanup(func() {
		repo.Close()
		database.Close()
	})

	engine := NewEngine(repo, db.NewRegistry(), access.NewResolver(), embedding.NopNotifier{}, pageSize)
	return engine, repo
}

func mustPush(t *testing.T, e *Engine, userID string, changes ...ChangeItem) *PushResult {
	t.Helper()
	result, err := e.Push(context.Background(), userID, changes)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Push did not succeed: %s", result.Message)
	}
	return result
}

func listCreate(id, title, listType string) ChangeItem {
	return ChangeItem{
		TableName: "lists",
		Operation: OpCreate,
		Payload: map[string]interface{}{
			"id":        id,
			"title":     title,
			"list_type": listType,
		},
	}
}

func itemCreate(id, listID, title string) ChangeItem {
	return ChangeItem{
		TableName: "list_items",
		Operation: OpCreate,
		Payload: map[string]interface{}{
			"id":      id,
			"list_id": listID,
			"title":   title,
		},
	}
}

func TestPushCreateList(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	result := mustPush(t, engine, "alice", listCreate(listID, "Films to watch", "movie"))

	if len(result.Results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(result.Results))
	}
	if result.Results[0].Status != StatusCreated {
		t.Errorf("Expected status created, got %s", result.Results[0].Status)
	}

	list, err := repo.GetList(models.UUID(listID))
	if err != nil {
		t.Fatalf("Failed to fetch created list: %v", err)
	}
	if list.OwnerID != "alice" {
		t.Errorf("Expected owner alice, got %s", list.OwnerID)
	}
	if list.Title != "Films to watch" {
		t.Errorf("Expected title preserved, got %q", list.Title)
	}
}

func TestPushCreateRejectsBadID(t *testing.T) {
	engine, _ := newTestEngine(t, 100)

	result := mustPush(t, engine, "alice", listCreate("not-a-uuid", "Bad", "movie"))
	if result.Results[0].Status != StatusError {
		t.Errorf("Expected status error for malformed id, got %s", result.Results[0].Status)
	}
}

func TestPushCreateOnExistingIDActsAsUpdate(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	mustPush(t, engine, "alice", listCreate(listID, "First title", "movie"))

	result := mustPush(t, engine, "alice", listCreate(listID, "Second title", "movie"))
	if result.Results[0].Status != StatusUpdated {
		t.Errorf("Expected status updated for duplicate create, got %s", result.Results[0].Status)
	}

	list, err := repo.GetList(models.UUID(listID))
	if err != nil {
		t.Fatalf("Failed to fetch list: %v", err)
	}
	if list.Title != "Second title" {
		t.Errorf("Expected last write to win, got title %q", list.Title)
	}
}

func TestPushCreateOnDeletedIDRestores(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	mustPush(t, engine, "alice", listCreate(listID, "Gone soon", "book"))
	mustPush(t, engine, "alice", ChangeItem{
		TableName: "lists", Operation: OpDelete, RecordID: listID,
	})

	result := mustPush(t, engine, "alice", listCreate(listID, "Back again", "book"))
	if result.Results[0].Status != StatusRestored {
		t.Errorf("Expected status restored, got %s", result.Results[0].Status)
	}

	list, err := repo.GetList(models.UUID(listID))
	if err != nil {
		t.Fatalf("Restored list should be live: %v", err)
	}
	if list.Title != "Back again" {
		t.Errorf("Expected restored title, got %q", list.Title)
	}
}

func TestPushForeignRecordDenied(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	mustPush(t, engine, "alice", listCreate(listID, "Alice's list", "movie"))

	result := mustPush(t, engine, "mallory", ChangeItem{
		TableName: "lists", Operation: OpUpdate, RecordID: listID,
		Payload: map[string]interface{}{"title": "Hijacked"},
	})
	if result.Results[0].Status != StatusDenied {
		t.Errorf("Expected status denied, got %s", result.Results[0].Status)
	}

	list, err := repo.GetList(models.UUID(listID))
	if err != nil {
		t.Fatalf("Failed to fetch list: %v", err)
	}
	if list.Title != "Alice's list" {
		t.Errorf("Foreign update must not apply, got title %q", list.Title)
	}
}

func TestPushUpdateMissingRecordWarns(t *testing.T) {
	engine, _ := newTestEngine(t, 100)

	result := mustPush(t, engine, "alice", ChangeItem{
		TableName: "lists", Operation: OpUpdate, RecordID: models.NewID().String(),
		Payload: map[string]interface{}{"title": "Ghost"},
	})
	if result.Results[0].Status != StatusWarning {
		t.Errorf("Expected status warning for missing record, got %s", result.Results[0].Status)
	}
}

func TestPushReordersDependencies(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	itemID := models.NewID().String()

	// Item arrives before its parent list; the reconciler must apply
	// the list first.
	result := mustPush(t, engine, "alice",
		itemCreate(itemID, listID, "Dune"),
		listCreate(listID, "Sci-fi", "movie"),
	)
	for _, r := range result.Results {
		if r.Status != StatusCreated {
			t.Errorf("Expected both creates to succeed, got %s (%s)", r.Status, r.Error)
		}
	}

	item, err := repo.GetItem(models.UUID(itemID))
	if err != nil {
		t.Fatalf("Failed to fetch item: %v", err)
	}
	if item.ListID.String() != listID {
		t.Errorf("Item attached to wrong list: %s", item.ListID)
	}
}

func TestPushUnknownTableWarns(t *testing.T) {
	engine, _ := newTestEngine(t, 100)

	result := mustPush(t, engine, "alice", ChangeItem{
		TableName: "schema_migrations", Operation: OpCreate,
		Payload: map[string]interface{}{"id": models.NewID().String()},
	})
	if result.Results[0].Status != StatusWarning {
		t.Errorf("Expected warning for non-syncable table, got %s", result.Results[0].Status)
	}
}

func TestPushBadEnvelopeRejectsWholeBatch(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	_, err := engine.Push(context.Background(), "alice", []ChangeItem{
		listCreate(listID, "Valid", "movie"),
		{TableName: "lists", Operation: OpUpdate}, // no record id
	})
	if err == nil {
		t.Fatal("Expected envelope validation error")
	}

	// Nothing from the batch may have been applied.
	if _, err := repo.GetList(models.UUID(listID)); err == nil {
		t.Error("Rejected batch must not write any rows")
	}
}

func TestPushItemInheritsListTypeAndCreatesDetail(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	itemID := models.NewID().String()
	mustPush(t, engine, "alice", listCreate(listID, "Films", "movie"))

	change := itemCreate(itemID, listID, "Blade Runner")
	change.Payload["detail"] = map[string]interface{}{
		"director":     "Ridley Scott",
		"release_year": 1982,
	}
	mustPush(t, engine, "alice", change)

	item, err := repo.GetItem(models.UUID(itemID))
	if err != nil {
		t.Fatalf("Failed to fetch item: %v", err)
	}
	if item.ItemType != "movie" {
		t.Errorf("Expected item_type inherited from list, got %q", item.ItemType)
	}
	if item.MovieDetailID == "" {
		t.Fatal("Expected a movie detail record to be created")
	}

	var director string
	var year int
	err = repo.DB().QueryRow(
		"SELECT director, release_year FROM movie_details WHERE id = ?",
		item.MovieDetailID.String()).Scan(&director, &year)
	if err != nil {
		t.Fatalf("Failed to fetch detail row: %v", err)
	}
	if director != "Ridley Scott" || year != 1982 {
		t.Errorf("Detail fields not persisted: %s / %d", director, year)
	}
}

func TestPushStripsImmutableFields(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	mustPush(t, engine, "alice", listCreate(listID, "Mine", "movie"))

	mustPush(t, engine, "alice", ChangeItem{
		TableName: "lists", Operation: OpUpdate, RecordID: listID,
		Payload: map[string]interface{}{
			"title":    "Still mine",
			"owner_id": "mallory",
		},
	})

	list, err := repo.GetList(models.UUID(listID))
	if err != nil {
		t.Fatalf("Failed to fetch list: %v", err)
	}
	if list.OwnerID != "alice" {
		t.Errorf("owner_id must be immutable, got %s", list.OwnerID)
	}
	if list.Title != "Still mine" {
		t.Errorf("Mutable field must still apply, got %q", list.Title)
	}
}

func TestPushFavoriteLifecycle(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	itemID := models.NewID().String()
	mustPush(t, engine, "alice",
		listCreate(listID, "Books", "book"),
		itemCreate(itemID, listID, "Hyperion"),
	)

	fav := func(action string) ChangeItem {
		return ChangeItem{
			TableName: "favorites", Operation: OpBatchFavorites,
			Payload: map[string]interface{}{
				"favorites": []interface{}{
					map[string]interface{}{
						"action":      action,
						"target_id":   itemID,
						"target_type": models.FavoriteTargetItem,
					},
				},
			},
		}
	}

	// First add creates.
	mustPush(t, engine, "alice", fav("add"))
	existing, err := repo.FindFavorite(repo.DB(), "alice", models.UUID(itemID), models.FavoriteTargetItem)
	if err != nil || existing == nil {
		t.Fatalf("Expected favorite after add: %v", err)
	}
	firstID := existing.ID

	// Second add is a no-op, not a duplicate.
	mustPush(t, engine, "alice", fav("add"))
	count := favoriteRowCount(t, repo, "alice", itemID)
	if count != 1 {
		t.Fatalf("Expected exactly 1 favorite row, got %d", count)
	}

	// Delete then add restores the same row.
	mustPush(t, engine, "alice", fav("delete"))
	mustPush(t, engine, "alice", fav("add"))

	restored, err := repo.FindFavorite(repo.DB(), "alice", models.UUID(itemID), models.FavoriteTargetItem)
	if err != nil || restored == nil {
		t.Fatalf("Expected favorite after restore: %v", err)
	}
	if restored.ID != firstID {
		t.Errorf("Restore must reuse the original row, got %s want %s", restored.ID, firstID)
	}
	if restored.IsDeleted() {
		t.Error("Restored favorite must be live")
	}
	if favoriteRowCount(t, repo, "alice", itemID) != 1 {
		t.Error("Favorite lifecycle must never create duplicate rows")
	}
}

func TestPushDirectFavoriteCreateIsIdempotent(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	itemID := models.NewID().String()
	mustPush(t, engine, "alice",
		listCreate(listID, "Books", "book"),
		itemCreate(itemID, listID, "Hyperion"),
	)

	favID := models.NewID().String()
	create := ChangeItem{
		TableName: "favorites", Operation: OpCreate,
		Payload: map[string]interface{}{
			"id":          favID,
			"target_id":   itemID,
			"target_type": models.FavoriteTargetItem,
		},
	}

	first := mustPush(t, engine, "alice", create)
	if first.Results[0].Status != StatusCreated {
		t.Errorf("Expected created, got %s", first.Results[0].Status)
	}

	second := mustPush(t, engine, "alice", create)
	if second.Results[0].Status != StatusNoop {
		t.Errorf("Expected noop on duplicate create, got %s", second.Results[0].Status)
	}
	if favoriteRowCount(t, repo, "alice", itemID) != 1 {
		t.Error("Duplicate favorite create must not insert a second row")
	}
}

func TestPushBatchReorder(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	first := models.NewID().String()
	second := models.NewID().String()
	mustPush(t, engine, "alice",
		listCreate(listID, "Queue", "movie"),
		itemCreate(first, listID, "One"),
		itemCreate(second, listID, "Two"),
	)

	result := mustPush(t, engine, "alice", ChangeItem{
		TableName: "list_items", Operation: OpBatchReorder,
		Payload: map[string]interface{}{
			"items": []interface{}{
				map[string]interface{}{"id": first, "sort_order": 2},
				map[string]interface{}{"id": second, "sort_order": 1},
			},
		},
	})
	if result.Results[0].Status != StatusReordered {
		t.Fatalf("Expected reordered, got %s (%s)", result.Results[0].Status, result.Results[0].Error)
	}

	item, err := repo.GetItem(models.UUID(first))
	if err != nil {
		t.Fatalf("Failed to fetch item: %v", err)
	}
	if item.SortOrder != 2 {
		t.Errorf("Expected sort_order 2, got %d", item.SortOrder)
	}
}

func TestPushNormalizesSecondTimestamps(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	change := listCreate(listID, "Old client", "movie")
	change.Payload["created_at"] = float64(1700000000) // seconds, not millis
	mustPush(t, engine, "alice", change)

	list, err := repo.GetList(models.UUID(listID))
	if err != nil {
		t.Fatalf("Failed to fetch list: %v", err)
	}
	if list.CreatedAt != 1700000000000 {
		t.Errorf("Expected created_at widened to millis, got %d", list.CreatedAt)
	}
}

func favoriteRowCount(t *testing.T, repo *db.Repository, userID, targetID string) int {
	t.Helper()
	var count int
	err := repo.DB().QueryRow(
		"SELECT COUNT(*) FROM favorites WHERE user_id = ? AND target_id = ?",
		userID, targetID).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to count favorites: %v", err)
	}
	return count
}

func TestPushStoreErrorRollsBackEarlierItems(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	goodID := models.NewID().String()
	_, err := engine.Push(context.Background(), "alice", []ChangeItem{
		listCreate(goodID, "Kept", "movie"),
		{
			TableName: "lists", Operation: OpCreate,
			// A null title violates the column constraint at insert
			// time, past envelope validation.
			Payload: map[string]interface{}{"id": models.NewID().String(), "title": nil},
		},
	})
	if err == nil {
		t.Fatal("Expected a store error to fail the batch")
	}

	if _, err := repo.GetList(models.UUID(goodID)); err == nil {
		t.Error("Item applied before the failure must be rolled back")
	}

	var logged int
	if err := repo.DB().QueryRow("SELECT COUNT(*) FROM sync_log").Scan(&logged); err != nil {
		t.Fatalf("Failed to count log rows: %v", err)
	}
	if logged != 0 {
		t.Errorf("Rolled-back batch must leave no change-log rows, found %d", logged)
	}
}

func TestPushUpdateIsIdempotent(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	mustPush(t, engine, "alice", listCreate(listID, "Films", "movie"))

	stamp := models.NowMillis() + 1000
	update := ChangeItem{
		TableName: "lists", Operation: OpUpdate, RecordID: listID,
		Payload: map[string]interface{}{
			"title":      "Renamed",
			"updated_at": stamp,
		},
	}

	first := mustPush(t, engine, "alice", update)
	if first.Results[0].Status != StatusUpdated {
		t.Fatalf("First update status = %s, want %s", first.Results[0].Status, StatusUpdated)
	}
	afterFirst, err := repo.GetList(models.UUID(listID))
	if err != nil {
		t.Fatalf("Failed to read list: %v", err)
	}

	second := mustPush(t, engine, "alice", update)
	if second.Results[0].Status != first.Results[0].Status {
		t.Errorf("Replayed update status = %s, want %s", second.Results[0].Status, first.Results[0].Status)
	}
	afterSecond, err := repo.GetList(models.UUID(listID))
	if err != nil {
		t.Fatalf("Failed to read list: %v", err)
	}

	if afterSecond.Title != afterFirst.Title || afterSecond.UpdatedAt != afterFirst.UpdatedAt {
		t.Errorf("Replayed update changed row state: %q/%d vs %q/%d",
			afterSecond.Title, afterSecond.UpdatedAt, afterFirst.Title, afterFirst.UpdatedAt)
	}
	if afterSecond.Title != "Renamed" || afterSecond.UpdatedAt != stamp {
		t.Errorf("Update not applied as sent: title %q, updated_at %d", afterSecond.Title, afterSecond.UpdatedAt)
	}
}
