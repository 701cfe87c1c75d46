// Package syncengine provides unit tests for the pull assembler.
package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/shelfmark/shelfmark/backend/internal/db"
	"github.com/shelfmark/shelfmark/backend/internal/models"
)

func mustPull(t *testing.T, e *Engine, userID string, watermark int64) *PullResponse {
	t.Helper()
	resp, err := e.Pull(context.Background(), userID, watermark)
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	return resp
}

// tick ensures the next change lands on a later millisecond than the
// previous watermark.
func tick() {
	time.Sleep(2 * time.Millisecond)
}

func TestPullSnapshotMode(t *testing.T) {
	engine, _ := newTestEngine(t, 100)

	listID := models.NewID().String()
	itemID := models.NewID().String()
	mustPush(t, engine, "alice",
		listCreate(listID, "Films", "movie"),
		itemCreate(itemID, listID, "Alien"),
	)

	resp := mustPull(t, engine, "alice", 0)

	if len(resp.Changes["lists"].Created) != 1 {
		t.Fatalf("Expected 1 list in snapshot, got %d", len(resp.Changes["lists"].Created))
	}
	if len(resp.Changes["list_items"].Created) != 1 {
		t.Fatalf("Expected 1 item in snapshot, got %d", len(resp.Changes["list_items"].Created))
	}
	if resp.HasMore {
		t.Error("Snapshot must not page")
	}
	if resp.Timestamp == 0 {
		t.Error("Snapshot must carry a server watermark")
	}
}

func TestPullSnapshotOmitsDeletions(t *testing.T) {
	engine, _ := newTestEngine(t, 100)

	listID := models.NewID().String()
	itemID := models.NewID().String()
	mustPush(t, engine, "alice",
		listCreate(listID, "Films", "movie"),
		itemCreate(itemID, listID, "Alien"),
	)
	mustPush(t, engine, "alice", ChangeItem{
		TableName: "list_items", Operation: OpDelete, RecordID: itemID,
	})

	resp := mustPull(t, engine, "alice", 0)

	for table, diff := range resp.Changes {
		if len(diff.Deleted) != 0 {
			t.Errorf("Snapshot must carry zero deletions, table %s has %d", table, len(diff.Deleted))
		}
	}
	if len(resp.Changes["list_items"].Created) != 0 {
		t.Error("Deleted item must not appear in snapshot")
	}
	if len(resp.Changes["lists"].Created) != 1 {
		t.Error("Live list must still appear in snapshot")
	}
}

func TestPullIncremental(t *testing.T) {
	engine, _ := newTestEngine(t, 100)

	listID := models.NewID().String()
	mustPush(t, engine, "alice", listCreate(listID, "Films", "movie"))

	base := mustPull(t, engine, "alice", 0)
	tick()

	itemID := models.NewID().String()
	mustPush(t, engine, "alice", itemCreate(itemID, listID, "Alien"))
	mustPush(t, engine, "alice", ChangeItem{
		TableName: "lists", Operation: OpUpdate, RecordID: listID,
		Payload: map[string]interface{}{"title": "Horror films"},
	})

	resp := mustPull(t, engine, "alice", base.Timestamp)

	if len(resp.Changes["list_items"].Created) != 1 {
		t.Errorf("Expected new item in created, got %d", len(resp.Changes["list_items"].Created))
	}
	if len(resp.Changes["lists"].Updated) != 1 {
		t.Errorf("Expected changed list in updated, got %d", len(resp.Changes["lists"].Updated))
	}
	if len(resp.Changes["lists"].Created) != 0 {
		t.Error("Pre-watermark list must not reappear as created")
	}
}

func TestPullIncrementalDeletions(t *testing.T) {
	engine, _ := newTestEngine(t, 100)

	listID := models.NewID().String()
	itemID := models.NewID().String()
	mustPush(t, engine, "alice",
		listCreate(listID, "Films", "movie"),
		itemCreate(itemID, listID, "Alien"),
	)

	base := mustPull(t, engine, "alice", 0)
	tick()

	mustPush(t, engine, "alice", ChangeItem{
		TableName: "list_items", Operation: OpDelete, RecordID: itemID,
	})

	resp := mustPull(t, engine, "alice", base.Timestamp)

	deleted := resp.Changes["list_items"].Deleted
	if len(deleted) != 1 || deleted[0] != itemID {
		t.Fatalf("Expected bare deleted id %s, got %v", itemID, deleted)
	}
	if len(resp.Changes["list_items"].Created)+len(resp.Changes["list_items"].Updated) != 0 {
		t.Error("Deleted item must not also appear as a row")
	}
}

// A record created and deleted within the same window collapses to a
// single delete entry.
func TestPullCreateThenDeleteCollapses(t *testing.T) {
	engine, _ := newTestEngine(t, 100)

	listID := models.NewID().String()
	mustPush(t, engine, "alice", listCreate(listID, "Films", "movie"))
	base := mustPull(t, engine, "alice", 0)
	tick()

	itemID := models.NewID().String()
	mustPush(t, engine, "alice", itemCreate(itemID, listID, "Ephemeral"))
	mustPush(t, engine, "alice", ChangeItem{
		TableName: "list_items", Operation: OpDelete, RecordID: itemID,
	})

	resp := mustPull(t, engine, "alice", base.Timestamp)

	if got := len(resp.Changes["list_items"].Created); got != 0 {
		t.Errorf("Short-lived item must not appear as created, got %d", got)
	}
	if got := len(resp.Changes["list_items"].Deleted); got != 1 {
		t.Errorf("Expected a single delete entry, got %d", got)
	}
}

func TestPullRoundTripConverges(t *testing.T) {
	engine, _ := newTestEngine(t, 100)

	listID := models.NewID().String()
	mustPush(t, engine, "alice", listCreate(listID, "Films", "movie"))
	first := mustPull(t, engine, "alice", 0)
	tick()

	itemID := models.NewID().String()
	mustPush(t, engine, "alice", itemCreate(itemID, listID, "Alien"))
	second := mustPull(t, engine, "alice", first.Timestamp)
	tick()

	// Pulling again from the newest watermark yields nothing.
	third := mustPull(t, engine, "alice", second.Timestamp)
	for table, diff := range third.Changes {
		if len(diff.Created)+len(diff.Updated)+len(diff.Deleted) != 0 {
			t.Errorf("Caught-up pull must be empty, table %s is not", table)
		}
	}
}

func TestPullHasMorePaging(t *testing.T) {
	engine, _ := newTestEngine(t, 2)

	listID := models.NewID().String()
	mustPush(t, engine, "alice", listCreate(listID, "Films", "movie"))
	base := mustPull(t, engine, "alice", 0)
	tick()

	want := make(map[string]bool)
	for i := 0; i < 5; i++ {
		itemID := models.NewID().String()
		want[itemID] = true
		mustPush(t, engine, "alice", itemCreate(itemID, listID, "Item"))
		tick()
	}

	got := make(map[string]bool)
	watermark := base.Timestamp
	pages := 0
	for {
		resp := mustPull(t, engine, "alice", watermark)
		for _, wire := range resp.Changes["list_items"].Created {
			got[wire["id"].(string)] = true
		}
		pages++
		if pages > 10 {
			t.Fatal("Paging did not terminate")
		}
		if !resp.HasMore {
			break
		}
		if resp.Timestamp <= watermark {
			t.Fatal("Paged watermark must advance")
		}
		watermark = resp.Timestamp
	}

	if pages < 2 {
		t.Errorf("Expected multiple pages, got %d", pages)
	}
	for id := range want {
		if !got[id] {
			t.Errorf("Item %s lost across pages", id)
		}
	}
}

func TestPullGroupVisibility(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	itemID := models.NewID().String()
	mustPush(t, engine, "alice",
		listCreate(listID, "Shared films", "movie"),
		itemCreate(itemID, listID, "Alien"),
	)

	// Bob sees nothing before the share.
	before := mustPull(t, engine, "bob", 0)
	if len(before.Changes["lists"].Created) != 0 {
		t.Fatal("Unshared list must be invisible")
	}

	grantGroupAccess(t, repo, listID, "bob", "viewer")

	after := mustPull(t, engine, "bob", 0)
	if len(after.Changes["lists"].Created) != 1 {
		t.Fatalf("Shared list must appear in bob's snapshot, got %d lists", len(after.Changes["lists"].Created))
	}
	if len(after.Changes["list_items"].Created) != 1 {
		t.Errorf("Items of the shared list must be visible, got %d", len(after.Changes["list_items"].Created))
	}

	// Incremental pulls see alice's later edits too.
	tick()
	mustPush(t, engine, "alice", ChangeItem{
		TableName: "list_items", Operation: OpUpdate, RecordID: itemID,
		Payload: map[string]interface{}{"notes": "rewatch"},
	})
	delta := mustPull(t, engine, "bob", after.Timestamp)
	if len(delta.Changes["list_items"].Updated) != 1 {
		t.Errorf("Shared edit must reach bob incrementally, got %d", len(delta.Changes["list_items"].Updated))
	}
}

func TestPullBlockedOverrideHidesList(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	mustPush(t, engine, "alice", listCreate(listID, "Shared", "movie"))

	grantGroupAccess(t, repo, listID, "bob", "viewer")
	now := models.NowMillis()
	_, err := repo.DB().Exec(
		`INSERT INTO list_user_roles (id, list_id, user_id, role, created_at, updated_at)
		 VALUES (?, ?, ?, 'blocked', ?, ?)`,
		models.NewID().String(), listID, "bob", now, now)
	if err != nil {
		t.Fatalf("Failed to insert blocked override: %v", err)
	}

	resp := mustPull(t, engine, "bob", 0)
	if len(resp.Changes["lists"].Created) != 0 {
		t.Error("Blocked override must hide the list despite group access")
	}
}

func TestPullReservationEnrichment(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	itemID := models.NewID().String()
	gift := listCreate(listID, "Wishlist", "gift")
	mustPush(t, engine, "alice", gift, itemCreate(itemID, listID, "Headphones"))

	grantGroupAccess(t, repo, listID, "bob", "viewer")

	now := models.NowMillis()
	_, err := repo.DB().Exec(
		`INSERT INTO reservations (id, item_id, user_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, 'reserved', ?, ?)`,
		models.NewID().String(), itemID, "carol", now, now)
	if err != nil {
		t.Fatalf("Failed to insert reservation: %v", err)
	}

	// Bob, a non-owner, sees that the gift is spoken for.
	bobResp := mustPull(t, engine, "bob", 0)
	if len(bobResp.Changes["list_items"].Created) != 1 {
		t.Fatalf("Bob must see the gift item")
	}
	wire := bobResp.Changes["list_items"].Created[0]
	if wire["reservation_status"] != "reserved" {
		t.Errorf("Expected reservation_status reserved, got %v", wire["reservation_status"])
	}

	// Alice, the owner, must never learn the reservation state.
	aliceResp := mustPull(t, engine, "alice", 0)
	for _, w := range aliceResp.Changes["list_items"].Created {
		if _, leaked := w["reservation_status"]; leaked {
			t.Error("Reservation state must be hidden from the item owner")
		}
	}
}

func TestPullParentStubBackfill(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	listID := models.NewID().String()
	mustPush(t, engine, "alice", listCreate(listID, "Films", "movie"))

	base := mustPull(t, engine, "alice", 0)
	tick()

	// Clear the list's log entry so the window only contains the item.
	if _, err := repo.DB().Exec("DELETE FROM sync_log WHERE table_name = 'lists'"); err != nil {
		t.Fatalf("Failed to prune log: %v", err)
	}

	itemID := models.NewID().String()
	mustPush(t, engine, "alice", itemCreate(itemID, listID, "Alien"))

	resp := mustPull(t, engine, "alice", base.Timestamp)
	if len(resp.Changes["list_items"].Created) != 1 {
		t.Fatal("Expected the new item in the window")
	}
	if len(resp.Changes["lists"].Updated) != 1 {
		t.Error("Parent list must be backfilled alongside its item")
	}
}

// grantGroupAccess creates a group containing userID and grants it a
// role on the list.
func grantGroupAccess(t *testing.T, repo *db.Repository, listID, userID, role string) {
	t.Helper()
	now := models.NowMillis()
	groupID := models.NewID().String()

	exec := func(query string, args ...interface{}) {
		t.Helper()
		if _, err := repo.DB().Exec(query, args...); err != nil {
			t.Fatalf("Failed to seed access row: %v", err)
		}
	}
	exec(`INSERT INTO groups (id, name, owner_id, created_at, updated_at) VALUES (?, 'Friends', 'alice', ?, ?)`,
		groupID, now, now)
	exec(`INSERT INTO group_members (id, group_id, user_id, role, created_at, updated_at) VALUES (?, ?, ?, 'member', ?, ?)`,
		models.NewID().String(), groupID, userID, now, now)
	exec(`INSERT INTO list_group_roles (id, list_id, group_id, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		models.NewID().String(), listID, groupID, role, now, now)
}

func TestPullFallsBackToLogSnapshotForMissingRow(t *testing.T) {
	engine, repo := newTestEngine(t, 100)

	base := mustPull(t, engine, "alice", 0)
	tick()

	listID := models.NewID().String()
	mustPush(t, engine, "alice", listCreate(listID, "Films", "movie"))

	// Remove the row outright while its log entry survives, as a
	// retention job or manual repair might.
	if _, err := repo.DB().Exec("DELETE FROM lists WHERE id = ?", listID); err != nil {
		t.Fatalf("Failed to hard-delete list row: %v", err)
	}

	resp := mustPull(t, engine, "alice", base.Timestamp)
	if got := len(resp.Changes["lists"].Created); got != 1 {
		t.Fatalf("Expected the log snapshot to stand in for the missing row, got %d created", got)
	}
	wire := resp.Changes["lists"].Created[0]
	if wire["id"] != listID {
		t.Errorf("Snapshot record id = %v, want %s", wire["id"], listID)
	}
	if wire["title"] != "Films" {
		t.Errorf("Snapshot record title = %v, want Films", wire["title"])
	}

	// The snapshot obeys the same visibility rules a live row would.
	other := mustPull(t, engine, "bob", base.Timestamp)
	if got := len(other.Changes["lists"].Created) + len(other.Changes["lists"].Updated); got != 0 {
		t.Errorf("Foreign user must not receive the snapshot record, got %d", got)
	}
}

func TestPullInlinesItemDetailRecords(t *testing.T) {
	engine, _ := newTestEngine(t, 100)

	listID := models.NewID().String()
	itemID := models.NewID().String()
	mustPush(t, engine, "alice", listCreate(listID, "Films", "movie"))
	base := mustPull(t, engine, "alice", 0)
	tick()

	change := itemCreate(itemID, listID, "Blade Runner")
	change.Payload["detail"] = map[string]interface{}{
		"director":     "Ridley Scott",
		"release_year": 1982,
	}
	mustPush(t, engine, "alice", change)

	checkDetail := func(t *testing.T, wires []map[string]interface{}) {
		t.Helper()
		if len(wires) != 1 {
			t.Fatalf("Expected 1 item wire, got %d", len(wires))
		}
		detail, ok := wires[0]["detail"].(map[string]interface{})
		if !ok {
			t.Fatal("Expected the detail record inlined on the item wire")
		}
		if detail["director"] != "Ridley Scott" {
			t.Errorf("detail director = %v, want Ridley Scott", detail["director"])
		}
		if intFromAny(detail["release_year"]) != 1982 {
			t.Errorf("detail release_year = %v, want 1982", detail["release_year"])
		}
	}

	// Both delivery paths carry the detail, so a second device can
	// render the item without chasing foreign keys.
	snapshot := mustPull(t, engine, "alice", 0)
	checkDetail(t, snapshot.Changes["list_items"].Created)

	incremental := mustPull(t, engine, "alice", base.Timestamp)
	checkDetail(t, incremental.Changes["list_items"].Created)
}
