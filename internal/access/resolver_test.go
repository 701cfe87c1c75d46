// Package access provides unit tests for the visibility resolver.
package access

import (
	"testing"

	"github.com/shelfmark/shelfmark/backend/internal/db"
	"github.com/shelfmark/shelfmark/backend/internal/models"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Failed to initialize migrator: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return database
}

func exec(t *testing.T, database *db.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := database.Exec(query, args...); err != nil {
		t.Fatalf("Failed to seed row: %v", err)
	}
}

func insertList(t *testing.T, database *db.DB, owner string) models.UUID {
	t.Helper()
	id := models.NewID()
	now := models.NowMillis()
	exec(t, database,
		`INSERT INTO lists (id, owner_id, title, created_at, updated_at) VALUES (?, ?, 'L', ?, ?)`,
		id.String(), owner, now, now)
	return id
}

func visibleSet(t *testing.T, database *db.DB, userID string) map[models.UUID]bool {
	t.Helper()
	resolver := NewResolver()
	ids, err := resolver.VisibleListIDs(database, userID)
	if err != nil {
		t.Fatalf("VisibleListIDs failed: %v", err)
	}
	set := make(map[models.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func TestResolverOwnedLists(t *testing.T) {
	database := setupTestDB(t)

	mine := insertList(t, database, "alice")
	theirs := insertList(t, database, "bob")

	visible := visibleSet(t, database, "alice")
	if !visible[mine] {
		t.Error("Owner must see their own list")
	}
	if visible[theirs] {
		t.Error("Unshared foreign list must be invisible")
	}
}

func TestResolverGroupShare(t *testing.T) {
	database := setupTestDB(t)

	shared := insertList(t, database, "alice")
	now := models.NowMillis()
	groupID := models.NewID().String()

	exec(t, database, `INSERT INTO groups (id, name, owner_id, created_at, updated_at) VALUES (?, 'G', 'alice', ?, ?)`,
		groupID, now, now)
	exec(t, database, `INSERT INTO group_members (id, group_id, user_id, role, created_at, updated_at) VALUES (?, ?, 'bob', 'member', ?, ?)`,
		models.NewID().String(), groupID, now, now)
	exec(t, database, `INSERT INTO list_group_roles (id, list_id, group_id, role, created_at, updated_at) VALUES (?, ?, ?, 'viewer', ?, ?)`,
		models.NewID().String(), shared.String(), groupID, now, now)

	if !visibleSet(t, database, "bob")[shared] {
		t.Error("Group member must see the shared list")
	}
	if visibleSet(t, database, "carol")[shared] {
		t.Error("Non-member must not see the shared list")
	}
}

func TestResolverBlockedOverrideWins(t *testing.T) {
	database := setupTestDB(t)

	shared := insertList(t, database, "alice")
	now := models.NowMillis()
	groupID := models.NewID().String()

	exec(t, database, `INSERT INTO groups (id, name, owner_id, created_at, updated_at) VALUES (?, 'G', 'alice', ?, ?)`,
		groupID, now, now)
	exec(t, database, `INSERT INTO group_members (id, group_id, user_id, role, created_at, updated_at) VALUES (?, ?, 'bob', 'member', ?, ?)`,
		models.NewID().String(), groupID, now, now)
	exec(t, database, `INSERT INTO list_group_roles (id, list_id, group_id, role, created_at, updated_at) VALUES (?, ?, ?, 'editor', ?, ?)`,
		models.NewID().String(), shared.String(), groupID, now, now)
	exec(t, database, `INSERT INTO list_user_roles (id, list_id, user_id, role, created_at, updated_at) VALUES (?, ?, 'bob', 'blocked', ?, ?)`,
		models.NewID().String(), shared.String(), now, now)

	if visibleSet(t, database, "bob")[shared] {
		t.Error("Blocked override must beat the group grant")
	}
}

func TestResolverUserGrant(t *testing.T) {
	database := setupTestDB(t)

	shared := insertList(t, database, "alice")
	now := models.NowMillis()
	exec(t, database, `INSERT INTO list_user_roles (id, list_id, user_id, role, created_at, updated_at) VALUES (?, ?, 'bob', 'editor', ?, ?)`,
		models.NewID().String(), shared.String(), now, now)

	if !visibleSet(t, database, "bob")[shared] {
		t.Error("Per-user grant must confer visibility")
	}
}

func TestResolverInheritRoleConfersNothing(t *testing.T) {
	database := setupTestDB(t)

	shared := insertList(t, database, "alice")
	now := models.NowMillis()
	exec(t, database, `INSERT INTO list_user_roles (id, list_id, user_id, role, created_at, updated_at) VALUES (?, ?, 'bob', 'inherit', ?, ?)`,
		models.NewID().String(), shared.String(), now, now)

	if visibleSet(t, database, "bob")[shared] {
		t.Error("Inherit role alone must not confer visibility")
	}
}

func TestResolverExchangeParticipants(t *testing.T) {
	database := setupTestDB(t)

	aliceList := insertList(t, database, "alice")
	bobList := insertList(t, database, "bob")
	outsider := insertList(t, database, "carol")

	now := models.NowMillis()
	groupID := models.NewID().String()
	roundID := models.NewID().String()

	exec(t, database, `INSERT INTO groups (id, name, owner_id, created_at, updated_at) VALUES (?, 'G', 'alice', ?, ?)`,
		groupID, now, now)
	exec(t, database, `INSERT INTO exchange_rounds (id, group_id, status, created_at, updated_at) VALUES (?, ?, 'open', ?, ?)`,
		roundID, groupID, now, now)
	exec(t, database, `INSERT INTO exchange_participants (id, round_id, user_id, list_id, created_at, updated_at) VALUES (?, ?, 'alice', ?, ?, ?)`,
		models.NewID().String(), roundID, aliceList.String(), now, now)
	exec(t, database, `INSERT INTO exchange_participants (id, round_id, user_id, list_id, created_at, updated_at) VALUES (?, ?, 'bob', ?, ?, ?)`,
		models.NewID().String(), roundID, bobList.String(), now, now)

	bobVisible := visibleSet(t, database, "bob")
	if !bobVisible[aliceList] {
		t.Error("Exchange participant must see co-participant lists")
	}
	if bobVisible[outsider] {
		t.Error("Lists outside the round must stay invisible")
	}

	if visibleSet(t, database, "carol")[aliceList] {
		t.Error("Non-participant must not see round lists")
	}
}

func TestResolverCanSeeList(t *testing.T) {
	database := setupTestDB(t)

	mine := insertList(t, database, "alice")
	resolver := NewResolver()

	ok, err := resolver.CanSeeList(database, "alice", mine)
	if err != nil || !ok {
		t.Errorf("Owner must see own list: ok=%v err=%v", ok, err)
	}
	ok, err = resolver.CanSeeList(database, "bob", mine)
	if err != nil || ok {
		t.Errorf("Stranger must not see the list: ok=%v err=%v", ok, err)
	}
}
