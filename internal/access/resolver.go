// Package access computes the set of lists a user may see. The resolver
// is a pure read over the sharing tables and never caches; callers that
// need staleness-free answers (e.g. viewing another user's lists right
// after a membership change) call it directly.
package access

import (
	"github.com/shelfmark/shelfmark/backend/internal/db"
	"github.com/shelfmark/shelfmark/backend/internal/models"
)

// Resolver computes visible-list sets from ownership, group roles,
// per-user overrides, and gift-exchange participation.
type Resolver struct{}

// NewResolver creates a new Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// VisibleListIDs returns every list ID the user may read: owned lists,
// lists shared through an active group role where the user is an active
// member, lists with an active per-user grant, and lists linked through
// active gift-exchange participation. Four set-based queries total, never
// one per list. An explicit blocked override removes a list from the
// result regardless of how it became visible.
func (r *Resolver) VisibleListIDs(q db.Querier, userID string) ([]models.UUID, error) {
	visible := make(map[models.UUID]bool)

	// Owned lists.
	if err := collectIDs(q, visible,
		`SELECT id FROM lists WHERE owner_id = ? AND deleted_at IS NULL`, userID); err != nil {
		return nil, err
	}

	// Group-shared lists: active membership joined with an active group
	// role that actually confers visibility.
	if err := collectIDs(q, visible,
		`SELECT lgr.list_id
		 FROM list_group_roles lgr
		 JOIN group_members gm ON gm.group_id = lgr.group_id
		 WHERE gm.user_id = ?
		   AND gm.deleted_at IS NULL
		   AND lgr.deleted_at IS NULL
		   AND lgr.role NOT IN ('blocked', 'inherit')`, userID); err != nil {
		return nil, err
	}

	// Individually shared lists.
	if err := collectIDs(q, visible,
		`SELECT list_id FROM list_user_roles
		 WHERE user_id = ? AND deleted_at IS NULL
		   AND role NOT IN ('blocked', 'inherit')`, userID); err != nil {
		return nil, err
	}

	// Lists reachable through gift-exchange rounds the user participates
	// in: every participant sees every list registered in the round.
	if err := collectIDs(q, visible,
		`SELECT other.list_id
		 FROM exchange_participants mine
		 JOIN exchange_rounds er ON er.id = mine.round_id AND er.deleted_at IS NULL
		 JOIN exchange_participants other ON other.round_id = mine.round_id AND other.deleted_at IS NULL
		 WHERE mine.user_id = ? AND mine.deleted_at IS NULL`, userID); err != nil {
		return nil, err
	}

	// An explicit blocked override wins over every other grant.
	blocked := make(map[models.UUID]bool)
	if err := collectIDs(q, blocked,
		`SELECT list_id FROM list_user_roles
		 WHERE user_id = ? AND deleted_at IS NULL AND role = 'blocked'`, userID); err != nil {
		return nil, err
	}

	ids := make([]models.UUID, 0, len(visible))
	for id := range visible {
		if !blocked[id] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// CanSeeList reports whether one specific list is in the user's visible
// set. Convenience for single-record permission checks.
func (r *Resolver) CanSeeList(q db.Querier, userID string, listID models.UUID) (bool, error) {
	ids, err := r.VisibleListIDs(q, userID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == listID {
			return true, nil
		}
	}
	return false, nil
}

func collectIDs(q db.Querier, into map[models.UUID]bool, query string, args ...interface{}) error {
	rows, err := q.Query(query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id models.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		into[id] = true
	}
	return rows.Err()
}
