// Package models provides data model definitions for the Shelfmark sync backend.
package models

// Role values for group roles and per-user overrides. Blocked and inherit
// never confer visibility on their own.
const (
	RoleOwner   = "owner"
	RoleEditor  = "editor"
	RoleViewer  = "viewer"
	RoleInherit = "inherit"
	RoleBlocked = "blocked"
)

// Group is a named set of users that lists can be shared with.
type Group struct {
	ID        UUID   `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	OwnerID   string `db:"owner_id" json:"owner_id"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
	DeletedAt int64  `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TableName returns the table name for Group.
func (Group) TableName() string {
	return "groups"
}

// GroupMember relates a user to a group with a role.
type GroupMember struct {
	ID        UUID   `db:"id" json:"id"`
	GroupID   UUID   `db:"group_id" json:"group_id"`
	UserID    string `db:"user_id" json:"user_id"`
	Role      string `db:"role" json:"role"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
	DeletedAt int64  `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TableName returns the table name for GroupMember.
func (GroupMember) TableName() string {
	return "group_members"
}

// ListGroupRole grants a group a role on a list.
type ListGroupRole struct {
	ID        UUID   `db:"id" json:"id"`
	ListID    UUID   `db:"list_id" json:"list_id"`
	GroupID   UUID   `db:"group_id" json:"group_id"`
	Role      string `db:"role" json:"role"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
	DeletedAt int64  `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TableName returns the table name for ListGroupRole.
func (ListGroupRole) TableName() string {
	return "list_group_roles"
}

// ListUserRole grants a single user a role on a list, overriding any
// group-derived role.
type ListUserRole struct {
	ID        UUID   `db:"id" json:"id"`
	ListID    UUID   `db:"list_id" json:"list_id"`
	UserID    string `db:"user_id" json:"user_id"`
	Role      string `db:"role" json:"role"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
	DeletedAt int64  `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TableName returns the table name for ListUserRole.
func (ListUserRole) TableName() string {
	return "list_user_roles"
}

// ExchangeRound is one round of a group gift exchange. Participants gain
// visibility of the lists linked through their participation records.
type ExchangeRound struct {
	ID        UUID   `db:"id" json:"id"`
	GroupID   UUID   `db:"group_id" json:"group_id"`
	Status    string `db:"status" json:"status"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
	DeletedAt int64  `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TableName returns the table name for ExchangeRound.
func (ExchangeRound) TableName() string {
	return "exchange_rounds"
}

// ExchangeParticipant links a user and their gift list into a round.
type ExchangeParticipant struct {
	ID        UUID   `db:"id" json:"id"`
	RoundID   UUID   `db:"round_id" json:"round_id"`
	UserID    string `db:"user_id" json:"user_id"`
	ListID    UUID   `db:"list_id" json:"list_id"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
	DeletedAt int64  `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TableName returns the table name for ExchangeParticipant.
func (ExchangeParticipant) TableName() string {
	return "exchange_participants"
}

// Reservation records that a user has claimed a gift item. Read-only
// input to the pull enrichment pass; reservations are managed outside
// the sync engine.
type Reservation struct {
	ID        UUID   `db:"id" json:"id"`
	ItemID    UUID   `db:"item_id" json:"item_id"`
	UserID    string `db:"user_id" json:"user_id"`
	Status    string `db:"status" json:"status"` // reserved, purchased, released
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
	DeletedAt int64  `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TableName returns the table name for Reservation.
func (Reservation) TableName() string {
	return "reservations"
}
