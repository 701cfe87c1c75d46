// Package db provides the embedded schema migrations.
package db

// migration is one versioned schema step. Migrations are compiled into
// the binary so the schema registry can be verified against exactly the
// DDL that produced the live database.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations lists every schema step in order. Append only; never edit a
// shipped entry, the recorded checksum would no longer match.
var migrations = []migration{
	{
		Version:     1,
		Description: "initial_schema",
		SQL: `
CREATE TABLE IF NOT EXISTS lists (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	list_type TEXT NOT NULL DEFAULT 'custom',
	settings TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_lists_owner ON lists(owner_id);

CREATE TABLE IF NOT EXISTS list_items (
	id TEXT PRIMARY KEY,
	list_id TEXT NOT NULL REFERENCES lists(id),
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	item_type TEXT NOT NULL DEFAULT '',
	sort_order INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '',
	movie_detail_id TEXT NOT NULL DEFAULT '',
	book_detail_id TEXT NOT NULL DEFAULT '',
	track_detail_id TEXT NOT NULL DEFAULT '',
	place_detail_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_list_items_list ON list_items(list_id);
CREATE INDEX IF NOT EXISTS idx_list_items_owner ON list_items(owner_id);

CREATE TABLE IF NOT EXISTS favorites (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	target_type TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_favorites_user ON favorites(user_id);
CREATE INDEX IF NOT EXISTS idx_favorites_target ON favorites(user_id, target_id, target_type);

CREATE TABLE IF NOT EXISTS movie_details (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	release_year INTEGER NOT NULL DEFAULT 0,
	director TEXT NOT NULL DEFAULT '',
	poster_url TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS book_details (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	isbn TEXT NOT NULL DEFAULT '',
	cover_url TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS track_details (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	artist TEXT NOT NULL DEFAULT '',
	album TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS place_details (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	latitude REAL NOT NULL DEFAULT 0,
	longitude REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	owner_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER
);

CREATE TABLE IF NOT EXISTS group_members (
	id TEXT PRIMARY KEY,
	group_id TEXT NOT NULL REFERENCES groups(id),
	user_id TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'viewer',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);

CREATE TABLE IF NOT EXISTS list_group_roles (
	id TEXT PRIMARY KEY,
	list_id TEXT NOT NULL REFERENCES lists(id),
	group_id TEXT NOT NULL REFERENCES groups(id),
	role TEXT NOT NULL DEFAULT 'viewer',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_list_group_roles_group ON list_group_roles(group_id);

CREATE TABLE IF NOT EXISTS list_user_roles (
	id TEXT PRIMARY KEY,
	list_id TEXT NOT NULL REFERENCES lists(id),
	user_id TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'viewer',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_list_user_roles_user ON list_user_roles(user_id);

CREATE TABLE IF NOT EXISTS exchange_rounds (
	id TEXT PRIMARY KEY,
	group_id TEXT NOT NULL REFERENCES groups(id),
	status TEXT NOT NULL DEFAULT 'open',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER
);

CREATE TABLE IF NOT EXISTS exchange_participants (
	id TEXT PRIMARY KEY,
	round_id TEXT NOT NULL REFERENCES exchange_rounds(id),
	user_id TEXT NOT NULL,
	list_id TEXT NOT NULL REFERENCES lists(id),
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_exchange_participants_user ON exchange_participants(user_id);

CREATE TABLE IF NOT EXISTS reservations (
	id TEXT PRIMARY KEY,
	item_id TEXT NOT NULL REFERENCES list_items(id),
	user_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'reserved',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_reservations_item ON reservations(item_id);

CREATE TABLE IF NOT EXISTS sync_log (
	table_name TEXT NOT NULL,
	record_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	change_data TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (table_name, record_id)
);
CREATE INDEX IF NOT EXISTS idx_sync_log_created ON sync_log(created_at);

CREATE TABLE IF NOT EXISTS embedding_queue (
	id TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE (entity_id, entity_type)
);
`,
	},
}
