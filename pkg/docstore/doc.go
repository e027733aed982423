// Package docstore provides the transactional document store the membership
// services are built on.
//
// A Store hands out Sessions, each a unit of work scoped to one operation:
// reads hit the store directly, writes and deletes are staged, and
// SaveChanges applies every staged write atomically. Each document carries a
// version; a staged write whose base version no longer matches, or a create
// targeting a key that already exists, fails the whole commit with a
// *ConcurrencyError naming the offending key. That key-level conflict signal
// is what the membership packages use to enforce uniqueness without
// check-then-act races.
//
// Two backends are provided: an in-memory store for tests and small
// deployments, and a PostgreSQL store keeping documents in a jsonb table
// (see migrations/membership_db.sql).
package docstore
