// Package storage is the persistence layer: the product/subscription/pool
// catalog and the append-only price ledger, backed by a single SQLite file.
//
// Uniqueness and referential invariants live in the schema (UNIQUE
// constraints + upserts), not in read-then-insert application code, so
// concurrent writers cannot create duplicate products or subscriptions.
package storage
