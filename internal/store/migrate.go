package store

import (
	"database/sql"
	"fmt"
)

// migration is one additive, idempotent schema step applied after the base
// schema. Structural changes beyond the initial release are appended here
// rather than edited into schema.go, so a store opened against an older
// on-disk file upgrades in place.
type migration struct {
	version int
	name    string
	apply   func(*sql.Tx) error
}

// migrations lists every post-base-schema structural change, in order.
// Empty for the initial release; future additions go here.
var migrations []migration

// hasColumn probes PRAGMA table_info so a migration can be skipped if it
// already ran (idempotent, never destructive).
func hasColumn(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// runMigrations applies the base schema then every pending migration,
// tracking applied versions in schema_migrations.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("store: base schema: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, name TEXT NOT NULL, applied_at INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("store: schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied int
		if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version).Scan(&applied); err != nil {
			return fmt.Errorf("store: check migration %d: %w", m.version, err)
		}
		if applied > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin migration %d: %w", m.version, err)
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(version, name, applied_at) VALUES (?, ?, strftime('%s','now')*1000)`, m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %d: %w", m.version, err)
		}
	}

	return fixupMillisecondTimestamps(db)
}

// timestampFixupThreshold is the cutoff above which a stored created_at /
// last_confirmed_at value is assumed to be milliseconds rather than seconds
// (10^10 seconds is year ~2286, far beyond any real row).
const timestampFixupThreshold = 10_000_000_000

// fixupMillisecondTimestamps corrects last_confirmed_at values that were
// written in seconds rather than milliseconds, rescaling them to
// milliseconds. It runs on every open and is idempotent (a corrected value
// is above the threshold); this store always writes milliseconds, so the
// fix-up is a no-op on a fresh database and only matters when importing an
// older export.
func fixupMillisecondTimestamps(db *sql.DB) error {
	if _, err := db.Exec(`UPDATE facts SET created_at = created_at WHERE 1=0`); err != nil {
		// Table absent (shouldn't happen post-schema) — nothing to fix.
		return nil
	}
	// created_at/updated_at/valid_from are already milliseconds by
	// construction in this store; last_confirmed_at is the one field a
	// legacy importer could plausibly hand us in seconds-since-epoch
	// instead, so only it is corrected here.
	_, err := db.Exec(`UPDATE facts SET last_confirmed_at = last_confirmed_at * 1000
		WHERE last_confirmed_at IS NOT NULL AND last_confirmed_at < ?`, timestampFixupThreshold)
	return err
}
