package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/dadinugroho/robshop-core/internal/apperrors"
	"github.com/dadinugroho/robshop-core/internal/logging"
)

// SchemaVersion is the schema version this build expects. Migrations are
// strictly additive: a newer version appends tables and indexes, it never
// rewrites or drops existing data.
const SchemaVersion = 1

type migration struct {
	version     int
	description string
	statements  []string
}

// migrations returns all known migrations in version order.
func migrations() []migration {
	return []migration{
		{version: 1, description: "initial_schema", statements: initialSchema()},
	}
}

// initialSchema builds the DDL for every mirrored table and view from
// the schema registry, plus the outbox and sync metadata tables.
func initialSchema() []string {
	var stmts []string

	mirror := func(name string) string {
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY,
	data TEXT NOT NULL,
	pending INTEGER NOT NULL DEFAULT 0,
	deleted INTEGER NOT NULL DEFAULT 0
);`, name)
	}

	for _, t := range Tables {
		stmts = append(stmts, mirror(t.Name))
		for _, idx := range t.Indexes {
			stmts = append(stmts, fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (json_extract(data, '$.%s'));",
				t.Name, idx, t.Name, idx))
		}
	}
	for _, v := range Views {
		stmts = append(stmts, mirror(v.Name))
	}

	stmts = append(stmts, `CREATE TABLE IF NOT EXISTS outbox (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tabel TEXT NOT NULL,
	operation TEXT NOT NULL,
	payload TEXT NOT NULL,
	pk_field TEXT NOT NULL DEFAULT '',
	local_placeholder_id INTEGER NOT NULL DEFAULT 0,
	idempotency_key TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);`)
	stmts = append(stmts, "CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox (status, id);")

	stmts = append(stmts, `CREATE TABLE IF NOT EXISTS sync_meta (
	tabel TEXT PRIMARY KEY,
	last_sync_at INTEGER NOT NULL,
	row_count INTEGER NOT NULL
);`)

	return stmts
}

// migrate applies all pending migrations up to SchemaVersion.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY CHECK(version > 0),
	applied_at INTEGER NOT NULL,
	description TEXT NOT NULL,
	checksum TEXT NOT NULL
);`); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "create schema_migrations", err)
	}

	return s.applyPending(migrations(), SchemaVersion)
}

// applyPending applies every migration newer than the recorded version,
// up to target, each in its own transaction.
func (s *Store) applyPending(ms []migration, target int) error {
	current, err := s.currentVersion()
	if err != nil {
		return err
	}

	for _, m := range ms {
		if m.version <= current {
			continue
		}
		if m.version > target {
			break
		}
		if err := s.applyMigration(m); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration,
				fmt.Sprintf("apply migration V%d (%s)", m.version, m.description), err)
		}
		logging.Info("Applied schema migration", map[string]interface{}{
			"version":     m.version,
			"description": m.description,
		})
	}
	return nil
}

// currentVersion returns the highest applied schema version.
func (s *Store) currentVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrMigration, "read schema version", err)
	}
	return version, nil
}

func (s *Store) applyMigration(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}

	joined := strings.Join(m.statements, "\n")
	hash := sha256.Sum256([]byte(joined))
	checksum := hex.EncodeToString(hash[:])

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		m.version, time.Now().Unix(), m.description, checksum); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return tx.Commit()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
