// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists trust fingerprints, sealed identities and the audit log with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL lets the background writer commit while the loader reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS otr_fingerprints (
			account     TEXT NOT NULL,
			peer        TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			verified    INTEGER NOT NULL DEFAULT 0,
			updated_at  TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (account, peer, fingerprint),

			CHECK (verified IN (0, 1))
		);

		CREATE INDEX IF NOT EXISTS idx_otr_fingerprints_account
			ON otr_fingerprints(account);

		CREATE TABLE IF NOT EXISTS otr_identities (
			account    TEXT PRIMARY KEY,
			sealed     BLOB NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS otr_audit_log (
			audit_id    TEXT PRIMARY KEY,
			account     TEXT NOT NULL,
			peer        TEXT NOT NULL DEFAULT '',
			action      TEXT NOT NULL,
			fingerprint TEXT NOT NULL DEFAULT '',
			ts          TEXT NOT NULL,
			detail_json TEXT,

			CHECK (action IN ('verify', 'unverify', 'forget', 'keygen'))
		);

		CREATE INDEX IF NOT EXISTS idx_otr_audit_log_account_ts
			ON otr_audit_log(account, ts);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('otr_fingerprints') WHERE name = 'updated_at'`,
			apply:  `ALTER TABLE otr_fingerprints ADD COLUMN updated_at TEXT NOT NULL DEFAULT ''`,
			column: "updated_at",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking column %s: %w", m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding column %s: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// ListFingerprints returns every trust record, ordered by account and peer.
func (s *SQLiteStore) ListFingerprints(ctx context.Context) ([]FingerprintRow, error) {
	query := `
		SELECT account, peer, fingerprint, verified, updated_at
		FROM otr_fingerprints
		ORDER BY account, peer, fingerprint
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying fingerprints: %w", err)
	}
	defer rows.Close()

	var out []FingerprintRow
	for rows.Next() {
		var r FingerprintRow
		var verified int
		var updatedAt string
		if err := rows.Scan(&r.Account, &r.Peer, &r.Fingerprint, &verified, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning fingerprint: %w", err)
		}
		r.Verified = verified == 1
		r.UpdatedAt = parseTime(updatedAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fingerprints: %w", err)
	}
	return out, nil
}

// WriteFingerprint upserts a trust record.
func (s *SQLiteStore) WriteFingerprint(ctx context.Context, row FingerprintRow) error {
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now()
	}
	query := `
		INSERT INTO otr_fingerprints (account, peer, fingerprint, verified, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account, peer, fingerprint) DO UPDATE SET
			verified = excluded.verified,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		row.Account,
		row.Peer,
		row.Fingerprint,
		boolToInt(row.Verified),
		row.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing fingerprint: %w", err)
	}
	return nil
}

// DeleteAccountFingerprints removes all trust records under account.
func (s *SQLiteStore) DeleteAccountFingerprints(ctx context.Context, account string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM otr_fingerprints WHERE account = ?`, account)
	if err != nil {
		return fmt.Errorf("deleting fingerprints: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("deleted fingerprints", "account", account, "count", n)
	}
	return nil
}

// SaveSealedIdentity stores or replaces the sealed identity of account.
func (s *SQLiteStore) SaveSealedIdentity(ctx context.Context, account string, blob []byte) error {
	query := `
		INSERT INTO otr_identities (account, sealed, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			sealed = excluded.sealed,
			created_at = excluded.created_at
	`
	_, err := s.db.ExecContext(ctx, query, account, blob, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}
	return nil
}

// LoadSealedIdentity returns the sealed identity of account.
// Returns ErrNotFound if the account has none.
func (s *SQLiteStore) LoadSealedIdentity(ctx context.Context, account string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT sealed FROM otr_identities WHERE account = ?`, account).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}
	return blob, nil
}

// DeleteSealedIdentity removes the sealed identity of account, if any.
func (s *SQLiteStore) DeleteSealedIdentity(ctx context.Context, account string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM otr_identities WHERE account = ?`, account); err != nil {
		return fmt.Errorf("deleting identity: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseTime reads a stored timestamp; rows written before updated_at
// existed carry an empty string and yield the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
