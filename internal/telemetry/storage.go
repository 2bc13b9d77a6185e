// Package telemetry persists the tool-execution log in a SQLite database,
// optionally encrypted with SQLCipher. Observability only: nothing here
// gates enforcement.
package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4" // SQLCipher driver for encrypted SQLite

	"github.com/ttulttul/localgpt/internal/logger"
)

var log = logger.New("telemetry")

// MinEncryptionKeyLength is the minimum accepted SQLCipher key length.
const MinEncryptionKeyLength = 16

// ExecRecord is one sandboxed tool execution.
type ExecRecord struct {
	ID            int64
	TS            time.Time
	Tool          string
	CommandSHA256 string
	ExitCode      int
	DurationMS    int64
	BytesOut      int64
	Truncated     bool
	TimedOut      bool
}

// Storage handles the execution-log database.
type Storage struct {
	conn      *sql.DB
	encrypted bool
}

// NewStorage opens (and initializes) the database. A non-empty key enables
// SQLCipher encryption; the key arrives via connection-string parameter,
// never via interpolated PRAGMA.
func NewStorage(dbPath, encryptionKey string) (*Storage, error) {
	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_journal_mode", "WAL")

	if encryptionKey != "" {
		if len(encryptionKey) < MinEncryptionKeyLength {
			return nil, fmt.Errorf("encryption key must be at least %d characters", MinEncryptionKeyLength)
		}
		params.Set("_pragma_key", encryptionKey)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	// SQLite allows one writer; a single connection serializes access at
	// the Go level and avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	encrypted := false
	if encryptionKey != "" {
		var one int
		if err := conn.QueryRowContext(context.Background(), "SELECT 1").Scan(&one); err != nil {
			conn.Close()
			return nil, fmt.Errorf("encryption key verification failed: %w", err)
		}
		encrypted = true
		log.Info("telemetry database encryption enabled")
	}

	s := &Storage{conn: conn, encrypted: encrypted}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize telemetry schema: %w", err)
	}
	return s, nil
}

// IsEncrypted reports whether SQLCipher encryption is active.
func (s *Storage) IsEncrypted() bool {
	return s.encrypted
}

func (s *Storage) initSchema() error {
	_, err := s.conn.Exec(`
CREATE TABLE IF NOT EXISTS exec_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	ts             TEXT    NOT NULL,
	tool           TEXT    NOT NULL,
	command_sha256 TEXT    NOT NULL,
	exit_code      INTEGER NOT NULL,
	duration_ms    INTEGER NOT NULL,
	bytes_out      INTEGER NOT NULL,
	truncated      INTEGER NOT NULL DEFAULT 0,
	timed_out      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_exec_log_ts ON exec_log(ts);
CREATE INDEX IF NOT EXISTS idx_exec_log_tool ON exec_log(tool);
`)
	return err
}

// LogExecution appends one execution record.
func (s *Storage) LogExecution(rec ExecRecord) error {
	ts := rec.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.conn.Exec(
		`INSERT INTO exec_log (ts, tool, command_sha256, exit_code, duration_ms, bytes_out, truncated, timed_out)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.Format(time.RFC3339), rec.Tool, rec.CommandSHA256, rec.ExitCode,
		rec.DurationMS, rec.BytesOut, boolInt(rec.Truncated), boolInt(rec.TimedOut),
	)
	return err
}

// Count returns the number of recorded executions.
func (s *Storage) Count() (int64, error) {
	var n int64
	err := s.conn.QueryRow("SELECT COUNT(*) FROM exec_log").Scan(&n)
	return n, err
}

// Recent returns the most recent executions, newest first.
func (s *Storage) Recent(limit int) ([]ExecRecord, error) {
	rows, err := s.conn.Query(
		`SELECT id, ts, tool, command_sha256, exit_code, duration_ms, bytes_out, truncated, timed_out
		 FROM exec_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecRecord
	for rows.Next() {
		var rec ExecRecord
		var ts string
		var truncated, timedOut int
		if err := rows.Scan(&rec.ID, &ts, &rec.Tool, &rec.CommandSHA256,
			&rec.ExitCode, &rec.DurationMS, &rec.BytesOut, &truncated, &timedOut); err != nil {
			return nil, err
		}
		rec.TS, _ = time.Parse(time.RFC3339, ts)
		rec.Truncated = truncated != 0
		rec.TimedOut = timedOut != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.conn.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
