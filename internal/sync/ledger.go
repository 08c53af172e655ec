package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// SQL statements for ledger operations.
const (
	sqlLoadVersions = `SELECT filename, sync_id FROM sync_state`

	sqlGetVersion = `SELECT sync_id FROM sync_state WHERE filename = ?`

	// A version never moves backwards, even if an older job finishes last.
	sqlUpsertVersion = `INSERT INTO sync_state (filename, sync_id, synced_at)
		VALUES (?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
		 sync_id = max(sync_state.sync_id, excluded.sync_id),
		 synced_at = excluded.synced_at`

	sqlDeleteVersion = `DELETE FROM sync_state WHERE filename = ?`

	sqlInsertHistory = `INSERT INTO job_history
		(id, filename, sync_id, state, stage, http_status, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqlListHistory = `SELECT id, filename, sync_id, state, stage, http_status, error, finished_at
		FROM job_history ORDER BY finished_at DESC, rowid DESC LIMIT ?`
)

// Outcome is the final record of one job.
type Outcome struct {
	JobID      string
	Filename   string
	SyncID     *int64
	State      JobState
	Stage      JobState // failing stage, empty on success
	Status     int
	Error      string
	FinishedAt time.Time
}

// Succeeded reports whether the job ended with its files on disk.
func (o *Outcome) Succeeded() bool {
	return o.State == StateDownloaded
}

// Ledger remembers which server sync of each file is already in the vault,
// and the outcome of finished jobs.
type Ledger struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenLedger opens the SQLite database at dbPath and applies migrations.
// The database uses WAL mode with synchronous=FULL.
func OpenLedger(ctx context.Context, dbPath string, logger *slog.Logger) (*Ledger, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sync: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", slog.String("db_path", dbPath))

	return &Ledger{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// SyncVersions returns the recorded sync ID of every file.
func (l *Ledger) SyncVersions(ctx context.Context) (map[string]int64, error) {
	rows, err := l.db.QueryContext(ctx, sqlLoadVersions)
	if err != nil {
		return nil, fmt.Errorf("sync: loading sync versions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)

	for rows.Next() {
		var (
			name string
			id   int64
		)

		if err := rows.Scan(&name, &id); err != nil {
			return nil, fmt.Errorf("sync: scanning sync version: %w", err)
		}

		out[name] = id
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating sync versions: %w", err)
	}

	return out, nil
}

// SyncVersion returns the recorded sync ID of one file.
func (l *Ledger) SyncVersion(ctx context.Context, filename string) (int64, bool, error) {
	var id int64

	err := l.db.QueryRowContext(ctx, sqlGetVersion, filename).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("sync: reading sync version of %s: %w", filename, err)
	}

	return id, true, nil
}

// Forget drops the recorded version of filename so the next reconciliation
// downloads it again.
func (l *Ledger) Forget(ctx context.Context, filename string) error {
	if _, err := l.db.ExecContext(ctx, sqlDeleteVersion, filename); err != nil {
		return fmt.Errorf("sync: forgetting %s: %w", filename, err)
	}

	return nil
}

// RecordOutcome appends o to the job history and, for a downloaded job,
// records its sync ID, in one transaction.
func (l *Ledger) RecordOutcome(ctx context.Context, o Outcome) error {
	if o.FinishedAt.IsZero() {
		o.FinishedAt = l.nowFunc()
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sync: beginning outcome transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, sqlInsertHistory,
		o.JobID, o.Filename, nullInt64(o.SyncID), string(o.State),
		nullString(string(o.Stage)), nullStatus(o.Status), nullString(o.Error),
		o.FinishedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("sync: recording outcome of %s: %w", o.Filename, err)
	}

	if o.Succeeded() && o.SyncID != nil {
		if _, err := tx.ExecContext(ctx, sqlUpsertVersion,
			o.Filename, *o.SyncID, o.FinishedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("sync: recording sync version of %s: %w", o.Filename, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sync: committing outcome of %s: %w", o.Filename, err)
	}

	return nil
}

// History returns up to limit outcomes, newest first.
func (l *Ledger) History(ctx context.Context, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, sqlListHistory, limit)
	if err != nil {
		return nil, fmt.Errorf("sync: listing job history: %w", err)
	}
	defer rows.Close()

	var out []Outcome

	for rows.Next() {
		var (
			o        Outcome
			syncID   sql.NullInt64
			state    string
			stage    sql.NullString
			status   sql.NullInt64
			errText  sql.NullString
			finished int64
		)

		if err := rows.Scan(&o.JobID, &o.Filename, &syncID, &state, &stage, &status, &errText, &finished); err != nil {
			return nil, fmt.Errorf("sync: scanning job history: %w", err)
		}

		if syncID.Valid {
			id := syncID.Int64
			o.SyncID = &id
		}

		o.State = JobState(state)
		o.Stage = JobState(stage.String)
		o.Status = int(status.Int64)
		o.Error = errText.String
		o.FinishedAt = time.Unix(0, finished)

		out = append(out, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating job history: %w", err)
	}

	return out, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStatus(code int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(code), Valid: code != 0}
}
