package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/NathanEdg/SpikeReports/internal/domain"
	"github.com/NathanEdg/SpikeReports/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets the dashboard read while the collector writes.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultDBRetry}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

var _ Repository = (*SQLiteStore)(nil)

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS active_collections (
		channel_id TEXT PRIMARY KEY,
		thread_ts TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collected_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL,
		text TEXT NOT NULL,
		submitted_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_collected_reports_channel ON collected_reports(channel_id);

	CREATE TABLE IF NOT EXISTS summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		master_report TEXT NOT NULL,
		meeting_recap TEXT NOT NULL DEFAULT '',
		channel_summaries TEXT NOT NULL,
		total_reports INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_date ON summaries(date DESC);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// exec runs a mutating statement, retrying on SQLITE_BUSY.
func (s *SQLiteStore) exec(ctx context.Context, op string, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := shared.Retry(ctx, s.retry, op, shared.IsSQLiteConflictError, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, storageErr(op, err)
	}
	return result, nil
}

// inTx runs fn inside a transaction, retrying the whole transaction on SQLITE_BUSY.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	err := shared.Retry(ctx, s.retry, op, shared.IsSQLiteConflictError, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("Rollback failed", "op", op, "error", rbErr)
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
	return storageErr(op, err)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return storageErr("ping", s.db.PingContext(ctx))
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// UpsertSession records the open session for a channel.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session domain.CollectionSession) error {
	query := `
	INSERT INTO active_collections (channel_id, thread_ts, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(channel_id) DO UPDATE SET
		thread_ts = excluded.thread_ts,
		created_at = excluded.created_at`

	_, err := s.exec(ctx, "upsert session", query,
		session.ChannelID, session.ThreadID, session.OpenedAt.UnixNano())
	return err
}

// GetSession returns the open session for a channel, or nil if none.
func (s *SQLiteStore) GetSession(ctx context.Context, channelID string) (*domain.CollectionSession, error) {
	query := `SELECT channel_id, thread_ts, created_at FROM active_collections WHERE channel_id = ?`

	var session domain.CollectionSession
	var openedAt int64
	err := s.db.QueryRowContext(ctx, query, channelID).Scan(&session.ChannelID, &session.ThreadID, &openedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get session", err)
	}
	session.OpenedAt = time.Unix(0, openedAt)
	return &session, nil
}

// ListSessions returns every open session ordered by channel.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]domain.CollectionSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, thread_ts, created_at FROM active_collections ORDER BY channel_id`)
	if err != nil {
		return nil, storageErr("list sessions", err)
	}
	defer closeRows(rows, "list sessions")

	var sessions []domain.CollectionSession
	for rows.Next() {
		var session domain.CollectionSession
		var openedAt int64
		if err := rows.Scan(&session.ChannelID, &session.ThreadID, &openedAt); err != nil {
			return nil, storageErr("scan session", err)
		}
		session.OpenedAt = time.Unix(0, openedAt)
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate sessions", err)
	}
	return sessions, nil
}

// AppendReport inserts a collected report and sets its ID.
func (s *SQLiteStore) AppendReport(ctx context.Context, report *domain.CollectedReport) error {
	query := `
	INSERT INTO collected_reports (channel_id, user_id, username, text, submitted_at)
	VALUES (?, ?, ?, ?, ?)`

	result, err := s.exec(ctx, "append report", query,
		report.ChannelID, report.UserID, report.DisplayName, report.Body, report.SubmittedAt.UnixNano())
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storageErr("append report id", err)
	}
	report.ID = id
	return nil
}

// ListReports returns a channel's reports in submission order.
func (s *SQLiteStore) ListReports(ctx context.Context, channelID string) ([]domain.CollectedReport, error) {
	query := `
		SELECT id, channel_id, user_id, username, text, submitted_at
		FROM collected_reports WHERE channel_id = ? ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, storageErr("list reports", err)
	}
	defer closeRows(rows, "list reports")

	reports, err := scanReports(rows)
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// ListAllReports returns every report grouped by channel.
func (s *SQLiteStore) ListAllReports(ctx context.Context) (map[string][]domain.CollectedReport, error) {
	query := `
		SELECT id, channel_id, user_id, username, text, submitted_at
		FROM collected_reports ORDER BY channel_id, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("list all reports", err)
	}
	defer closeRows(rows, "list all reports")

	reports, err := scanReports(rows)
	if err != nil {
		return nil, err
	}

	byChannel := make(map[string][]domain.CollectedReport)
	for _, r := range reports {
		byChannel[r.ChannelID] = append(byChannel[r.ChannelID], r)
	}
	return byChannel, nil
}

func scanReports(rows *sql.Rows) ([]domain.CollectedReport, error) {
	var reports []domain.CollectedReport
	for rows.Next() {
		var r domain.CollectedReport
		var submittedAt int64
		if err := rows.Scan(&r.ID, &r.ChannelID, &r.UserID, &r.DisplayName, &r.Body, &submittedAt); err != nil {
			return nil, storageErr("scan report", err)
		}
		r.SubmittedAt = time.Unix(0, submittedAt)
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate reports", err)
	}
	return reports, nil
}

// ResetAll deletes every session and every report.
func (s *SQLiteStore) ResetAll(ctx context.Context) error {
	return s.inTx(ctx, "reset all", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM collected_reports`); err != nil {
			return fmt.Errorf("delete reports: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM active_collections`); err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}
		return nil
	})
}

// ResetThrough deletes each channel's reports up to its cutoff, then the
// channel's session if it still points at the cutoff thread and has no
// reports left.
func (s *SQLiteStore) ResetThrough(ctx context.Context, cutoffs []domain.ResetCutoff) error {
	if len(cutoffs) == 0 {
		return nil
	}

	return s.inTx(ctx, "reset through", func(tx *sql.Tx) error {
		for _, c := range cutoffs {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM collected_reports WHERE channel_id = ? AND id <= ?`,
				c.ChannelID, c.LastReportID); err != nil {
				return fmt.Errorf("delete reports of %s: %w", c.ChannelID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM active_collections
				WHERE channel_id = ? AND thread_ts = ?
				AND NOT EXISTS (SELECT 1 FROM collected_reports WHERE channel_id = ?)`,
				c.ChannelID, c.ThreadID, c.ChannelID); err != nil {
				return fmt.Errorf("delete session of %s: %w", c.ChannelID, err)
			}
		}
		return nil
	})
}

// SaveSummary appends a summary record and returns its ID.
func (s *SQLiteStore) SaveSummary(ctx context.Context, record *domain.SummaryRecord) (int64, error) {
	summariesJSON, err := json.Marshal(record.ChannelSummaries)
	if err != nil {
		return 0, storageErr("encode channel summaries", err)
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
	INSERT INTO summaries (date, master_report, meeting_recap, channel_summaries, total_reports, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	result, err := s.exec(ctx, "save summary", query,
		record.Date, record.MasterReport, record.MeetingRecap,
		string(summariesJSON), record.TotalReports, createdAt.Unix())
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, storageErr("save summary id", err)
	}

	slog.Info("Saved summary", "date", record.Date, "summary_id", id, "total_reports", record.TotalReports)
	return id, nil
}

const summaryColumns = `id, date, master_report, meeting_recap, channel_summaries, total_reports, created_at`

// ListSummaries returns records newest date first.
func (s *SQLiteStore) ListSummaries(ctx context.Context, limit, offset int) ([]domain.SummaryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + summaryColumns + ` FROM summaries
		ORDER BY date DESC, created_at DESC, id DESC
		LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, storageErr("list summaries", err)
	}
	defer closeRows(rows, "list summaries")

	var records []domain.SummaryRecord
	for rows.Next() {
		record, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate summaries", err)
	}
	return records, nil
}

// CountSummaries returns the number of stored records.
func (s *SQLiteStore) CountSummaries(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM summaries`).Scan(&count); err != nil {
		return 0, storageErr("count summaries", err)
	}
	return count, nil
}

// GetSummary returns a record by ID, or nil if none.
func (s *SQLiteStore) GetSummary(ctx context.Context, id int64) (*domain.SummaryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM summaries WHERE id = ?`, id)
	record, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

// GetSummaryByDate returns the most recent record for a date, or nil if none.
func (s *SQLiteStore) GetSummaryByDate(ctx context.Context, date string) (*domain.SummaryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM summaries
		WHERE date = ? ORDER BY created_at DESC, id DESC LIMIT 1`, date)
	record, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

// DeleteSummary removes a record by ID.
func (s *SQLiteStore) DeleteSummary(ctx context.Context, id int64) (bool, error) {
	result, err := s.exec(ctx, "delete summary", `DELETE FROM summaries WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, storageErr("delete summary rows affected", err)
	}
	if rows > 0 {
		slog.Info("Deleted summary", "summary_id", id)
	}
	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row rowScanner) (*domain.SummaryRecord, error) {
	var record domain.SummaryRecord
	var summariesJSON string
	var createdAt int64

	err := row.Scan(
		&record.ID, &record.Date, &record.MasterReport, &record.MeetingRecap,
		&summariesJSON, &record.TotalReports, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, storageErr("scan summary", err)
	}

	if err := json.Unmarshal([]byte(summariesJSON), &record.ChannelSummaries); err != nil {
		return nil, storageErr("decode channel summaries", err)
	}
	record.CreatedAt = time.Unix(createdAt, 0)
	return &record, nil
}

func closeRows(rows *sql.Rows, op string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "op", op, "error", err)
	}
}
