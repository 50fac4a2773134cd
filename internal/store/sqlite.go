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

	"github.com/ashureev/recovery-room/internal/domain"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS students (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		scenario TEXT NOT NULL,
		status TEXT NOT NULL,
		final_anger INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_user ON runs(user_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

	CREATE TABLE IF NOT EXISTS turns (
		run_id TEXT NOT NULL,
		turn_index INTEGER NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		coaching_note TEXT,
		synthetic INTEGER NOT NULL DEFAULT 0,
		anger_level INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, turn_index)
	);

	CREATE TABLE IF NOT EXISTS reports (
		run_id TEXT PRIMARY KEY,
		scenario TEXT NOT NULL,
		outcome TEXT NOT NULL,
		final_anger INTEGER NOT NULL,
		score INTEGER NOT NULL,
		summary TEXT NOT NULL,
		audit_json TEXT NOT NULL,
		fallback INTEGER NOT NULL DEFAULT 0,
		generated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS surveys (
		run_id TEXT PRIMARY KEY,
		ratings_json TEXT NOT NULL,
		reflection TEXT NOT NULL,
		submitted_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetStudent retrieves a student by user ID.
func (s *SQLiteStore) GetStudent(ctx context.Context, userID string) (*domain.Student, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM students WHERE user_id = ?`

	var student domain.Student
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&student.UserID, &student.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan student row: %w", err)
	}

	student.LastSeenAt = time.Unix(lastSeen, 0)
	student.CreatedAt = time.Unix(createdAt, 0)
	student.UpdatedAt = time.Unix(updatedAt, 0)
	return &student, nil
}

// UpsertStudent creates or updates a student record.
func (s *SQLiteStore) UpsertStudent(ctx context.Context, student *domain.Student) error {
	query := `
	INSERT INTO students (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		student.UserID, student.Username,
		student.LastSeenAt.Unix(), student.CreatedAt.Unix(), student.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a student.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE students SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// CreateRun records a newly started encounter.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	query := `
	INSERT INTO runs (run_id, user_id, scenario, status, final_anger, started_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	return withRetry(ctx, "create run", func() error {
		_, err := s.db.ExecContext(ctx, query,
			run.RunID, run.UserID, string(run.Scenario), string(run.Status),
			run.FinalAnger, run.StartedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

// AppendTurn stores one transcript turn.
func (s *SQLiteStore) AppendTurn(ctx context.Context, runID string, index int, turn domain.Turn, anger int) error {
	query := `
	INSERT INTO turns (run_id, turn_index, role, text, coaching_note, synthetic, anger_level, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, turn_index) DO NOTHING`

	var note any
	if turn.CoachingNote != "" {
		note = turn.CoachingNote
	}

	return withRetry(ctx, "append turn", func() error {
		_, err := s.db.ExecContext(ctx, query,
			runID, index, string(turn.Role), turn.Text, note,
			boolToInt(turn.Synthetic), anger, turn.At.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		return nil
	})
}

// FinishRun sets the final status and anger of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status domain.RunStatus, anger int, at time.Time) error {
	query := `UPDATE runs SET status = ?, final_anger = ?, ended_at = ? WHERE run_id = ?`

	return withRetry(ctx, "finish run", func() error {
		result, err := s.db.ExecContext(ctx, query, string(status), anger, at.Unix(), runID)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
		return nil
	})
}

// SaveReport stores the run's report.
func (s *SQLiteStore) SaveReport(ctx context.Context, runID string, rec *domain.ReportRecord) error {
	audit, err := json.Marshal(rec.Audit)
	if err != nil {
		return fmt.Errorf("marshal audit: %w", err)
	}

	query := `
	INSERT INTO reports (run_id, scenario, outcome, final_anger, score, summary, audit_json, fallback, generated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id) DO NOTHING`

	return withRetry(ctx, "save report", func() error {
		_, err := s.db.ExecContext(ctx, query,
			runID, rec.Scenario, string(rec.Outcome), rec.FinalAnger, rec.Score,
			rec.Summary, string(audit), boolToInt(rec.Fallback), rec.GeneratedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert report: %w", err)
		}
		return nil
	})
}

// SaveSurvey stores the run's survey.
func (s *SQLiteStore) SaveSurvey(ctx context.Context, runID string, survey *domain.SurveyRecord) error {
	ratings, err := json.Marshal(survey.Ratings)
	if err != nil {
		return fmt.Errorf("marshal ratings: %w", err)
	}

	query := `
	INSERT INTO surveys (run_id, ratings_json, reflection, submitted_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(run_id) DO NOTHING`

	return withRetry(ctx, "save survey", func() error {
		_, err := s.db.ExecContext(ctx, query, runID, string(ratings), survey.Reflection, survey.SubmittedAt.Unix())
		if err != nil {
			return fmt.Errorf("insert survey: %w", err)
		}
		return nil
	})
}

// GetRun loads a run with its transcript, report and survey.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	query := `
		SELECT run_id, user_id, scenario, status, final_anger, started_at, ended_at
		FROM runs WHERE run_id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if run.Turns, err = s.turns(ctx, runID); err != nil {
		return nil, err
	}
	if run.Report, err = s.report(ctx, runID); err != nil {
		return nil, err
	}
	if run.Survey, err = s.survey(ctx, runID); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns a student's runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, userID string, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT run_id, user_id, scenario, status, final_anger, started_at, ended_at
		FROM runs WHERE user_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close runs rows", "error", closeErr)
		}
	}()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// AbandonActiveRuns marks every run still active as abandoned.
func (s *SQLiteStore) AbandonActiveRuns(ctx context.Context, at time.Time) (int64, error) {
	query := `UPDATE runs SET status = ?, ended_at = ? WHERE status = ?`
	result, err := s.db.ExecContext(ctx, query, string(domain.RunAbandoned), at.Unix(), string(domain.RunActive))
	if err != nil {
		return 0, fmt.Errorf("abandon active runs: %w", err)
	}
	return result.RowsAffected()
}

// CleanupAbandonedRuns deletes abandoned runs older than retention along
// with their turns.
func (s *SQLiteStore) CleanupAbandonedRuns(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	selectExpired := `SELECT run_id FROM runs WHERE status = ? AND started_at < ?`
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turns WHERE run_id IN (`+selectExpired+`)`,
		string(domain.RunAbandoned), threshold,
	); err != nil {
		return 0, fmt.Errorf("cleanup abandoned turns: %w", err)
	}
	result, err := tx.ExecContext(ctx,
		`DELETE FROM runs WHERE status = ? AND started_at < ?`,
		string(domain.RunAbandoned), threshold,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup abandoned runs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cleanup: %w", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var scenario, status string
	var startedAt int64
	var endedAt sql.NullInt64

	err := row.Scan(&run.RunID, &run.UserID, &scenario, &status, &run.FinalAnger, &startedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run row: %w", err)
	}

	run.Scenario = domain.Scenario(scenario)
	run.Status = domain.RunStatus(status)
	run.StartedAt = time.Unix(startedAt, 0)
	if endedAt.Valid {
		ts := time.Unix(endedAt.Int64, 0)
		run.EndedAt = &ts
	}
	return &run, nil
}

func (s *SQLiteStore) turns(ctx context.Context, runID string) ([]domain.Turn, error) {
	query := `
		SELECT role, text, coaching_note, synthetic, created_at
		FROM turns WHERE run_id = ? ORDER BY turn_index`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turns rows", "error", closeErr)
		}
	}()

	turns := []domain.Turn{}
	for rows.Next() {
		var t domain.Turn
		var role string
		var note sql.NullString
		var synthetic int
		var createdAt int64
		if err := rows.Scan(&role, &t.Text, &note, &synthetic, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Role = domain.Role(role)
		t.CoachingNote = note.String
		t.Synthetic = synthetic != 0
		t.At = time.Unix(createdAt, 0)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

func (s *SQLiteStore) report(ctx context.Context, runID string) (*domain.ReportRecord, error) {
	query := `
		SELECT scenario, outcome, final_anger, score, summary, audit_json, fallback, generated_at
		FROM reports WHERE run_id = ?`

	var rec domain.ReportRecord
	var outcome, audit string
	var fallback int
	var generatedAt int64
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&rec.Scenario, &outcome, &rec.FinalAnger, &rec.Score, &rec.Summary, &audit, &fallback, &generatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan report row: %w", err)
	}
	if err := json.Unmarshal([]byte(audit), &rec.Audit); err != nil {
		return nil, fmt.Errorf("unmarshal audit: %w", err)
	}
	if rec.Audit == nil {
		rec.Audit = []domain.AuditItem{}
	}
	rec.Outcome = domain.Outcome(outcome)
	rec.Fallback = fallback != 0
	rec.GeneratedAt = time.Unix(generatedAt, 0)
	return &rec, nil
}

func (s *SQLiteStore) survey(ctx context.Context, runID string) (*domain.SurveyRecord, error) {
	query := `SELECT ratings_json, reflection, submitted_at FROM surveys WHERE run_id = ?`

	var sv domain.SurveyRecord
	var ratings string
	var submittedAt int64
	err := s.db.QueryRowContext(ctx, query, runID).Scan(&ratings, &sv.Reflection, &submittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan survey row: %w", err)
	}
	if err := json.Unmarshal([]byte(ratings), &sv.Ratings); err != nil {
		return nil, fmt.Errorf("unmarshal ratings: %w", err)
	}
	sv.SubmittedAt = time.Unix(submittedAt, 0)
	return &sv, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
