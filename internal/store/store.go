// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/recovery-room/internal/domain"
)

// Repository defines the interface for persisting students and their runs.
type Repository interface {
	// GetStudent retrieves a student by user ID. It returns nil, nil when
	// the student does not exist.
	GetStudent(ctx context.Context, userID string) (*domain.Student, error)

	// UpsertStudent creates or updates a student record.
	UpsertStudent(ctx context.Context, student *domain.Student) error

	// UpdateLastSeen updates the last_seen_at timestamp for a student.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CreateRun records a newly started encounter.
	CreateRun(ctx context.Context, run *domain.Run) error

	// AppendTurn stores turn at position index of the run's transcript.
	// Writing the same index twice is a no-op.
	AppendTurn(ctx context.Context, runID string, index int, turn domain.Turn, anger int) error

	// FinishRun sets the final status and anger of a run.
	FinishRun(ctx context.Context, runID string, status domain.RunStatus, anger int, at time.Time) error

	// SaveReport stores the run's report. A run has at most one report.
	SaveReport(ctx context.Context, runID string, rec *domain.ReportRecord) error

	// SaveSurvey stores the run's survey. A run has at most one survey.
	SaveSurvey(ctx context.Context, runID string, survey *domain.SurveyRecord) error

	// GetRun loads a run with its transcript, report and survey. It returns
	// nil, nil when the run does not exist.
	GetRun(ctx context.Context, runID string) (*domain.Run, error)

	// ListRuns returns a student's runs, newest first, without transcripts.
	ListRuns(ctx context.Context, userID string, limit int) ([]*domain.Run, error)

	// AbandonActiveRuns marks every run still active as abandoned. Used on
	// startup, since live sessions do not survive a restart.
	AbandonActiveRuns(ctx context.Context, at time.Time) (int64, error)

	// CleanupAbandonedRuns deletes abandoned runs that started before the
	// retention window.
	CleanupAbandonedRuns(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
