package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/recovery-room/internal/domain"
	"github.com/ashureev/recovery-room/internal/simulation"
)

const recordTimeout = 5 * time.Second

// Recorder persists session events. Write failures are logged and never
// reach the session.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRecorder returns a simulation.Observer backed by repo.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Observe writes ev to the repository.
func (r *Recorder) Observe(ctx context.Context, ev simulation.Event) {
	// Persist even when the session is being closed.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	var err error
	switch ev.Kind {
	case simulation.EventStarted:
		err = r.repo.CreateRun(ctx, &domain.Run{
			RunID:      ev.RunID,
			UserID:     ev.UserID,
			Scenario:   ev.Scenario,
			Status:     domain.RunActive,
			FinalAnger: ev.AngerLevel,
			StartedAt:  ev.At,
		})
	case simulation.EventTurn:
		err = r.repo.AppendTurn(ctx, ev.RunID, ev.Index, ev.Turn, ev.AngerLevel)
	case simulation.EventTerminal:
		err = r.repo.FinishRun(ctx, ev.RunID, domain.RunStatus(ev.Status), ev.AngerLevel, ev.At)
	case simulation.EventReport:
		err = r.repo.SaveReport(ctx, ev.RunID, ev.Report)
	case simulation.EventSurvey:
		err = r.repo.SaveSurvey(ctx, ev.RunID, ev.Survey)
	case simulation.EventReset, simulation.EventAbandoned:
		if ev.Status.Terminal() {
			return
		}
		err = r.repo.FinishRun(ctx, ev.RunID, domain.RunAbandoned, ev.AngerLevel, ev.At)
	}
	if err != nil {
		r.logger.Warn("failed to record session event",
			"event", ev.Kind,
			"user_id", ev.UserID,
			"run_id", ev.RunID,
			"error", err)
	}
}
