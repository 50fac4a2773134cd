// Package notify forwards completed surveys to an instructor side channel.
package notify

import (
	"context"
	"log/slog"

	"github.com/ashureev/recovery-room/internal/domain"
	"github.com/ashureev/recovery-room/internal/simulation"
)

// Submission is a completed survey with the context an instructor needs.
type Submission struct {
	UserID   string
	RunID    string
	Scenario domain.Scenario
	Outcome  domain.Outcome
	Score    int
	Fields   []domain.SurveyField
}

// Notifier delivers a survey submission. Delivery failures are the
// notifier's concern and never affect the session.
type Notifier interface {
	Notify(ctx context.Context, s Submission)
}

// Observer adapts n to receive survey events from a session.
func Observer(n Notifier) simulation.Observer {
	return simulation.ObserverFunc(func(ctx context.Context, ev simulation.Event) {
		if ev.Kind != simulation.EventSurvey || ev.Survey == nil {
			return
		}
		sub := Submission{
			UserID:   ev.UserID,
			RunID:    ev.RunID,
			Scenario: ev.Scenario,
			Fields:   ev.Survey.Fields(),
		}
		if ev.Report != nil {
			sub.Outcome = ev.Report.Outcome
			sub.Score = ev.Report.Score
		}
		n.Notify(ctx, sub)
	})
}

// LogNotifier writes each submission as a structured log record.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs s with one attribute per survey field.
func (n LogNotifier) Notify(ctx context.Context, s Submission) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fields := make([]any, 0, len(s.Fields))
	for _, f := range s.Fields {
		fields = append(fields, slog.String(f.Key, f.Value))
	}
	logger.InfoContext(ctx, "Survey submitted",
		"user_id", s.UserID,
		"run_id", s.RunID,
		"scenario", s.Scenario,
		"outcome", s.Outcome,
		"score", s.Score,
		slog.Group("survey", fields...))
}
