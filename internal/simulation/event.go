package simulation

import (
	"context"
	"time"

	"github.com/ashureev/recovery-room/internal/domain"
)

// EventKind names a change observers are told about.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventTurn      EventKind = "turn"
	EventTerminal  EventKind = "terminal"
	EventReport    EventKind = "report"
	EventSurvey    EventKind = "survey"
	EventReset     EventKind = "reset"
	EventAbandoned EventKind = "abandoned"
)

// Event describes one committed change of a session. Fields that do not
// apply to Kind are zero.
type Event struct {
	Kind     EventKind
	UserID   string
	RunID    string
	Scenario domain.Scenario
	At       time.Time

	// Index is the position of Turn in the transcript.
	Index int
	Turn  domain.Turn
	// Raw is the unparsed service output behind a guest turn, if any.
	Raw string

	AngerLevel int
	Status     domain.Status
	Report     *domain.ReportRecord
	Survey     *domain.SurveyRecord
}

// Observer receives events in commit order. Observe is called with the
// session locked and must not call back into the session.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// diff lists the events implied by moving from prev to next.
func diff(prev, next State, userID, raw string, at time.Time) []Event {
	base := Event{
		UserID:     userID,
		RunID:      next.RunID,
		Scenario:   next.Scenario,
		At:         at,
		AngerLevel: next.AngerLevel,
		Status:     next.Status,
	}

	var events []Event
	if next.Generation != prev.Generation {
		if prev.Phase != PhaseSelecting && prev.RunID != "" {
			ev := base
			ev.Kind = EventReset
			ev.RunID = prev.RunID
			ev.Scenario = prev.Scenario
			ev.AngerLevel = prev.AngerLevel
			ev.Status = prev.Status
			events = append(events, ev)
		}
		return events
	}

	if next.RunID != prev.RunID && next.Phase == PhaseActive {
		ev := base
		ev.Kind = EventStarted
		events = append(events, ev)
	}
	for i := len(prev.Turns); i < len(next.Turns); i++ {
		ev := base
		ev.Kind = EventTurn
		ev.Index = i
		ev.Turn = next.Turns[i]
		if next.Turns[i].IsGuest() && !next.Turns[i].Synthetic {
			ev.Raw = raw
		}
		events = append(events, ev)
	}
	if prev.Phase != PhaseTerminal && next.Phase == PhaseTerminal {
		ev := base
		ev.Kind = EventTerminal
		events = append(events, ev)
	}
	if prev.Report == nil && next.Report != nil {
		ev := base
		ev.Kind = EventReport
		ev.Report = next.Report
		events = append(events, ev)
	}
	if prev.Survey == nil && next.Survey != nil {
		ev := base
		ev.Kind = EventSurvey
		ev.Survey = next.Survey
		ev.Report = next.Report
		events = append(events, ev)
	}
	return events
}
