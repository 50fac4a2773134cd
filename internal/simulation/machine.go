package simulation

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/recovery-room/internal/decode"
	"github.com/ashureev/recovery-room/internal/domain"
	"github.com/ashureev/recovery-room/internal/proctor"
)

var (
	ErrAlreadyStarted  = errors.New("session already started")
	ErrNotActive       = errors.New("session is not active")
	ErrEmptyInput      = errors.New("student input is empty")
	ErrRequestInFlight = errors.New("a request is already in flight")
	ErrStaleResult     = errors.New("result belongs to a discarded generation")
	ErrReportNotReady  = errors.New("report not available yet")
	ErrSurveySubmitted = errors.New("survey already submitted")
)

// Replies substituted for the guest when the persona service cannot be used.
const (
	BootstrapFailureReply = "I CAN'T BELIEVE THIS SYSTEM IS BROKEN TOO! (Connection Error: check the persona service configuration and start again.)"
	TurnFailureReply      = "What did you say? Speak up! (Connection Error: please try sending your reply again.)"
)

// Thresholds of the local safety net.
const (
	maxAngerStreakLimit = 3
	resolvedBelow       = 2
)

// Effect is work a transition asks the caller to perform.
type Effect interface {
	effect()
}

// RequestTurnEffect asks for the guest's next reply.
type RequestTurnEffect struct {
	Generation uint64
	Request    proctor.TurnRequest
}

// RequestAuditEffect asks the proctor to grade the finished transcript.
type RequestAuditEffect struct {
	Generation uint64
	Status     domain.Status
	FinalAnger int
	Request    proctor.AuditRequest
}

func (RequestTurnEffect) effect()  {}
func (RequestAuditEffect) effect() {}

// Rules tunes transitions that are policy rather than protocol.
type Rules struct {
	// EnforceThresholds applies the anger rubric locally when the service
	// keeps reporting active: MaxAnger on three consecutive replies fails
	// the session, anger below 2 after a student turn resolves it.
	EnforceThresholds bool
}

// Start leaves Selecting and requests the bootstrap outburst.
func (r Rules) Start(s State, runID string, scenario domain.Scenario) (State, []Effect, error) {
	if s.Phase != PhaseSelecting && s.Phase != "" {
		return s, nil, ErrAlreadyStarted
	}
	if !scenario.Valid() {
		return s, nil, domain.ErrUnknownScenario
	}

	next := State{
		Generation: s.Generation,
		RunID:      runID,
		Phase:      PhaseActive,
		Scenario:   scenario,
		AngerLevel: domain.BootstrapAnger,
		Status:     domain.StatusActive,
		Pending:    true,
	}
	return next, []Effect{next.turnEffect()}, nil
}

// SubmitStudent appends the student's turn and requests the guest's reply.
func (r Rules) SubmitStudent(s State, text string, at time.Time) (State, []Effect, error) {
	if s.Phase != PhaseActive || s.Status != domain.StatusActive {
		return s, nil, ErrNotActive
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return s, nil, ErrEmptyInput
	}
	if s.Pending {
		return s, nil, ErrRequestInFlight
	}

	next := s.clone()
	next.Turns = append(next.Turns, domain.Turn{Role: domain.RoleStudent, Text: text, At: at})
	next.Pending = true
	return next, []Effect{next.turnEffect()}, nil
}

// ApplyTurn folds a decoded guest reply into the session.
func (r Rules) ApplyTurn(s State, generation uint64, reply decode.Turn, at time.Time) (State, []Effect, error) {
	if err := s.acceptTurnResult(generation); err != nil {
		return s, nil, err
	}

	bootstrap := len(s.Turns) == 0
	next := s.clone()
	next.Pending = false

	guest := domain.Turn{
		Role:           domain.RoleGuest,
		Text:           reply.SpokenResponse,
		At:             at,
		ReasoningTrace: reply.ThoughtProcess,
	}
	if !bootstrap {
		guest.CoachingNote = strings.TrimSpace(reply.InstantFeedback)
	}
	next.Turns = append(next.Turns, guest)

	next.AngerLevel = domain.ClampAnger(reply.AngerLevel)
	next.Status = reply.Status
	if next.Status == "" {
		next.Status = domain.StatusActive
	}

	if !bootstrap {
		if next.AngerLevel == domain.MaxAnger {
			next.MaxAngerStreak++
		} else {
			next.MaxAngerStreak = 0
		}
		if r.EnforceThresholds && next.Status == domain.StatusActive {
			switch {
			case next.MaxAngerStreak >= maxAngerStreakLimit:
				next.Status = domain.StatusFailed
			case next.AngerLevel < resolvedBelow:
				next.Status = domain.StatusResolved
			}
		}
	}

	return next.maybeTerminate()
}

// ApplyTurnFailure records a gateway or decode failure as a synthetic guest
// turn. Anger and status are left as they were.
func (r Rules) ApplyTurnFailure(s State, generation uint64, at time.Time) (State, []Effect, error) {
	if err := s.acceptTurnResult(generation); err != nil {
		return s, nil, err
	}

	text := TurnFailureReply
	if len(s.Turns) == 0 {
		text = BootstrapFailureReply
	}

	next := s.clone()
	next.Pending = false
	next.Turns = append(next.Turns, domain.Turn{
		Role:      domain.RoleGuest,
		Text:      text,
		Synthetic: true,
		At:        at,
	})
	return next, nil, nil
}

// ApplyReport stores the compiled report. A report is set at most once.
func (r Rules) ApplyReport(s State, generation uint64, rec domain.ReportRecord) (State, error) {
	if generation != s.Generation || !s.Compiling() {
		return s, ErrStaleResult
	}
	next := s.clone()
	rec.Audit = slices.Clone(rec.Audit)
	next.Report = &rec
	return next, nil
}

// SubmitSurvey attaches the student's survey once a report exists.
func (r Rules) SubmitSurvey(s State, survey domain.SurveyRecord) (State, error) {
	if s.Report == nil {
		return s, ErrReportNotReady
	}
	if s.Survey != nil {
		return s, ErrSurveySubmitted
	}
	if err := survey.Validate(); err != nil {
		return s, err
	}
	next := s.clone()
	survey.Reflection = strings.TrimSpace(survey.Reflection)
	next.Survey = &survey
	return next, nil
}

// Reset discards the encounter and returns to Selecting under a new
// generation.
func (r Rules) Reset(s State) State {
	return State{Generation: s.Generation + 1, Phase: PhaseSelecting}
}

func (s State) acceptTurnResult(generation uint64) error {
	if generation != s.Generation || s.Phase != PhaseActive || !s.Pending {
		return ErrStaleResult
	}
	return nil
}

func (s State) turnEffect() RequestTurnEffect {
	return RequestTurnEffect{
		Generation: s.Generation,
		Request: proctor.TurnRequest{
			Scenario:     s.Scenario.Descriptor(),
			History:      slices.Clone(s.Turns),
			CurrentAnger: s.AngerLevel,
		},
	}
}

func (s State) maybeTerminate() (State, []Effect, error) {
	if !s.Status.Terminal() {
		return s, nil, nil
	}
	s.Phase = PhaseTerminal
	if s.AuditRequested {
		return s, nil, nil
	}
	s.AuditRequested = true
	return s, []Effect{RequestAuditEffect{
		Generation: s.Generation,
		Status:     s.Status,
		FinalAnger: s.AngerLevel,
		Request: proctor.AuditRequest{
			Scenario:   s.Scenario.Descriptor(),
			Transcript: slices.Clone(s.Turns),
		},
	}}, nil
}
