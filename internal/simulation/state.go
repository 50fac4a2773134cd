// Package simulation implements the Recovery Room session state machine.
//
// Transitions are pure functions from a State to a new State plus the
// effects (gateway calls) the caller must perform. Session runs those
// effects asynchronously and feeds the results back in.
package simulation

import (
	"slices"

	"github.com/ashureev/recovery-room/internal/domain"
)

// Phase is the coarse lifecycle position of a session.
type Phase string

const (
	PhaseSelecting Phase = "selecting"
	PhaseActive    Phase = "active"
	PhaseTerminal  Phase = "terminal"
)

// State is the complete, owned value of one session. Transitions never
// mutate the State they receive.
type State struct {
	// Generation increases on every reset. Effects carry the generation
	// they were issued under so late results can be discarded.
	Generation uint64
	// RunID identifies one encounter from Start to Reset.
	RunID    string
	Phase    Phase
	Scenario domain.Scenario

	AngerLevel int
	Status     domain.Status
	Turns      []domain.Turn

	// Pending is set while a turn request is in flight.
	Pending bool
	// AuditRequested latches on the first terminal transition.
	AuditRequested bool
	Report         *domain.ReportRecord
	Survey         *domain.SurveyRecord

	// MaxAngerStreak counts consecutive decoded replies at MaxAnger.
	MaxAngerStreak int
}

// Compiling reports whether the audit has been requested but not produced.
func (s State) Compiling() bool {
	return s.AuditRequested && s.Report == nil
}

// clone returns a copy whose slices and pointers can be changed without
// affecting s.
func (s State) clone() State {
	c := s
	c.Turns = slices.Clone(s.Turns)
	if s.Report != nil {
		r := *s.Report
		r.Audit = slices.Clone(s.Report.Audit)
		c.Report = &r
	}
	if s.Survey != nil {
		sv := *s.Survey
		c.Survey = &sv
	}
	return c
}

// Snapshot is the immutable view handed to presentation.
type Snapshot struct {
	RunID           string                     `json:"run_id,omitempty"`
	Generation      uint64                     `json:"generation"`
	Phase           Phase                      `json:"phase"`
	Scenario        *domain.ScenarioDescriptor `json:"scenario,omitempty"`
	AngerLevel      *int                       `json:"anger_level,omitempty"`
	AngerBand       domain.AngerBand           `json:"anger_band,omitempty"`
	Status          domain.Status              `json:"status,omitempty"`
	Turns           []domain.Turn              `json:"turns"`
	Pending         bool                       `json:"pending"`
	Compiling       bool                       `json:"compiling"`
	ReportReady     bool                       `json:"report_ready"`
	SurveySubmitted bool                       `json:"survey_submitted"`
}

// Snapshot builds the presentation view of s. Selecting has no anger level.
func (s State) Snapshot() Snapshot {
	snap := Snapshot{
		RunID:           s.RunID,
		Generation:      s.Generation,
		Phase:           s.Phase,
		Status:          s.Status,
		Turns:           slices.Clone(s.Turns),
		Pending:         s.Pending,
		Compiling:       s.Compiling(),
		ReportReady:     s.Report != nil,
		SurveySubmitted: s.Survey != nil,
	}
	if snap.Turns == nil {
		snap.Turns = []domain.Turn{}
	}
	if s.Phase != PhaseSelecting {
		desc := s.Scenario.Descriptor()
		anger := s.AngerLevel
		snap.Scenario = &desc
		snap.AngerLevel = &anger
		snap.AngerBand = domain.BandFor(anger)
	}
	return snap
}
