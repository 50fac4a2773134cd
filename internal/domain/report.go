package domain

import (
	"time"
)

// StepCode is the single-letter code of a LEARN step.
type StepCode string

const (
	StepListen    StepCode = "L"
	StepEmpathize StepCode = "E"
	StepApologize StepCode = "A"
	StepReact     StepCode = "R"
	StepNotify    StepCode = "N"
)

// LearnStep describes one step of the LEARN service-recovery model.
type LearnStep struct {
	Code        StepCode `json:"code"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
}

// LearnSteps is the canonical rubric in audit order.
var LearnSteps = []LearnStep{
	{Code: StepListen, Name: "Listen", Description: "Let the guest finish; never interrupt."},
	{Code: StepEmpathize, Name: "Empathize", Description: "Mirror the guest's emotion sincerely."},
	{Code: StepApologize, Name: "Apologize", Description: "Own the problem; no \"sorry if\"."},
	{Code: StepReact, Name: "React", Description: "Offer a concrete fix once the guest has calmed down."},
	{Code: StepNotify, Name: "Notify", Description: "Explain the next steps and follow up."},
}

// StepName returns the canonical name of code, or "" if code is not a LEARN step.
func StepName(code StepCode) string {
	for _, s := range LearnSteps {
		if s.Code == code {
			return s.Name
		}
	}
	return ""
}

// AuditStatus is the pass/fail verdict for a LEARN step.
type AuditStatus string

const (
	AuditPass AuditStatus = "Pass"
	AuditFail AuditStatus = "Fail"
)

// AuditItem is one rubric line of the end-of-session audit.
type AuditItem struct {
	StepCode StepCode    `json:"step_code"`
	StepName string      `json:"step_name"`
	Status   AuditStatus `json:"status"`
	Feedback string      `json:"feedback"`
}

// Outcome is the final result of an encounter.
type Outcome string

const (
	OutcomeResolved Outcome = "RESOLVED"
	OutcomeFailed   Outcome = "FAILED"
)

// MaxScore is the top of the star scale.
const MaxScore = 5

// ReportRecord is the terminal artifact of a session. It is created once and
// never modified.
type ReportRecord struct {
	Scenario    string      `json:"scenario"`
	Outcome     Outcome     `json:"outcome"`
	FinalAnger  int         `json:"final_anger"`
	Score       int         `json:"score"`
	Summary     string      `json:"summary"`
	Audit       []AuditItem `json:"audit"`
	Fallback    bool        `json:"fallback,omitempty"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// Passed returns the number of audit items marked Pass.
func (r *ReportRecord) Passed() int {
	n := 0
	for _, item := range r.Audit {
		if item.Status == AuditPass {
			n++
		}
	}
	return n
}
