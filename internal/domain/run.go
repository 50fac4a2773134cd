package domain

import "time"

// RunStatus is the persisted lifecycle status of one encounter. It extends
// Status with abandoned runs that were reset or evicted before finishing.
type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunResolved  RunStatus = "resolved"
	RunFailed    RunStatus = "failed"
	RunAbandoned RunStatus = "abandoned"
)

// Run is the stored record of one encounter from scenario selection to
// report.
type Run struct {
	RunID      string        `json:"run_id"`
	UserID     string        `json:"user_id"`
	Scenario   Scenario      `json:"scenario"`
	Status     RunStatus     `json:"status"`
	FinalAnger int           `json:"final_anger"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
	Turns      []Turn        `json:"turns"`
	Report     *ReportRecord `json:"report,omitempty"`
	Survey     *SurveyRecord `json:"survey,omitempty"`
}
