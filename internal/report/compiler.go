// Package report compiles the end-of-session LEARN audit and serializes it
// for export.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ashureev/recovery-room/internal/decode"
	"github.com/ashureev/recovery-room/internal/domain"
	"github.com/ashureev/recovery-room/internal/proctor"
)

// ErrAuditShape means a decoded audit does not cover the five LEARN steps
// exactly once.
var ErrAuditShape = errors.New("audit must contain exactly one item per LEARN step")

// Summaries used by the fallback report.
const (
	UnavailableSummary = "Could not generate report: the proctor service was unavailable."
	InvalidSummary     = "Error generating report: the proctor returned an unusable audit."
)

// Compiler turns a finished transcript into a ReportRecord.
type Compiler struct {
	gateway proctor.Gateway
	logger  *slog.Logger
	now     func() time.Time
}

// NewCompiler creates a compiler backed by gateway.
func NewCompiler(gateway proctor.Gateway, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{gateway: gateway, logger: logger, now: time.Now}
}

// Compile requests the audit and always returns a well-formed record. Any
// gateway or validation failure yields Fallback.
func (c *Compiler) Compile(ctx context.Context, req proctor.AuditRequest, status domain.Status, finalAnger int) domain.ReportRecord {
	at := c.now()

	raw, err := c.gateway.RequestAudit(ctx, req)
	if err != nil {
		c.logger.Warn("audit request failed, using fallback report",
			"scenario", req.Scenario.ID,
			"error", err)
		return Fallback(req.Scenario, UnavailableSummary, at)
	}

	decoded, err := decode.DecodeReport(raw)
	if err != nil {
		c.logger.Warn("audit payload rejected, using fallback report",
			"scenario", req.Scenario.ID,
			"error", err,
			"raw", decode.Preview(raw))
		return Fallback(req.Scenario, InvalidSummary, at)
	}

	rec, err := Normalize(decoded, req.Scenario, status, finalAnger)
	if err != nil {
		c.logger.Warn("audit failed validation, using fallback report",
			"scenario", req.Scenario.ID,
			"error", err,
			"raw", decode.Preview(raw))
		return Fallback(req.Scenario, InvalidSummary, at)
	}
	rec.GeneratedAt = at
	return rec
}

// Fallback is the deterministic report used when no valid audit exists.
func Fallback(scenario domain.ScenarioDescriptor, summary string, at time.Time) domain.ReportRecord {
	return domain.ReportRecord{
		Scenario:    scenario.Title,
		Outcome:     domain.OutcomeFailed,
		FinalAnger:  domain.MaxAnger,
		Score:       0,
		Summary:     summary,
		Audit:       []domain.AuditItem{},
		Fallback:    true,
		GeneratedAt: at,
	}
}

// Normalize validates a decoded report and maps it onto a ReportRecord. The
// audit must name each LEARN step exactly once; items are reordered to
// L, E, A, R, N. Outcome and final anger fall back to what the session
// observed when missing or unreadable, and score to the pass count. Numbers
// out of range are clamped.
func Normalize(r decode.Report, scenario domain.ScenarioDescriptor, status domain.Status, finalAnger int) (domain.ReportRecord, error) {
	audit, err := normalizeAudit(r.Audit)
	if err != nil {
		return domain.ReportRecord{}, err
	}

	rec := domain.ReportRecord{
		Scenario:   strings.TrimSpace(r.Scenario),
		Outcome:    status.Outcome(),
		FinalAnger: domain.ClampAnger(finalAnger),
		Summary:    strings.TrimSpace(r.Summary),
		Audit:      audit,
	}
	if rec.Scenario == "" {
		rec.Scenario = scenario.Title
	}
	switch domain.Outcome(strings.ToUpper(strings.TrimSpace(r.Outcome))) {
	case domain.OutcomeResolved:
		rec.Outcome = domain.OutcomeResolved
	case domain.OutcomeFailed:
		rec.Outcome = domain.OutcomeFailed
	}
	if r.FinalAnger != nil {
		rec.FinalAnger = domain.ClampAnger(roundInt(*r.FinalAnger))
	}
	if r.Score != nil {
		rec.Score = clamp(roundInt(*r.Score), 0, domain.MaxScore)
	} else {
		rec.Score = rec.Passed()
	}
	return rec, nil
}

func normalizeAudit(entries []decode.AuditEntry) ([]domain.AuditItem, error) {
	if len(entries) != len(domain.LearnSteps) {
		return nil, fmt.Errorf("%w: got %d items", ErrAuditShape, len(entries))
	}

	byCode := make(map[domain.StepCode]domain.AuditItem, len(entries))
	for _, e := range entries {
		code, ok := stepCode(e)
		if !ok {
			return nil, fmt.Errorf("%w: unknown step %q/%q", ErrAuditShape, e.StepCode, e.StepName)
		}
		if _, dup := byCode[code]; dup {
			return nil, fmt.Errorf("%w: step %s repeated", ErrAuditShape, code)
		}
		status, ok := auditStatus(e.Status)
		if !ok {
			return nil, fmt.Errorf("%w: step %s has status %q", ErrAuditShape, code, e.Status)
		}
		byCode[code] = domain.AuditItem{
			StepCode: code,
			StepName: domain.StepName(code),
			Status:   status,
			Feedback: strings.TrimSpace(e.Feedback),
		}
	}

	audit := make([]domain.AuditItem, 0, len(domain.LearnSteps))
	for _, step := range domain.LearnSteps {
		audit = append(audit, byCode[step.Code])
	}
	return audit, nil
}

// stepCode resolves an entry by its code, or by its name when the code is
// missing or wrong.
func stepCode(e decode.AuditEntry) (domain.StepCode, bool) {
	code := strings.ToUpper(strings.TrimSpace(e.StepCode))
	name := strings.TrimSpace(e.StepName)
	for _, step := range domain.LearnSteps {
		if string(step.Code) == code {
			return step.Code, true
		}
	}
	for _, step := range domain.LearnSteps {
		if strings.EqualFold(step.Name, name) {
			return step.Code, true
		}
	}
	return "", false
}

func auditStatus(s string) (domain.AuditStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass":
		return domain.AuditPass, true
	case "fail":
		return domain.AuditFail, true
	default:
		return "", false
	}
}

func roundInt(f float64) int {
	return int(math.Max(math.Min(math.Round(f), math.MaxInt32), math.MinInt32))
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
