package report

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ashureev/recovery-room/internal/domain"
	"github.com/ashureev/recovery-room/internal/proctor"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type fakeGateway struct {
	raw   string
	err   error
	calls int
}

func (f *fakeGateway) RequestTurn(context.Context, proctor.TurnRequest) (string, error) {
	return "", errors.New("unexpected turn request")
}

func (f *fakeGateway) RequestAudit(context.Context, proctor.AuditRequest) (string, error) {
	f.calls++
	return f.raw, f.err
}

func newTestCompiler(g proctor.Gateway) *Compiler {
	c := NewCompiler(g, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func auditRequest() proctor.AuditRequest {
	return proctor.AuditRequest{
		Scenario: domain.ScenarioDiningDisaster.Descriptor(),
		Transcript: []domain.Turn{
			{Role: domain.RoleGuest, Text: "I ORDERED VEGETARIAN AND THERE IS CHICKEN IN THIS!"},
			{Role: domain.RoleStudent, Text: "I am so sorry, that is unacceptable."},
		},
	}
}

const validReport = "Here you go:\n```json\n" + `{
  "scenario": "Dining Disaster",
  "outcome": "resolved",
  "final_anger": 1,
  "score": 4.4,
  "summary": "You calmed the guest quickly.",
  "audit": [
    {"step_code": "N", "step_name": "Notify", "status": "fail", "feedback": "You never explained next steps."},
    {"step_code": "L", "step_name": "Listen", "status": "Pass", "feedback": "You let the guest vent."},
    {"step_code": "", "step_name": "empathize", "status": "Pass", "feedback": "You mirrored the emotion."},
    {"step_code": "a", "step_name": "Apologize", "status": "Pass", "feedback": "You owned it."},
    {"step_code": "R", "step_name": "React", "status": "Pass", "feedback": "You replaced the dish."}
  ]
}` + "\n```"

func TestCompileNormalizesAudit(t *testing.T) {
	gw := &fakeGateway{raw: validReport}
	rec := newTestCompiler(gw).Compile(context.Background(), auditRequest(), domain.StatusResolved, 1)

	want := domain.ReportRecord{
		Scenario:   "Dining Disaster",
		Outcome:    domain.OutcomeResolved,
		FinalAnger: 1,
		Score:      4,
		Summary:    "You calmed the guest quickly.",
		Audit: []domain.AuditItem{
			{StepCode: domain.StepListen, StepName: "Listen", Status: domain.AuditPass, Feedback: "You let the guest vent."},
			{StepCode: domain.StepEmpathize, StepName: "Empathize", Status: domain.AuditPass, Feedback: "You mirrored the emotion."},
			{StepCode: domain.StepApologize, StepName: "Apologize", Status: domain.AuditPass, Feedback: "You owned it."},
			{StepCode: domain.StepReact, StepName: "React", Status: domain.AuditPass, Feedback: "You replaced the dish."},
			{StepCode: domain.StepNotify, StepName: "Notify", Status: domain.AuditFail, Feedback: "You never explained next steps."},
		},
	}
	if diff := cmp.Diff(want, rec, cmpopts.IgnoreFields(domain.ReportRecord{}, "GeneratedAt")); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	if gw.calls != 1 {
		t.Fatalf("expected one audit request, got %d", gw.calls)
	}
}

func TestCompileFallbackOnGatewayError(t *testing.T) {
	gw := &fakeGateway{err: proctor.ErrGatewayUnavailable}
	rec := newTestCompiler(gw).Compile(context.Background(), auditRequest(), domain.StatusResolved, 1)

	if !rec.Fallback || rec.Outcome != domain.OutcomeFailed || rec.Score != 0 || rec.FinalAnger != domain.MaxAnger {
		t.Fatalf("unexpected fallback report: %+v", rec)
	}
	if rec.Audit == nil || len(rec.Audit) != 0 {
		t.Fatalf("fallback audit must be empty and non-nil, got %#v", rec.Audit)
	}
	if rec.Summary != UnavailableSummary {
		t.Fatalf("unexpected summary: %q", rec.Summary)
	}
}

func TestCompileFallbackOnInvalidPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no json", "I cannot grade this."},
		{"malformed", `{"outcome": "FAILED",`},
		{"empty audit", `{"score": 5, "audit": []}`},
		{"four items", `{"audit": [
			{"step_code":"L","status":"Pass"},{"step_code":"E","status":"Pass"},
			{"step_code":"A","status":"Pass"},{"step_code":"R","status":"Pass"}]}`},
		{"duplicate step", `{"audit": [
			{"step_code":"L","status":"Pass"},{"step_code":"L","status":"Pass"},
			{"step_code":"A","status":"Pass"},{"step_code":"R","status":"Pass"},{"step_code":"N","status":"Pass"}]}`},
		{"bad status", `{"audit": [
			{"step_code":"L","status":"Maybe"},{"step_code":"E","status":"Pass"},
			{"step_code":"A","status":"Pass"},{"step_code":"R","status":"Pass"},{"step_code":"N","status":"Pass"}]}`},
		{"unknown step", `{"audit": [
			{"step_code":"X","step_name":"Xylophone","status":"Pass"},{"step_code":"E","status":"Pass"},
			{"step_code":"A","status":"Pass"},{"step_code":"R","status":"Pass"},{"step_code":"N","status":"Pass"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newTestCompiler(&fakeGateway{raw: tt.raw}).Compile(context.Background(), auditRequest(), domain.StatusResolved, 1)
			if !rec.Fallback {
				t.Fatalf("expected fallback report, got %+v", rec)
			}
			if rec.Summary != InvalidSummary {
				t.Fatalf("unexpected summary: %q", rec.Summary)
			}
			if rec.Scenario != "The Dining Disaster" {
				t.Fatalf("unexpected scenario: %q", rec.Scenario)
			}
		})
	}
}

func TestNormalizeDefaultsFromSession(t *testing.T) {
	rec := newTestCompiler(&fakeGateway{raw: `{"outcome":"maybe","score":99,"audit":[
		{"step_code":"L","status":"Pass"},{"step_code":"E","status":"Fail"},
		{"step_code":"A","status":"Pass"},{"step_code":"R","status":"Fail"},{"step_code":"N","status":"Fail"}]}`}).
		Compile(context.Background(), auditRequest(), domain.StatusFailed, 14)

	if rec.Fallback {
		t.Fatal("did not expect fallback")
	}
	if rec.Outcome != domain.OutcomeFailed {
		t.Fatalf("outcome should follow session status, got %s", rec.Outcome)
	}
	if rec.FinalAnger != domain.MaxAnger {
		t.Fatalf("final anger should be clamped session value, got %d", rec.FinalAnger)
	}
	if rec.Score != domain.MaxScore {
		t.Fatalf("score should be clamped to %d, got %d", domain.MaxScore, rec.Score)
	}
	if rec.Scenario != "The Dining Disaster" {
		t.Fatalf("scenario should default to descriptor title, got %q", rec.Scenario)
	}
}

func TestCompileAcceptsNumericStrings(t *testing.T) {
	rec := newTestCompiler(&fakeGateway{raw: `{"outcome":"RESOLVED","final_anger":"1","score":"4","summary":"Good recovery.","audit":[
		{"step_code":"L","status":"Pass"},{"step_code":"E","status":"Pass"},
		{"step_code":"A","status":"Pass"},{"step_code":"R","status":"Pass"},{"step_code":"N","status":"Fail"}]}`}).
		Compile(context.Background(), auditRequest(), domain.StatusResolved, 3)

	if rec.Fallback || len(rec.Audit) != 5 {
		t.Fatalf("expected a real report, got %+v", rec)
	}
	if rec.Score != 4 || rec.FinalAnger != 1 || rec.Outcome != domain.OutcomeResolved {
		t.Fatalf("unexpected score/anger/outcome: %d %d %s", rec.Score, rec.FinalAnger, rec.Outcome)
	}
}

func TestCompileTreatsUnreadableNumbersAsMissing(t *testing.T) {
	rec := newTestCompiler(&fakeGateway{raw: `{"final_anger":{"level":1},"score":"five","audit":[
		{"step_code":"L","status":"Pass"},{"step_code":"E","status":"Pass"},
		{"step_code":"A","status":"Fail"},{"step_code":"R","status":"Fail"},{"step_code":"N","status":"Fail"}]}`}).
		Compile(context.Background(), auditRequest(), domain.StatusFailed, 10)

	if rec.Fallback {
		t.Fatalf("did not expect fallback: %+v", rec)
	}
	if rec.Score != 2 || rec.FinalAnger != domain.MaxAnger || rec.Outcome != domain.OutcomeFailed {
		t.Fatalf("expected session/pass-derived values, got score=%d anger=%d outcome=%s", rec.Score, rec.FinalAnger, rec.Outcome)
	}
}

func TestNormalizeScoreFromPasses(t *testing.T) {
	rec := newTestCompiler(&fakeGateway{raw: `{"audit":[
		{"step_code":"L","status":"Pass"},{"step_code":"E","status":"Pass"},
		{"step_code":"A","status":"Fail"},{"step_code":"R","status":"Fail"},{"step_code":"N","status":"Pass"}]}`}).
		Compile(context.Background(), auditRequest(), domain.StatusResolved, 1)

	if rec.Score != 3 {
		t.Fatalf("expected score derived from passes, got %d", rec.Score)
	}
}
