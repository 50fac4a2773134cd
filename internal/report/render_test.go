package report

import (
	"strings"
	"testing"
	"time"

	"github.com/ashureev/recovery-room/internal/domain"
)

func sampleReport() domain.ReportRecord {
	return domain.ReportRecord{
		Scenario:   "The Tech Failure",
		Outcome:    domain.OutcomeResolved,
		FinalAnger: 1,
		Score:      3,
		Summary:    "You stayed calm\nand fixed the WiFi.",
		Audit: []domain.AuditItem{
			{StepCode: domain.StepListen, StepName: "Listen", Status: domain.AuditPass, Feedback: "You listened | fully."},
			{StepCode: domain.StepEmpathize, StepName: "Empathize", Status: domain.AuditPass, Feedback: "Good."},
			{StepCode: domain.StepApologize, StepName: "Apologize", Status: domain.AuditFail, Feedback: "You said sorry if."},
			{StepCode: domain.StepReact, StepName: "React", Status: domain.AuditPass, Feedback: "Hotspot offered."},
			{StepCode: domain.StepNotify, StepName: "Notify", Status: domain.AuditFail, Feedback: "No follow up."},
		},
		GeneratedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestMarkdownReport(t *testing.T) {
	out := Markdown(sampleReport(), nil)

	for _, want := range []string{
		"# The Recovery Room",
		"- Date: 2026-03-01",
		"- Outcome: **RESOLVED**",
		"- Final Score: 3/5 Stars ★★★☆☆",
		"> Instructor Summary: You stayed calm and fixed the WiFi.",
		`| L | Listen | Pass | You listened \| fully. |`,
		"| N | Notify | Fail | No follow up. |",
		footer,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("markdown missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Self-Reflection") {
		t.Fatal("survey section rendered without survey")
	}
}

func TestMarkdownWithSurvey(t *testing.T) {
	survey := &domain.SurveyRecord{Ratings: [5]int{5, 4, 3, 2, 1}, Reflection: "I ignored the coach once."}
	out := Markdown(sampleReport(), survey)

	for _, want := range []string{
		"## Self-Reflection Audit (Meta-TAM)",
		"1. **Strategic Thinking:**",
		"Student Rating: 5/5",
		"5. **Perceived Ease of Use:**",
		"Student Rating: 1/5",
		"6. **Reflection on AI Advice:**",
		"_I ignored the coach once._",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("markdown missing %q:\n%s", want, out)
		}
	}
}

func TestMarkdownFallbackReport(t *testing.T) {
	out := Markdown(Fallback(domain.ScenarioPrivacyBreach.Descriptor(), UnavailableSummary, time.Now()), nil)
	if !strings.Contains(out, "_No audit available._") {
		t.Fatalf("expected empty audit notice:\n%s", out)
	}
	if !strings.Contains(out, "0/5 Stars ☆☆☆☆☆") {
		t.Fatalf("expected zero stars:\n%s", out)
	}
}
