package report

import (
	"fmt"
	"strings"

	"github.com/ashureev/recovery-room/internal/domain"
)

const footer = "Generated by The Recovery Room - Hospitality Service Simulator"

// Markdown renders rec, and survey when non-nil, as a standalone document.
func Markdown(rec domain.ReportRecord, survey *domain.SurveyRecord) string {
	var b strings.Builder

	b.WriteString("# The Recovery Room\n\n")
	b.WriteString("**OFFICIAL SIMULATION REPORT**\n\n")

	fmt.Fprintf(&b, "- Date: %s\n", rec.GeneratedAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "- Scenario: %s\n", rec.Scenario)
	fmt.Fprintf(&b, "- Outcome: **%s**\n", rec.Outcome)
	fmt.Fprintf(&b, "- Final Score: %d/%d Stars %s\n", rec.Score, domain.MaxScore, stars(rec.Score))
	fmt.Fprintf(&b, "- Final Anger: %d/%d\n\n", rec.FinalAnger, domain.MaxAnger)

	fmt.Fprintf(&b, "> Instructor Summary: %s\n\n", oneLine(rec.Summary))

	b.WriteString("## LEARN Audit\n\n")
	if len(rec.Audit) == 0 {
		b.WriteString("_No audit available._\n\n")
	} else {
		b.WriteString("| Step | Criteria | Status | Feedback |\n")
		b.WriteString("|:---:|---|:---:|---|\n")
		for _, item := range rec.Audit {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				item.StepCode, cell(item.StepName), item.Status, cell(item.Feedback))
		}
		b.WriteString("\n")
	}

	if survey != nil {
		b.WriteString("## Self-Reflection Audit (Meta-TAM)\n\n")
		for i, q := range domain.SurveyQuestions {
			fmt.Fprintf(&b, "%d. **%s:** %s  \n   Student Rating: %d/5\n", i+1, q.Construct, q.Text, survey.Ratings[i])
		}
		fmt.Fprintf(&b, "%d. **Reflection on AI Advice:**  \n   _%s_\n\n", len(domain.SurveyQuestions)+1, oneLine(survey.Reflection))
	}

	b.WriteString("---\n\n")
	b.WriteString(footer)
	b.WriteString("\n")
	return b.String()
}

func stars(score int) string {
	score = clamp(score, 0, domain.MaxScore)
	return strings.Repeat("★", score) + strings.Repeat("☆", domain.MaxScore-score)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cell(s string) string {
	return strings.ReplaceAll(oneLine(s), "|", `\|`)
}
