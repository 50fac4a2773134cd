package cli

import (
	"fmt"
	"io"

	"github.com/ashureev/recovery-room/internal/domain"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	guestStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	studentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	coachStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("244"))
	titleStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
)

var bandColors = map[domain.AngerBand]lipgloss.Color{
	domain.BandCalm:    "42",
	domain.BandAnnoyed: "184",
	domain.BandUpset:   "214",
	domain.BandFurious: "202",
	domain.BandIrate:   "196",
}

func angerLine(level int) string {
	band := domain.BandFor(level)
	style := lipgloss.NewStyle().Bold(true).Foreground(bandColors[band])
	return style.Render(fmt.Sprintf("Anger %d/10 %s", level, band))
}

func printTurn(w io.Writer, t domain.Turn) {
	if t.IsGuest() {
		fmt.Fprintf(w, "%s %s\n", guestStyle.Render("Guest:"), t.Text)
		if t.CoachingNote != "" {
			fmt.Fprintln(w, coachStyle.Render("  Coach: "+t.CoachingNote))
		}
		return
	}
	fmt.Fprintf(w, "%s %s\n", studentStyle.Render("You:"), t.Text)
}

// renderMarkdown writes md to w, styled for the terminal unless raw is set.
func renderMarkdown(w io.Writer, md string, raw bool) error {
	if raw {
		_, err := io.WriteString(w, md)
		return err
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}
