// Package proctor talks to the external reasoning service that plays the
// angry guest during a session and grades the transcript afterwards.
package proctor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ashureev/recovery-room/internal/domain"
)

// ErrGatewayUnavailable wraps every transport or service failure.
var ErrGatewayUnavailable = errors.New("proctor gateway unavailable")

// TurnRequest asks the persona for its next reply. An empty History means the
// bootstrap outburst that opens the session.
type TurnRequest struct {
	Scenario     domain.ScenarioDescriptor
	History      []domain.Turn
	CurrentAnger int
}

// Bootstrap reports whether the request opens the encounter.
func (r TurnRequest) Bootstrap() bool {
	return len(r.History) == 0
}

// AuditRequest asks the proctor to grade a finished transcript.
type AuditRequest struct {
	Scenario   domain.ScenarioDescriptor
	Transcript []domain.Turn
}

// Gateway returns raw service text. Implementations own prompt wording, model
// choice and timeouts; they never interpret the reply.
type Gateway interface {
	RequestTurn(ctx context.Context, req TurnRequest) (string, error)
	RequestAudit(ctx context.Context, req AuditRequest) (string, error)
}

// splitHistory separates the student message being answered from the turns
// that precede it.
func splitHistory(history []domain.Turn) ([]domain.Turn, string) {
	if len(history) == 0 {
		return nil, ""
	}
	last := history[len(history)-1]
	if last.Role != domain.RoleStudent {
		return history, ""
	}
	return history[:len(history)-1], last.Text
}

// TranscriptText renders turns as role-tagged lines.
func TranscriptText(turns []domain.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.ToUpper(string(t.Role)))
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
