package proctor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultClaudeModel is used when no model is configured.
const DefaultClaudeModel = "claude-haiku-4-5-20251001"

const claudeMaxTokens = 2048

// ClaudeConfig configures the Anthropic gateway.
type ClaudeConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// ClaudeGateway implements Gateway with the Anthropic Messages API.
type ClaudeGateway struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	prompts *Prompts
	logger  *slog.Logger
}

// NewClaudeGateway creates an Anthropic-backed gateway.
func NewClaudeGateway(cfg ClaudeConfig, prompts *Prompts, logger *slog.Logger) (*ClaudeGateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	if prompts == nil {
		return nil, errors.New("prompts are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultClaudeModel
	}
	return &ClaudeGateway{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   model,
		timeout: cfg.Timeout,
		prompts: prompts,
		logger:  logger,
	}, nil
}

// RequestTurn asks Claude for the guest's next reply.
func (g *ClaudeGateway) RequestTurn(ctx context.Context, req TurnRequest) (string, error) {
	msgs, err := g.prompts.Conversation(req)
	if err != nil {
		return "", err
	}

	messages := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		if m.Guest {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		}
	}

	return g.send(ctx, messages)
}

// RequestAudit asks Claude to grade the transcript.
func (g *ClaudeGateway) RequestAudit(ctx context.Context, req AuditRequest) (string, error) {
	prompt, err := g.prompts.Audit(req)
	if err != nil {
		return "", err
	}
	return g.send(ctx, []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	})
}

func (g *ClaudeGateway) send(ctx context.Context, messages []anthropic.MessageParam) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	message, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: claudeMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: g.prompts.SystemInstruction},
		},
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("%w: claude messages: %v", ErrGatewayUnavailable, err)
	}

	text := extractText(message)
	g.logger.Debug("Claude response received",
		"model", g.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"stop_reason", string(message.StopReason),
		"length", len(text),
	)
	return text, nil
}

func extractText(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	return strings.Join(parts, "")
}
