package proctor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GenAIConfig configures the Gemini gateway.
type GenAIConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// GenAIGateway implements Gateway with Google's Gemini API in JSON mode.
type GenAIGateway struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	prompts *Prompts
	logger  *slog.Logger
}

// NewGenAIGateway creates a Gemini-backed gateway.
func NewGenAIGateway(ctx context.Context, cfg GenAIConfig, prompts *Prompts, logger *slog.Logger) (*GenAIGateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("GenAI API key is required")
	}
	if prompts == nil {
		return nil, errors.New("prompts are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIGateway{
		client:  client,
		model:   model,
		timeout: cfg.Timeout,
		prompts: prompts,
		logger:  logger,
	}, nil
}

// RequestTurn asks Gemini for the guest's next reply.
func (g *GenAIGateway) RequestTurn(ctx context.Context, req TurnRequest) (string, error) {
	msgs, err := g.prompts.Conversation(req)
	if err != nil {
		return "", err
	}

	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.Role(genai.RoleUser)
		if m.Guest {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}

	return g.generate(ctx, contents, turnSchema())
}

// RequestAudit asks Gemini to grade the transcript.
func (g *GenAIGateway) RequestAudit(ctx context.Context, req AuditRequest) (string, error) {
	prompt, err := g.prompts.Audit(req)
	if err != nil {
		return "", err
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	return g.generate(ctx, contents, reportSchema())
}

func (g *GenAIGateway) generate(ctx context.Context, contents []*genai.Content, schema *genai.Schema) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.prompts.SystemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    schema,
	})
	if err != nil {
		return "", fmt.Errorf("%w: gemini generate: %v", ErrGatewayUnavailable, err)
	}

	text := resp.Text()
	g.logger.Debug("Gemini response received",
		"model", g.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"length", len(text),
	)
	return text, nil
}

func turnSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"thought_process": {Type: genai.TypeString, Description: "Analyze the student's input based on LEARN model."},
			"anger_level":     {Type: genai.TypeInteger, Description: "Current anger level from 0 to 10."},
			"spoken_response": {Type: genai.TypeString, Description: "The guest's spoken reply."},
			"instant_feedback": {
				Type:        genai.TypeString,
				Description: "One short sentence (max 15 words) coaching the student on their last response based on LEARN.",
				Nullable:    genai.Ptr(true),
			},
			"status": {Type: genai.TypeString, Enum: []string{"active", "failed", "resolved"}},
		},
		Required: []string{"thought_process", "anger_level", "spoken_response", "status"},
	}
}

func reportSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"scenario":    {Type: genai.TypeString},
			"outcome":     {Type: genai.TypeString, Enum: []string{"RESOLVED", "FAILED"}},
			"final_anger": {Type: genai.TypeInteger},
			"score":       {Type: genai.TypeInteger, Description: "Score out of 5 stars"},
			"summary":     {Type: genai.TypeString, Description: "Brief overall comment."},
			"audit": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"step_code": {Type: genai.TypeString, Enum: []string{"L", "E", "A", "R", "N"}},
						"step_name": {Type: genai.TypeString},
						"status":    {Type: genai.TypeString, Enum: []string{"Pass", "Fail"}},
						"feedback":  {Type: genai.TypeString},
					},
					Required: []string{"step_code", "step_name", "status", "feedback"},
				},
			},
		},
		Required: []string{"scenario", "outcome", "final_anger", "score", "summary", "audit"},
	}
}
