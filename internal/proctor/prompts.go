package proctor

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/ashureev/recovery-room/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompts holds the prompt wording sent to the reasoning service.
type Prompts struct {
	SystemInstruction string `yaml:"system_instruction"`
	StartPrompt       string `yaml:"start_prompt"`
	TurnPrompt        string `yaml:"turn_prompt"`
	AuditPrompt       string `yaml:"audit_prompt"`

	start *template.Template
	turn  *template.Template
	audit *template.Template
}

// DefaultPrompts returns the embedded prompt catalog.
func DefaultPrompts() (*Prompts, error) {
	return ParsePrompts(defaultPrompts)
}

// LoadPrompts reads a prompt catalog from path. Fields missing from the file
// keep their embedded default.
func LoadPrompts(path string) (*Prompts, error) {
	if path == "" {
		return DefaultPrompts()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompts: %w", err)
	}

	base, err := DefaultPrompts()
	if err != nil {
		return nil, err
	}
	var override Prompts
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parsing prompts %s: %w", path, err)
	}
	if override.SystemInstruction != "" {
		base.SystemInstruction = override.SystemInstruction
	}
	if override.StartPrompt != "" {
		base.StartPrompt = override.StartPrompt
	}
	if override.TurnPrompt != "" {
		base.TurnPrompt = override.TurnPrompt
	}
	if override.AuditPrompt != "" {
		base.AuditPrompt = override.AuditPrompt
	}
	if err := base.compile(); err != nil {
		return nil, err
	}
	return base, nil
}

// ParsePrompts parses a YAML prompt catalog.
func ParsePrompts(data []byte) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing prompts: %w", err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Prompts) compile() error {
	if p.SystemInstruction == "" {
		return errors.New("prompts: system_instruction is empty")
	}
	var err error
	if p.start, err = template.New("start").Option("missingkey=error").Parse(p.StartPrompt); err != nil {
		return fmt.Errorf("prompts: start_prompt: %w", err)
	}
	if p.turn, err = template.New("turn").Option("missingkey=error").Parse(p.TurnPrompt); err != nil {
		return fmt.Errorf("prompts: turn_prompt: %w", err)
	}
	if p.audit, err = template.New("audit").Option("missingkey=error").Parse(p.AuditPrompt); err != nil {
		return fmt.Errorf("prompts: audit_prompt: %w", err)
	}
	return nil
}

// Start renders the bootstrap prompt.
func (p *Prompts) Start(req TurnRequest) (string, error) {
	return render(p.start, map[string]any{
		"Scenario": req.Scenario.Description,
		"Anger":    req.CurrentAnger,
	})
}

// Turn renders the per-turn prompt for the student's latest message.
func (p *Prompts) Turn(student string, anger int) (string, error) {
	return render(p.turn, map[string]any{
		"Student": student,
		"Anger":   anger,
	})
}

// Audit renders the proctor prompt.
func (p *Prompts) Audit(req AuditRequest) (string, error) {
	return render(p.audit, map[string]any{
		"Scenario":   req.Scenario.Description,
		"Transcript": TranscriptText(req.Transcript),
	})
}

// TurnMessage renders the prompt for req: the bootstrap prompt when the
// history is empty, otherwise the per-turn prompt. The returned history
// excludes the student message folded into the prompt.
func (p *Prompts) TurnMessage(req TurnRequest) (string, []domain.Turn, error) {
	if req.Bootstrap() {
		prompt, err := p.Start(req)
		return prompt, nil, err
	}
	prior, student := splitHistory(req.History)
	prompt, err := p.Turn(student, req.CurrentAnger)
	return prompt, prior, err
}

// Message is one provider-neutral chat message. Guest messages map to the
// model/assistant role, everything else to the user role.
type Message struct {
	Guest bool
	Text  string
}

// Conversation builds the full message list for req. Every request opens
// with the bootstrap prompt, so the scenario travels with each turn and the
// list always starts with a user message. Blank turns are skipped.
func (p *Prompts) Conversation(req TurnRequest) ([]Message, error) {
	prompt, prior, err := p.TurnMessage(req)
	if err != nil {
		return nil, err
	}
	if req.Bootstrap() {
		return []Message{{Text: prompt}}, nil
	}

	opening, err := p.Start(TurnRequest{Scenario: req.Scenario, CurrentAnger: domain.BootstrapAnger})
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(prior)+2)
	msgs = append(msgs, Message{Text: opening})
	for _, t := range prior {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		msgs = append(msgs, Message{Guest: t.Role == domain.RoleGuest, Text: t.Text})
	}
	return append(msgs, Message{Text: prompt}), nil
}

func render(t *template.Template, data map[string]any) (string, error) {
	if t == nil {
		return "", errors.New("prompts: template not compiled")
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}
