package proctor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/recovery-room/internal/config"
)

func TestOpenSelectsProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.ProctorConfig
		want     func(Gateway) bool
	}{
		{
			name:     "anthropic",
			cfg:      config.ProctorConfig{Provider: config.ProviderAnthropic, AnthropicAPIKey: "test-key", Timeout: time.Second},
			want:     func(g Gateway) bool { _, ok := g.(*ClaudeGateway); return ok },
		},
		{
			name:     "gemini",
			cfg:      config.ProctorConfig{Provider: config.ProviderGemini, GeminiAPIKey: "test-key", Timeout: time.Second},
			want:     func(g Gateway) bool { _, ok := g.(*GenAIGateway); return ok },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, closeFn, err := Open(context.Background(), tt.cfg, nil)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer closeFn()

			traced, ok := g.(*tracedGateway)
			if !ok {
				t.Fatalf("expected tracing wrapper, got %T", g)
			}
			if !tt.want(traced.next) {
				t.Fatalf("unexpected gateway %T", traced.next)
			}
		})
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	if _, _, err := Open(context.Background(), config.ProctorConfig{Provider: "palm"}, nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, _, err := Open(context.Background(), config.ProctorConfig{Provider: config.ProviderAnthropic}, nil); err == nil {
		t.Fatal("expected error for missing API key")
	}

	bad := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(bad, []byte("turn_prompt: \"{{ .Missing\"\n"), 0o600); err != nil {
		t.Fatalf("write prompts: %v", err)
	}
	_, _, err := Open(context.Background(), config.ProctorConfig{
		Provider:        config.ProviderAnthropic,
		AnthropicAPIKey: "test-key",
		PromptsPath:     bad,
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "prompt") {
		t.Fatalf("expected prompt template error, got %v", err)
	}
}
