package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("PROCTOR_PROVIDER", "Gemini")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.Proctor.Provider != ProviderGemini || cfg.Proctor.Timeout != 60*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.Simulation.EnforceThresholds {
		t.Fatal("threshold safety net should default on")
	}
	if cfg.SessionIdleTTL != 30*time.Minute || cfg.RateLimit.Turns != 20 {
		t.Fatalf("unexpected session defaults: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PROCTOR_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("PROCTOR_TIMEOUT", "15s")
	t.Setenv("SIM_ENFORCE_THRESHOLDS", "off")
	t.Setenv("SESSION_IDLE_TTL", "not-a-duration")
	t.Setenv("RATE_LIMIT_TURNS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Proctor.Provider != ProviderAnthropic || cfg.Proctor.Timeout != 15*time.Second {
		t.Fatalf("unexpected proctor config: %+v", cfg.Proctor)
	}
	if cfg.Simulation.EnforceThresholds {
		t.Fatal("SIM_ENFORCE_THRESHOLDS=off should disable the safety net")
	}
	if cfg.SessionIdleTTL != 30*time.Minute {
		t.Fatalf("invalid duration should fall back, got %s", cfg.SessionIdleTTL)
	}
	if cfg.RateLimit.Turns != 5 {
		t.Fatalf("unexpected rate limit: %d", cfg.RateLimit.Turns)
	}
}

func TestProctorValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProctorConfig
		wantErr string
	}{
		{"gemini without key", ProctorConfig{Provider: ProviderGemini, Timeout: time.Second}, "GEMINI_API_KEY"},
		{"anthropic without key", ProctorConfig{Provider: ProviderAnthropic, Timeout: time.Second}, "ANTHROPIC_API_KEY"},
		{"grpc without addr", ProctorConfig{Provider: ProviderGRPC, Timeout: time.Second}, "PROCTOR_GRPC_ADDR"},
		{"unknown provider", ProctorConfig{Provider: "openai", Timeout: time.Second}, "PROCTOR_PROVIDER"},
		{"zero timeout", ProctorConfig{Provider: ProviderGRPC, GRPCAddr: "x:1"}, "PROCTOR_TIMEOUT"},
		{"valid grpc", ProctorConfig{Provider: ProviderGRPC, GRPCAddr: "x:1", Timeout: time.Second}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{FrontendURL: "https://rr.example.edu/, https://staging.rr.example.edu"}
	got := cfg.AllowedOrigins()
	if len(got) != 2 || got[0] != "https://rr.example.edu" || got[1] != "https://staging.rr.example.edu" {
		t.Fatalf("unexpected origins: %v", got)
	}
	if cfg.IsDevelopment() {
		t.Fatal("production URL should not be development")
	}
}
