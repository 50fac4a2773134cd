package proctor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/recovery-room/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

// Open builds the gateway selected by cfg and wraps it with tracing. The
// returned func releases any connection the gateway holds.
func Open(ctx context.Context, cfg config.ProctorConfig, logger *slog.Logger) (Gateway, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func() {}

	if cfg.Provider == config.ProviderGRPC {
		g, err := NewGrpcGateway(GrpcClientConfig{
			Address:        cfg.GRPCAddr,
			RequestTimeout: cfg.Timeout,
		}, logger, grpc.WithStatsHandler(otelgrpc.NewClientHandler()))
		if err != nil {
			return nil, noop, err
		}
		return WithTracing(g, string(cfg.Provider)), g.Close, nil
	}

	prompts, err := LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return nil, noop, err
	}

	var g Gateway
	switch cfg.Provider {
	case config.ProviderGemini:
		g, err = NewGenAIGateway(ctx, GenAIConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, prompts, logger)
	case config.ProviderAnthropic:
		g, err = NewClaudeGateway(ClaudeConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, prompts, logger)
	default:
		err = fmt.Errorf("unknown proctor provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, noop, err
	}
	logger.Info("Proctor gateway ready", "provider", cfg.Provider, "model", cfg.Model, "prompts", cfg.PromptsPath)
	return WithTracing(g, string(cfg.Provider)), noop, nil
}
