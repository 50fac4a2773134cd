package proctor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/recovery-room/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Fully qualified names of the remote persona service.
const (
	ProctorServiceName = "recoveryroom.proctor.v1.ProctorService"
	requestTurnMethod  = "/" + ProctorServiceName + "/RequestTurn"
	requestAuditMethod = "/" + ProctorServiceName + "/RequestAudit"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcClientConfig holds configuration for the gRPC gateway.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   60 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcGateway implements Gateway against a remote persona service that speaks
// ProctorServiceDesc. Requests are structpb.Struct, replies wrapperspb.StringValue.
type GrpcGateway struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGrpcGateway connects to the persona service and fails fast if it is not
// reachable within cfg.ConnectTimeout.
func NewGrpcGateway(cfg GrpcClientConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcGateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = defaults.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = defaults.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaults.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to persona service at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("persona service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to persona service", "address", cfg.Address)

	return &GrpcGateway{
		conn:    conn,
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (g *GrpcGateway) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// RequestTurn forwards the turn request to the persona service.
func (g *GrpcGateway) RequestTurn(ctx context.Context, req TurnRequest) (string, error) {
	in, err := structpb.NewStruct(map[string]any{
		"scenario":             string(req.Scenario.ID),
		"scenario_description": req.Scenario.Description,
		"current_anger":        req.CurrentAnger,
		"history":              historyValues(req.History),
	})
	if err != nil {
		return "", fmt.Errorf("encode turn request: %w", err)
	}
	return g.invoke(ctx, requestTurnMethod, in)
}

// RequestAudit forwards the transcript to the persona service for grading.
func (g *GrpcGateway) RequestAudit(ctx context.Context, req AuditRequest) (string, error) {
	in, err := structpb.NewStruct(map[string]any{
		"scenario":             string(req.Scenario.ID),
		"scenario_description": req.Scenario.Description,
		"transcript":           historyValues(req.Transcript),
	})
	if err != nil {
		return "", fmt.Errorf("encode audit request: %w", err)
	}
	return g.invoke(ctx, requestAuditMethod, in)
}

func (g *GrpcGateway) invoke(ctx context.Context, method string, in *structpb.Struct) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	out := new(wrapperspb.StringValue)
	if err := g.conn.Invoke(ctx, method, in, out); err != nil {
		g.logger.Warn("persona service call failed", "method", method, "error", err)
		return "", fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, method, err)
	}
	return out.GetValue(), nil
}

func historyValues(turns []domain.Turn) []any {
	values := make([]any, 0, len(turns))
	for _, t := range turns {
		values = append(values, map[string]any{
			"role": string(t.Role),
			"text": t.Text,
		})
	}
	return values
}
