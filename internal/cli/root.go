// Package cli defines the rrctl commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/recovery-room/internal/config"
	"github.com/ashureev/recovery-room/internal/observability"
	"github.com/ashureev/recovery-room/internal/proctor"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev" // set via ldflags at build time

// Deps are the collaborators commands open on demand.
type Deps struct {
	LoadConfig  func() (*config.Config, error)
	OpenGateway func(ctx context.Context, cfg config.ProctorConfig, logger *slog.Logger) (proctor.Gateway, func(), error)
}

// DefaultDeps reads the environment and opens real providers.
func DefaultDeps() Deps {
	return Deps{
		LoadConfig:  config.Load,
		OpenGateway: proctor.Open,
	}
}

type rootOptions struct {
	verbose bool
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return observability.NewLogger(w, level)
}

// NewRootCommand builds the rrctl command tree.
func NewRootCommand(deps Deps) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "rrctl",
		Short: "Practice hospitality service recovery against an angry guest",
		Long: `rrctl runs Recovery Room encounters in the terminal. Pick a scenario,
calm the guest with the LEARN model (Listen, Empathize, Apologize, React,
Notify) and read the proctor's audit when the encounter ends.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log gateway and session activity to stderr")

	root.AddCommand(newScenariosCommand())
	root.AddCommand(newPlayCommand(deps, opts))
	root.AddCommand(newExportCommand())
	return root
}

// Execute runs rrctl. Called from main.
func Execute() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCommand(DefaultDeps()).ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
