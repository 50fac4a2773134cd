package cli

import (
	"fmt"
	"os"

	"github.com/ashureev/recovery-room/internal/config"
	"github.com/ashureev/recovery-room/internal/report"
	"github.com/ashureev/recovery-room/internal/store"
	"github.com/spf13/cobra"
)

func newExportCommand() *cobra.Command {
	var (
		runID  string
		dbPath string
		raw    bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render the stored report of a finished encounter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				dbPath = os.Getenv("DB_PATH")
			}
			if dbPath == "" {
				dbPath = config.DefaultDBPath
			}
			repo, err := store.NewSQLite(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			run, err := repo.GetRun(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("session %s not found in %s", runID, dbPath)
			}
			if run.Report == nil {
				return fmt.Errorf("session %s has no report (status %s)", runID, run.Status)
			}
			return renderMarkdown(cmd.OutOrStdout(), report.Markdown(*run.Report, run.Survey), raw)
		},
	}
	cmd.Flags().StringVar(&runID, "session", "", "Session (run) id to export")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default $DB_PATH or "+config.DefaultDBPath+")")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print plain Markdown")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
