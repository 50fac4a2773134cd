package cli

import (
	"fmt"

	"github.com/ashureev/recovery-room/internal/domain"
	"github.com/spf13/cobra"
)

func newScenariosCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the available guest scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			for _, s := range domain.Scenarios() {
				fmt.Fprintf(w, "%-16s %s\n", s.ID, titleStyle.Render(s.Title))
				fmt.Fprintf(w, "%-16s %s\n\n", "", s.Summary)
			}
			return nil
		},
	}
}
