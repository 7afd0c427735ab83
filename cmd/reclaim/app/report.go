package app

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/reclaim/internal/cmd/output"
	"github.com/agentstation/reclaim/pkg/report"
)

// NewReportCommand creates the report command.
func (a *App) NewReportCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "report <file>",
		GroupID: "core",
		Short:   "Render a stored reconciliation report",
		Long: `Report loads a report file written by reconcile (JSON or YAML) and
renders it as a table, or re-encodes it with --format json|yaml.
Use --format wide to include evidence, alternatives and errors.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := report.Load(args[0])
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(string(output.DetectFormat(a.config.Format)))
			if err != nil {
				return err
			}
			return output.FormatReport(cmd.OutOrStdout(), r, format)
		},
	}
}
