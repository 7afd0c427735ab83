package app

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/agentstation/reclaim"
	"github.com/agentstation/reclaim/internal/cmd/output"
	"github.com/agentstation/reclaim/internal/config"
	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/logging"
	"github.com/agentstation/reclaim/pkg/report"
)

// flagKeys maps reconcile flags onto their viper keys so that flags win
// over the environment, the config file and the defaults.
var flagKeys = map[string]string{
	"store":                config.KeyStore,
	"ledger":               config.KeyLedger,
	"history-git":          config.KeyHistoryGit,
	"history-logs":         config.KeyHistoryLogs,
	"history-manifests":    config.KeyHistoryManifests,
	"confidence-threshold": config.KeyThreshold,
	"methods":              config.KeyMethods,
	"workers":              config.KeyWorkers,
	"batch-size":           config.KeyBatchSize,
	"timeout":              config.KeyTimeout,
	"destination-template": config.KeyDestinationTemplate,
	"report-path":          config.KeyReportPath,
	"report-format":        config.KeyReportFormat,
	"rate-limit":           config.KeyRateLimit,
}

// NewReconcileCommand creates the reconcile command.
func (a *App) NewReconcileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reconcile",
		GroupID: "core",
		Short:   "Match orphaned assets to owners and optionally move them",
		Long: `Reconcile discovers orphaned assets, collects evidence linking each
one to an owner, fuses the evidence into a ranked candidate list and
writes a preview report.

With --execute, every winner at or above the confidence threshold is
copied into its owner's namespace, verified, claimed in the ledger and
removed from the orphan pool. Everything else stays pending for review.`,
		Example: `  # Preview what would be reclaimed
  reclaim reconcile --store /srv/assets --ledger /srv/ledger.db

  # Commit confident matches using exact and history evidence only
  reclaim reconcile --execute --methods exact,history \
    --history-manifests /srv/manifests --confidence-threshold 0.8`,
		Args: cobra.NoArgs,
		RunE: a.runReconcile,
	}

	flags := cmd.Flags()
	flags.Bool("dry-run", true, "compute and report the plan without changing anything")
	flags.Bool("execute", false, "commit matches at or above the confidence threshold")
	flags.Float64("confidence-threshold", constants.DefaultConfidenceThreshold, "minimum fused confidence for an automatic commit")
	flags.StringSlice("methods", []string{"exact", "structured", "name", "size", "history"}, "evidence methods to run")
	flags.String("store", "", "asset store root directory")
	flags.String("ledger", "", "ledger database file")
	flags.StringSlice("history-git", nil, "git repositories whose commit messages are searched")
	flags.StringSlice("history-logs", nil, "directories of upload and application logs")
	flags.StringSlice("history-manifests", nil, "directories of upload manifests (JSON or YAML)")
	flags.Int("workers", constants.DefaultWorkers, "collector and commit worker pool size")
	flags.Int("batch-size", constants.DefaultBatchSize, "assets per collector invocation")
	flags.Duration("timeout", constants.CommandTimeout, "timeout for the whole run (0 disables)")
	flags.String("destination-template", constants.DefaultDestinationTemplate, "destination key template")
	flags.String("report-path", constants.DefaultReportDir, "directory report files are written to")
	flags.String("report-format", report.FormatJSON.String(), "report file format: json, yaml")
	flags.Float64("rate-limit", constants.StoreRateLimit, "store calls per second (0 disables)")
	flags.String("run-id", "", "run id (generated when empty)")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "execute")

	return cmd
}

func (a *App) runReconcile(cmd *cobra.Command, _ []string) error {
	if err := a.bindFlags(cmd.Flags()); err != nil {
		return err
	}
	settings, err := config.Load(a.viper)
	if err != nil {
		return err
	}
	methods, err := settings.ParsedMethods()
	if err != nil {
		return err
	}

	engine, err := a.Engine(settings)
	if err != nil {
		return err
	}

	execute := mustGetBool(cmd, "execute")
	opts := []reclaim.ReconcileOption{
		reclaim.WithDryRun(!execute),
		reclaim.WithThreshold(settings.Threshold),
		reclaim.WithMethods(methods...),
		reclaim.WithTimeout(settings.Timeout),
	}
	if runID := mustGetString(cmd, "run-id"); runID != "" {
		opts = append(opts, reclaim.WithRunID(runID))
	}

	ctx := logging.WithLogger(cmd.Context(), a.logger)
	result, runErr := engine.Reconcile(ctx, opts...)
	if result == nil {
		return runErr
	}

	if err := a.printResult(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if result.HasFailures() {
		s := result.Report().Summary
		return fmt.Errorf("%w: %d failed, %d rolled back", ErrPartialFailure, s.Failed, s.RolledBack)
	}
	return nil
}

// bindFlags binds the reconcile flags to their viper keys.
func (a *App) bindFlags(flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := a.viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return errors.NewConfigError("flags", "failed to bind --"+name, err)
		}
	}
	return nil
}

func (a *App) printResult(w io.Writer, result *reclaim.Result) error {
	format, err := output.ParseFormat(string(output.DetectFormat(a.config.Format)))
	if err != nil {
		return err
	}
	if err := output.FormatReport(w, result.Report(), format); err != nil {
		return err
	}

	if format == output.FormatTable || format == output.FormatWide {
		for _, path := range []string{result.PreviewPath, result.FinalPath} {
			if path != "" {
				if _, err := fmt.Fprintf(w, "\nReport: %s\n", path); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
