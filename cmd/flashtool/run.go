package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/flashtool/pkg/flashtool"
	"github.com/arthur-debert/flashtool/pkg/flashtool/config"
	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/metrics"
)

func newRunCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Install the appliance described by the settings document",
		Long: `Compile the settings document for the detected flash mode and boot media and
run every selected step in order. When started from the recovery partition the
device reboots after a successful installation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, logger, err := setup(cmd, config.New())
			if err != nil {
				return err
			}

			opts := flashtool.Options{
				Config: cfg,
				Logger: logger,
				Sink:   statusPrinter(out),
				DryRun: dryRun,
			}
			if dryRun {
				opts.DryRunPrint = func(line string) { fmt.Fprintf(out, "DRY RUN: %s\n", line) }
			}
			if cfg.MetricsFile != "" {
				opts.Metrics = metrics.NewRecorder()
			}

			result, err := flashtool.Run(cmd.Context(), opts)
			if errors.Is(err, flashtool.ErrNothingToDo) {
				fmt.Fprintln(out, "Nothing to install.")
				return nil
			}
			if result != nil {
				fmt.Fprintln(out)
				for _, step := range result.Steps {
					mark := "✓"
					if step.Status != core.StatusSuccess {
						mark = "✗"
					}
					fmt.Fprintf(out, "  %s %s (%s)\n", mark, step.ID, step.Status)
				}
			}
			if err != nil {
				return fmt.Errorf("installation failed: %w", err)
			}

			fmt.Fprintf(out, "\n✓ Installed in %v\n", result.Duration)
			if result.RebootScheduled {
				fmt.Fprintf(out, "Rebooting in %v\n", cfg.RebootDelay)
				return result.Wait()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print every external command instead of running it")
	cmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this file after the run")

	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Compile the settings document without running it",
		Long:  "Load and compile the settings document for the detected flash mode and boot media and list the resulting steps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, logger, err := setup(cmd, config.New())
			if err != nil {
				return err
			}

			plan, err := flashtool.Validate(flashtool.Options{Config: cfg, Logger: logger, Sink: statusPrinter(out)})
			if err != nil {
				return fmt.Errorf("settings are not valid: %w", err)
			}

			fmt.Fprintf(out, "Mode: %s, media: %s, version: %s\n", plan.Mode, plan.Media, plan.Settings.ApplianceVersion)
			ops := plan.Sequence.Operations()
			if len(ops) == 0 {
				fmt.Fprintln(out, "Nothing to install.")
				return nil
			}
			for i, op := range ops {
				desc := op.Describe()
				fmt.Fprintf(out, "  %3d  %-28s %-26s %s\n", i+1, op.ID(), desc.Type, desc.Path)
			}
			return nil
		},
	}
}
