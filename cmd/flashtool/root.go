package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arthur-debert/flashtool/pkg/flashtool"
	"github.com/arthur-debert/flashtool/pkg/flashtool/config"
	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flashtool",
		Short: "Install an appliance image onto embedded storage",
		Long: `flashtool reads a settings document describing partition tables, raw images,
filesystems, NAND and UBI volumes, and boot environment updates, and applies it to the
device it runs on, one step at a time, stopping at the first failure.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "YAML config file (defaults and FLASHTOOL_* environment otherwise)")
	cmd.PersistentFlags().String("settings", "", "settings document to install")
	cmd.PersistentFlags().String("log-level", "", "trace, debug, info, warn or error")

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// SIGINT and SIGTERM stop the run before the next step starts.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Long:  `Print the version number of flashtool`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "flashtool version %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// setup loads the configuration with flag overrides on top and builds the
// logger. Flags win over the config file and the environment.
func setup(cmd *cobra.Command, v *viper.Viper) (*config.AppConfig, core.Logger, error) {
	flags := map[string]string{
		"settings":     "settings_path",
		"log-level":    "log_level",
		"metrics-file": "metrics_file",
	}
	for flag, key := range flags {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, nil, err
			}
		}
	}

	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, file)
	if err != nil {
		return nil, nil, err
	}

	level, err := flashtool.LogLevelFromString(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zl := flashtool.NewLogger(cmd.ErrOrStderr(), level)
	return cfg, flashtool.NewLoggerAdapter(&zl), nil
}

// statusPrinter renders status notifications as console lines.
func statusPrinter(w io.Writer) core.StatusSink {
	return core.StatusSinkFunc(func(s core.Status) {
		switch {
		case s.Icon == core.IconError:
			fmt.Fprintf(w, "[FAIL] %s\n", s.Message)
		case s.Icon == core.IconOK:
			fmt.Fprintf(w, "[ OK ] %s\n", s.Message)
		case s.Busy:
			fmt.Fprintf(w, "[....] %s\n", s.Message)
		default:
			fmt.Fprintf(w, "       %s\n", s.Message)
		}
	})
}
