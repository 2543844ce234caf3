package main

import (
	"fmt"
	"os"

	"qms/qalert/internal/config"
	"qms/qalert/internal/telemetry"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// qalertApp carries the loaded configuration into every subcommand.
type qalertApp struct {
	cfg config.Config
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func preRun(app *qalertApp, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(*configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		telemetry.SetupLogging(cfg.LogLevel, cfg.LogFormat)
		app.cfg = cfg
		return nil
	}
}

func newRootCommand() *cobra.Command {
	var configFile string
	app := &qalertApp{}

	rootCmd := &cobra.Command{
		Use:           "qalert",
		Short:         "Clinic visit queue and live display",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML configuration file (QALERT_* variables override it)")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serveCommand(app))
	rootCmd.AddCommand(displayCommand(app))
	rootCmd.AddCommand(workerCommand(app))
	return rootCmd
}

func main() {
	defer recoverPanic()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
