// Command remindbot runs the reminder bot.
//
// Usage:
//
//	remindbot                       # run with ./config.json
//	remindbot run --config bot.yaml
//	remindbot check --config bot.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"remindbot/internal/app"
	"remindbot/internal/config"
)

const stopTimeout = 10 * time.Second

func main() {
	var cfgPath, envPath string

	runE := func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), cfgPath, envPath)
	}
	root := &cobra.Command{
		Use:           "remindbot",
		Short:         "Chat bot that reminds you after a delay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runE,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.json", "path to config (json or yaml)")
	root.PersistentFlags().StringVar(&envPath, "env", ".env", "dotenv file with secrets (optional)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Connect to the chat platform and serve reminders",
		Args:  cobra.NoArgs,
		RunE:  runE,
	})
	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envPath); err != nil {
				return err
			}
			cfg, err := config.NewManager(cfgPath).Parse()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s (transport=%s)\n", cfgPath, cfg.Transport.Driver)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(parent context.Context, cfgPath, envPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := config.LoadDotEnv(envPath); err != nil {
		return fmt.Errorf("load %s: %w", envPath, err)
	}

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(config.NewManager(cfgPath), app.Options{})
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}
