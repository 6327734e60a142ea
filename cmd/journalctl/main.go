package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/evidence-journal/internal/bootstrap"
	"github.com/kirillkom/evidence-journal/internal/config"
	"github.com/kirillkom/evidence-journal/internal/observability/logging"
)

var (
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "journalctl",
	Short:         "Operate the evidence journal",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
		slog.SetDefault(logging.New(cmd.ErrOrStderr(), "journalctl", logLevel, "text"))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to the .env file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

// withApp runs fn against a fully wired journal.
func withApp(ctx context.Context, fn func(*bootstrap.App) error) error {
	cfg := config.Load()
	app, err := bootstrap.New(ctx, cfg, "journalctl")
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
