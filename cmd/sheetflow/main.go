// Package main provides the sheetflow command line: list worksheets,
// convert them to CSV and page through files from a terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kcoder666/sheetflow/internal/application"
	"github.com/kcoder666/sheetflow/internal/config"
	"github.com/kcoder666/sheetflow/internal/logging"
)

var (
	jsonOutput bool
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sheetflow",
		Short: "Convert large spreadsheets to CSV",
		Long: `sheetflow lists worksheets, converts them to size-limited CSV files
and pages through CSV files or worksheets without loading them whole.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(sheetsCmd(), convertCmd(), viewCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration the way the server does and wires the stack.
// Logs go to stderr so stdout carries only results.
func setup() (*application.App, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.SetupWriter(os.Stderr, logLevel, cfg.Logging.Format)
	return application.New(cfg), nil
}

// signalContext is cancelled on the first SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func shutdown(app *application.App) {
	ctx, cancel := context.WithTimeout(context.Background(), app.Config.Jobs.CancelGrace)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
