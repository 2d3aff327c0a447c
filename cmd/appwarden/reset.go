package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goodtune/appwarden/internal/config"
	"github.com/goodtune/appwarden/internal/usage"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset daily usage of every app",
	Long: `Clear daily usage and end every session now, as the daily reset would.
The running daemon performs the reset when it answers; otherwise storage
is reset directly.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var result struct {
		Records int `json:"records"`
	}
	err = newAdminClient(cfg).do(ctx, "POST", "/api/v1/reset", &result)
	if errors.Is(err, errAdminUnavailable) {
		result.Records, err = localReset(ctx, cfg)
	}
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Daily usage reset (%d records)\n", result.Records)
	return nil
}

func localReset(ctx context.Context, cfg *config.Config) (int, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return 0, fmt.Errorf("daemon not reachable and storage unavailable: %w", err)
	}
	defer store.Close()

	engine, err := usage.NewEngine(usage.Config{Store: store}, quietLogger())
	if err != nil {
		return 0, err
	}
	return engine.ResetDailyUsage(ctx)
}
