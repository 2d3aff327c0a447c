package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/goodtune/appwarden/internal/config"
	"github.com/goodtune/appwarden/internal/policy"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check APP_ID...",
	Short: "Check which apps the exemption policy lets through",
	Long:  `Evaluate the configured exemption policy for each app id and report whether appwarden would enforce limits on it.`,
	Example: `  appwarden -c config.yaml check com.example.game
  appwarden check org.gnome.Shell com.android.launcher3`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	policyEngine, err := policy.NewEngine(policy.Config{
		PolicyDir:       cfg.Policy.PolicyDir,
		ExemptApps:      cfg.Policy.ExemptApps,
		LauncherPattern: cfg.Policy.LauncherPattern,
		SelfAppID:       cfg.Policy.SelfAppID,
	}, quietLogger())
	if err != nil {
		return fmt.Errorf("failed to initialize Policy Engine: %w", err)
	}

	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	ctx := context.Background()
	for _, appID := range args {
		exempt, err := policyEngine.Exempt(ctx, appID)
		if err != nil {
			return fmt.Errorf("failed to evaluate %s: %w", appID, err)
		}
		if exempt {
			_, _ = green.Fprintf(os.Stdout, "EXEMPT   ")
		} else {
			_, _ = yellow.Fprintf(os.Stdout, "ENFORCED ")
		}
		_, _ = fmt.Fprintln(os.Stdout, appID)
	}
	return nil
}
