package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/appwarden/internal/config"
	"github.com/goodtune/appwarden/internal/storage"
	"github.com/goodtune/appwarden/internal/usage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [APP_ID...]",
	Short: "Show session state of registered apps",
	Long: `Show the session state, remaining budget and daily usage of registered
apps. The running daemon is asked first; when it does not answer the
configured storage is read directly.`,
	Example: `  appwarden status
  appwarden -c config.yaml status com.example.game`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	views, err := fetchViews(ctx, newAdminClient(cfg), args)
	if errors.Is(err, errAdminUnavailable) {
		views, err = localViews(ctx, cfg, args)
	}
	if err != nil {
		return err
	}

	printViews(os.Stdout, views)
	return nil
}

// fetchViews asks the daemon for the session view of each app, or of every
// registered app when ids is empty.
func fetchViews(ctx context.Context, client *adminClient, ids []string) ([]usage.SessionView, error) {
	if len(ids) == 0 {
		var list struct {
			Apps []storage.AppRecord `json:"apps"`
		}
		if err := client.do(ctx, "GET", "/api/v1/apps", &list); err != nil {
			return nil, err
		}
		for _, app := range list.Apps {
			ids = append(ids, app.AppID)
		}
	}

	views := make([]usage.SessionView, 0, len(ids))
	for _, id := range ids {
		var view usage.SessionView
		if err := client.do(ctx, "GET", "/api/v1/apps/"+id+"/snapshot", &view); err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// localViews reads views straight from storage.
func localViews(ctx context.Context, cfg *config.Config, ids []string) ([]usage.SessionView, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable and storage unavailable: %w", err)
	}
	defer store.Close()

	engine, err := usage.NewEngine(usage.Config{Store: store}, quietLogger())
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		records, err := engine.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list apps: %w", err)
		}
		for _, rec := range records {
			ids = append(ids, rec.AppID)
		}
	}

	views := make([]usage.SessionView, 0, len(ids))
	for _, id := range ids {
		view, err := engine.Snapshot(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", id, err)
		}
		views = append(views, view)
	}
	return views, nil
}

func printViews(w io.Writer, views []usage.SessionView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No apps registered")
		return
	}

	sort.Slice(views, func(i, j int) bool { return views[i].AppID < views[j].AppID })

	bold := color.New(color.Bold)
	bold.Fprintf(w, "%-32s %-8s %-6s %-10s %-10s\n", "APP", "STATE", "LIMIT", "REMAINING", "TODAY")
	for _, v := range views {
		limit := "off"
		if v.LimitEnabled {
			limit = "on"
		}
		remaining := "-"
		if v.State != storage.StateIdle {
			remaining = usage.FormatDuration(time.Duration(v.RemainingMs) * time.Millisecond)
		}

		fmt.Fprintf(w, "%-32s ", v.AppID)
		stateColor(v.State).Fprintf(w, "%-8s", v.State)
		fmt.Fprintf(w, " %-6s %-10s %-10s\n",
			limit,
			remaining,
			usage.FormatDuration(time.Duration(v.DailyUsageMs)*time.Millisecond),
		)
	}
}

func stateColor(state storage.SessionState) *color.Color {
	switch state {
	case storage.StateActive:
		return color.New(color.FgGreen)
	case storage.StatePaused:
		return color.New(color.FgYellow)
	case storage.StateBlocked:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.Reset)
	}
}

// quietLogger only reports errors, for one-shot commands.
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}
