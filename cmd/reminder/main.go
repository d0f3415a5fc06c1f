// Command reminder runs the daily reminder pipeline from the shell.
//
// Usage:
//
//	reminder run
//	reminder run --at 2025-12-16T13:30:00Z
//	reminder preview --at 2025-12-16T13:30:00Z
//	reminder window
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/catatduit/reminder-dispatch/internal/config"
	"github.com/catatduit/reminder-dispatch/internal/db"
	"github.com/catatduit/reminder-dispatch/internal/fcm"
	"github.com/catatduit/reminder-dispatch/internal/reminder"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "reminder",
		Short:        "Daily transaction reminder dispatcher",
		SilenceUsage: true,
	}

	root.AddCommand(runCmd())
	root.AddCommand(previewCmd())
	root.AddCommand(windowCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// run command
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one reminder run and print the JSON result",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseAt(at)
			if err != nil {
				return err
			}
			return withDispatcher(func(ctx context.Context, d *reminder.Dispatcher) error {
				res := d.Run(ctx, now)
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.Kind == reminder.KindFailed {
					return fmt.Errorf("run failed: %w", res.Err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Instant to run for (RFC3339), defaults to now")
	return cmd
}

// --------------------------------------------------------------------------
// preview command
// --------------------------------------------------------------------------

type previewOutput struct {
	TimeLabel  string               `json:"time_label"`
	DateLabel  string               `json:"date_label"`
	Zone       string               `json:"zone"`
	Scheduled  int                  `json:"scheduled_devices"`
	Active     []string             `json:"active_users"`
	Candidates []reminder.Candidate `json:"candidates"`
}

func previewCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show who would be reminded, without recording or pushing",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseAt(at)
			if err != nil {
				return err
			}
			return withDispatcher(func(ctx context.Context, d *reminder.Dispatcher) error {
				plan, err := d.Plan(ctx, now)
				if err != nil {
					return err
				}
				out := previewOutput{
					TimeLabel:  plan.Window.TimeLabel,
					DateLabel:  plan.Window.DateLabel,
					Zone:       plan.Window.Zone,
					Scheduled:  len(plan.Scheduled),
					Active:     plan.Active,
					Candidates: plan.Candidates,
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Instant to preview (RFC3339), defaults to now")
	return cmd
}

// --------------------------------------------------------------------------
// window command
// --------------------------------------------------------------------------

func windowCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Print the time and date labels a run would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseAt(at)
			if err != nil {
				return err
			}
			rc, err := config.LoadReminder()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), windowLabels(rc, now))
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Instant to resolve (RFC3339), defaults to now")
	return cmd
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func windowLabels(rc config.ReminderConfig, now time.Time) map[string]string {
	w := reminder.OptionsFromConfig(rc).Clock.Resolve(now)
	return map[string]string{
		"time_label": w.TimeLabel,
		"date_label": w.DateLabel,
		"zone":       w.Zone,
		"day_start":  w.DayStart(),
		"day_end":    w.DayEnd(),
	}
}

func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: %w", s, err)
	}
	return t, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func withDispatcher(fn func(ctx context.Context, d *reminder.Dispatcher) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	pushClient, err := fcm.NewClientFromFile(cfg.FCMCredentialsFile, fcm.Options{
		Endpoint: cfg.FCMEndpoint,
		Timeout:  cfg.FCMRequestTimeout,
		SendRate: cfg.FCMSendRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("load fcm credentials: %w", err)
	}

	d := reminder.NewDispatcher(reminder.NewPGStore(pool.Pool), pushClient, reminder.OptionsFromConfig(cfg.Reminder), logger)
	return fn(ctx, d)
}
