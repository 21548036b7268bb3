// TruthWatch polls one social-media account's public timeline and relays
// newly detected posts to a Discord webhook, with a durable ledger keeping
// delivery state across restarts.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BTreeMap/TruthWatch/internal/config"
	"github.com/BTreeMap/TruthWatch/internal/fetch"
	"github.com/BTreeMap/TruthWatch/internal/message"
	"github.com/BTreeMap/TruthWatch/internal/monitor"
	"github.com/BTreeMap/TruthWatch/internal/notify"
	"github.com/BTreeMap/TruthWatch/internal/scheduler"
	"github.com/BTreeMap/TruthWatch/internal/store"
)

func main() {
	initializeLogger(slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("TruthWatch configuration invalid", "error", err)
		os.Exit(1)
	}
	initializeLogger(cfg.SlogLevel())
	slog.Info("Starting TruthWatch", "account", cfg.Username, "instance", cfg.Instance, "interval", cfg.PollInterval)

	// An unreachable ledger at boot is fatal; the table probe is advisory
	// and only logs diagnostics.
	ledger, err := store.NewLedger(store.WithDSN(cfg.LedgerDSN), store.WithTable(cfg.LedgerTable))
	if err != nil {
		slog.Error("Failed to connect to ledger", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()
	ledger.SelfTest()

	solver := fetch.NewSolverClient(cfg.SolverAddress, cfg.SolverPort, cfg.RequestTimeout, cfg.MaxRetries)
	gateway := fetch.NewGateway(solver, cfg.Instance, cfg.Username)
	formatter := message.Formatter{PostType: cfg.PostType, FallbackUsername: cfg.Username}

	var notifier notify.Notifier
	if cfg.DiscordNotify {
		notifier = notify.NewDiscord(cfg.DiscordWebhookURL, cfg.DiscordUsername, cfg.RequestTimeout)
	} else {
		slog.Warn("Discord notifications are disabled; posts will be recorded but not delivered")
		notifier = notify.Discard{}
	}

	mon := monitor.New(gateway, ledger, store.NewSeenCache(), notifier, formatter, cfg.PollInterval)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.PollSchedule != "" {
		runScheduled(ctx, cfg.PollSchedule, mon)
	} else {
		mon.Run(ctx)
	}
	slog.Info("TruthWatch exited")
}

// runScheduled drives cycles from a cron expression instead of the fixed
// interval. A bad expression is a startup failure.
func runScheduled(ctx context.Context, expr string, mon *monitor.Monitor) {
	sched := scheduler.New()
	err := sched.AddJob(expr, func() {
		if err := mon.RunCycle(ctx); err != nil {
			slog.Error("Scheduled cycle failed", "error", err)
		}
	})
	if err != nil {
		slog.Error("Invalid POLL_SCHEDULE cron expression", "schedule", expr, "error", err)
		os.Exit(1)
	}
	slog.Info("TruthWatch polling on cron schedule", "schedule", expr)
	<-ctx.Done()
	sched.Stop()
}

// initializeLogger installs the default structured logger.
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
