package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kanade/internal/access"
	"kanade/internal/audit"
	"kanade/internal/bus"
	"kanade/internal/channel"
	"kanade/internal/config"
	"kanade/internal/gateway"
	"kanade/internal/llm"
	"kanade/internal/metrics"
	"kanade/internal/scheduler"
	"kanade/internal/session"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot daemon",
		RunE:  runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	// Graceful shutdown on signals.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := session.NewStore(cfg.Session.Dir, cfg.Session.MaxHistory, logger.With("component", "session"))
	if err != nil {
		return err
	}
	store.LoadAll()

	var recorder scheduler.CycleRecorder
	if cfg.Audit.Enabled {
		auditLog, err := audit.Open(cfg.Audit.DBPath, logger.With("component", "audit"))
		if err != nil {
			return err
		}
		defer auditLog.Close()
		recorder = auditLog
	}

	char, err := config.LoadCharacter(cfg.Query.CharacterPath)
	if err != nil {
		logger.Warn("character card unusable, using bare default", "err", err)
		char = config.Character{Name: "Kanade"}
	}

	prompt := llm.NewPromptBuilder(cfg.Query.SystemPrompts, char, logger.With("component", "llm"))
	client := llm.NewClient(cfg.LLM, cfg.Hyper, prompt, logger.With("component", "llm"))

	acl := access.New(cfg.AccessControl)
	eventBus := bus.New(100, logger.With("component", "bus"))
	defer eventBus.Close()

	ch, err := buildChannel(cfg, char, acl, eventBus)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Config{
		Store:          store,
		Query:          client.Query,
		Sender:         ch,
		Recorder:       recorder,
		Logger:         logger.With("component", "scheduler"),
		BotName:        char.Name,
		PollInterval:   time.Duration(cfg.Scheduler.PollSeconds) * time.Second,
		QuietThreshold: time.Duration(cfg.Scheduler.QuietSeconds) * time.Second,
	})

	gw := gateway.New(gateway.Config{
		Bus:    eventBus,
		Store:  store,
		Sched:  sched,
		ACL:    acl,
		Sender: ch,
		Logger: logger.With("component", "gateway"),
	})

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr)
	}

	go func() {
		if err := ch.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("channel stopped", "channel", ch.Name(), "err", err)
			stop()
		}
	}()

	logger.Info("kanade running",
		"channel", ch.Name(),
		"character", char.Name,
		"sessions", cfg.Session.Dir,
	)

	gw.Run(ctx)

	// Cancel in-flight debounce cycles and wait for their cleanup.
	sched.Shutdown()
	logger.Info("shutdown complete")
	return nil
}

func buildChannel(cfg config.Config, char config.Character, acl *access.Engine, eventBus *bus.Bus) (channel.Channel, error) {
	switch cfg.Channels.Driver {
	case "telegram":
		return channel.NewTelegram(channel.TelegramAdapterConfig{
			Token:   cfg.Channels.Telegram.Token,
			BotName: char.Name,
			Aliases: char.Alias,
			ACL:     acl,
			Bus:     eventBus,
			Logger:  logger.With("component", "telegram"),
		}), nil
	default:
		return channel.NewOneBot(channel.OneBotConfig{
			URL:         cfg.Channels.OneBot.URL,
			AccessToken: cfg.Channels.OneBot.AccessToken,
			BotName:     char.Name,
			Aliases:     char.Alias,
			ACL:         acl,
			Bus:         eventBus,
			Logger:      logger.With("component", "onebot"),
		}), nil
	}
}

func serveMetrics(addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metrics.Default.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics endpoint failed", "err", err)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
