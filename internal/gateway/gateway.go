// Package gateway is the ingestion glue: it drains the event bus, records
// every message into the session store, serves the admin commands, and hands
// qualifying activity to the admission scheduler.
package gateway

import (
	"context"
	"log/slog"
	"strings"

	"kanade/internal/access"
	"kanade/internal/bus"
	"kanade/internal/domain"
	"kanade/internal/scheduler"
	"kanade/internal/session"
)

type Gateway struct {
	bus    *bus.Bus
	store  *session.Store
	sched  *scheduler.Scheduler
	acl    *access.Engine
	sender scheduler.Sender
	logger *slog.Logger
}

type Config struct {
	Bus    *bus.Bus
	Store  *session.Store
	Sched  *scheduler.Scheduler
	ACL    *access.Engine
	Sender scheduler.Sender
	Logger *slog.Logger
}

func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		bus:    cfg.Bus,
		store:  cfg.Store,
		sched:  cfg.Sched,
		acl:    cfg.ACL,
		sender: cfg.Sender,
		logger: cfg.Logger,
	}
}

// Run consumes inbound events until the context is cancelled or the bus
// closes.
func (g *Gateway) Run(ctx context.Context) {
	g.logger.Info("gateway started")
	events := g.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			g.logger.Info("gateway stopping")
			return
		case ev, ok := <-events:
			if !ok {
				g.logger.Info("event bus closed, gateway stopping")
				return
			}
			g.handle(ctx, ev)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, ev domain.InboundEvent) {
	if !ev.Key.Kind.Valid() || ev.Key.ID <= 0 || ev.SenderID <= 0 {
		g.logger.Warn("dropping malformed event",
			"kind", string(ev.Key.Kind), "id", ev.Key.ID, "sender", ev.SenderID)
		return
	}
	if len(ev.Segments) == 0 {
		return
	}

	msg := domain.ChatMessage{
		SenderName: ev.SenderName,
		SenderID:   ev.SenderID,
		Time:       ev.Time,
		Segments:   ev.Segments,
	}

	// Admin commands act on the session instead of entering its history.
	if g.acl.IsAdmin(ev.SenderID) {
		if cmd := strings.TrimSpace(msg.PlainText()); strings.HasPrefix(cmd, "/") {
			if g.runCommand(ctx, ev.Key, ev.SelfID, cmd) {
				return
			}
		}
	}

	sess := g.store.GetOrCreate(ev.Key, ev.SelfID)
	g.store.Append(sess, msg)

	if ev.Admitted {
		g.sched.OnActivity(ev.Key, ev.SelfID)
	}
}

// runCommand handles admin commands. Returns false for unknown commands,
// which then flow into history like any other message.
func (g *Gateway) runCommand(ctx context.Context, key domain.SessionKey, selfID int64, cmd string) bool {
	switch cmd {
	case "/clear":
		sess := g.store.GetOrCreate(key, selfID)
		g.store.Clear(sess)
		g.ack(ctx, key, "History cleared.")
		return true
	case "/reset":
		g.store.Delete(key)
		g.ack(ctx, key, "Session removed.")
		return true
	default:
		return false
	}
}

func (g *Gateway) ack(ctx context.Context, key domain.SessionKey, text string) {
	if g.sender == nil {
		return
	}
	if err := g.sender.Send(ctx, key, text); err != nil {
		g.logger.Warn("command ack failed", "session", key.String(), "err", err)
	}
}
