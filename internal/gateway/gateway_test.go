package gateway

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"kanade/internal/access"
	"kanade/internal/bus"
	"kanade/internal/config"
	"kanade/internal/domain"
	"kanade/internal/scheduler"
	"kanade/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingSender struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingSender) Send(ctx context.Context, key domain.SessionKey, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.texts))
	copy(out, r.texts)
	return out
}

type fixture struct {
	gw     *Gateway
	store  *session.Store
	sched  *scheduler.Scheduler
	sender *recordingSender
}

func newFixture(t *testing.T, acl config.AccessControlConfig) *fixture {
	t.Helper()
	store, err := session.NewStore(t.TempDir(), 10, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	sender := &recordingSender{}
	sched := scheduler.New(scheduler.Config{
		Store:  store,
		Query:  func(ctx context.Context, sess *session.Session) (string, error) { return "", nil },
		Sender: sender,
		Logger: testLogger(),
		// Long enough that cycles stay pending for the whole test.
		PollInterval:   time.Hour,
		QuietThreshold: time.Hour,
	})
	t.Cleanup(sched.Shutdown)

	gw := New(Config{
		Bus:    bus.New(8, testLogger()),
		Store:  store,
		Sched:  sched,
		ACL:    access.New(acl),
		Sender: sender,
		Logger: testLogger(),
	})
	return &fixture{gw: gw, store: store, sched: sched, sender: sender}
}

func textEvent(key domain.SessionKey, sender int64, text string, admitted bool) domain.InboundEvent {
	return domain.InboundEvent{
		Key:        key,
		SelfID:     99,
		SenderID:   sender,
		SenderName: "user",
		Time:       time.Now().Unix(),
		Segments:   []domain.Segment{domain.Text(text)},
		Admitted:   admitted,
	}
}

var groupKey = domain.SessionKey{Kind: domain.KindGroup, ID: 1}

func TestGateway_RecordsAndAdmits(t *testing.T) {
	f := newFixture(t, config.AccessControlConfig{})

	f.gw.handle(context.Background(), textEvent(groupKey, 7, "hello", true))

	sess, ok := f.store.Get(groupKey)
	if !ok || sess.Len() != 1 {
		t.Fatal("message not recorded")
	}
	if !f.sched.Pending(groupKey) {
		t.Fatal("admitted event must start a debounce cycle")
	}
}

func TestGateway_RecordsWithoutAdmitting(t *testing.T) {
	f := newFixture(t, config.AccessControlConfig{})

	f.gw.handle(context.Background(), textEvent(groupKey, 7, "background chatter", false))

	sess, ok := f.store.Get(groupKey)
	if !ok || sess.Len() != 1 {
		t.Fatal("non-admitted message must still enter history")
	}
	if f.sched.Pending(groupKey) {
		t.Fatal("non-admitted event must not start a cycle")
	}
}

func TestGateway_DropsMalformedEvents(t *testing.T) {
	f := newFixture(t, config.AccessControlConfig{})

	f.gw.handle(context.Background(), textEvent(domain.SessionKey{Kind: "channel", ID: 1}, 7, "x", true))
	f.gw.handle(context.Background(), textEvent(domain.SessionKey{Kind: domain.KindGroup, ID: 0}, 7, "x", true))
	f.gw.handle(context.Background(), textEvent(groupKey, 0, "x", true))
	f.gw.handle(context.Background(), domain.InboundEvent{Key: groupKey, SelfID: 99, SenderID: 7})

	if len(f.store.Keys()) != 0 {
		t.Fatal("malformed events must not create sessions")
	}
}

func TestGateway_AdminClearCommand(t *testing.T) {
	f := newFixture(t, config.AccessControlConfig{AdminIDs: []int64{1}})

	f.gw.handle(context.Background(), textEvent(groupKey, 7, "hello", false))
	f.gw.handle(context.Background(), textEvent(groupKey, 1, "/clear", true))

	sess, _ := f.store.Get(groupKey)
	if sess.Len() != 0 {
		t.Fatal("history should be empty after /clear")
	}
	if got := f.sender.sent(); len(got) != 1 || got[0] != "History cleared." {
		t.Fatalf("missing ack, got %v", got)
	}
	// The command itself must not enter history or start a cycle.
	if f.sched.Pending(groupKey) {
		t.Fatal("command must not trigger admission")
	}
}

func TestGateway_AdminResetCommand(t *testing.T) {
	f := newFixture(t, config.AccessControlConfig{AdminIDs: []int64{1}})

	f.gw.handle(context.Background(), textEvent(groupKey, 7, "hello", false))
	f.gw.handle(context.Background(), textEvent(groupKey, 1, "/reset", false))

	if _, ok := f.store.Get(groupKey); ok {
		t.Fatal("session should be removed after /reset")
	}
}

func TestGateway_CommandsFromNonAdminsAreOrdinaryMessages(t *testing.T) {
	f := newFixture(t, config.AccessControlConfig{AdminIDs: []int64{1}})

	f.gw.handle(context.Background(), textEvent(groupKey, 7, "/clear", false))

	sess, _ := f.store.Get(groupKey)
	if sess.Len() != 1 {
		t.Fatal("non-admin command text should be recorded as a normal message")
	}
	if len(f.sender.sent()) != 0 {
		t.Fatal("no ack for non-admins")
	}
}

func TestGateway_UnknownAdminCommandEntersHistory(t *testing.T) {
	f := newFixture(t, config.AccessControlConfig{AdminIDs: []int64{1}})

	f.gw.handle(context.Background(), textEvent(groupKey, 1, "/dance", false))

	sess, _ := f.store.Get(groupKey)
	if sess.Len() != 1 {
		t.Fatal("unknown command should flow into history")
	}
}

func TestGateway_RunDrainsBus(t *testing.T) {
	f := newFixture(t, config.AccessControlConfig{})
	b := bus.New(8, testLogger())
	f.gw.bus = b

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.gw.Run(ctx)
		close(done)
	}()

	b.Publish(textEvent(groupKey, 7, "via bus", false))

	deadline := time.Now().Add(time.Second)
	for {
		if sess, ok := f.store.Get(groupKey); ok && sess.Len() == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event not processed from bus")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}
