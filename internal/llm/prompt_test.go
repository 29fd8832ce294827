package llm

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kanade/internal/config"
	"kanade/internal/domain"
	"kanade/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSession(t *testing.T, key domain.SessionKey, msgs ...domain.ChatMessage) (*session.Store, *session.Session) {
	t.Helper()
	store, err := session.NewStore(t.TempDir(), 10, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	sess := store.GetOrCreate(key, 99)
	for _, msg := range msgs {
		store.Append(sess, msg)
	}
	return store, sess
}

func writePrompt(t *testing.T, system string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompt.yaml")
	if err := os.WriteFile(path, []byte("system: |\n  "+strings.ReplaceAll(system, "\n", "\n  ")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSystemPrompt_MaskSubstitution(t *testing.T) {
	path := writePrompt(t, "You are {name}, also called {alias}. It is {time}.\n{character_info}")
	b := NewPromptBuilder(
		config.SystemPromptPaths{GroupChat: path, PrivateChat: path},
		config.Character{Name: "Kanade", Alias: []string{"knd", "小奏"}, Info: "A quiet composer."},
		testLogger(),
	)
	b.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	got := b.systemPrompt(domain.KindGroup)
	for _, want := range []string{
		"You are Kanade, also called knd, 小奏.",
		"It is 2025-06-01 12:00:00.",
		"A quiet composer.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "{name}") || strings.Contains(got, "{time}") {
		t.Errorf("unfilled mask left in prompt:\n%s", got)
	}
}

func TestSystemPrompt_FallbackOnMissingFile(t *testing.T) {
	b := NewPromptBuilder(
		config.SystemPromptPaths{PrivateChat: filepath.Join(t.TempDir(), "missing.yaml")},
		config.Character{Name: "Kanade"},
		testLogger(),
	)
	got := b.systemPrompt(domain.KindPrivate)
	if !strings.Contains(got, "Kanade") || !strings.Contains(got, "private") {
		t.Fatalf("fallback prompt unusable: %q", got)
	}
}

func TestSystemPrompt_AliasNone(t *testing.T) {
	path := writePrompt(t, "alias: {alias}")
	b := NewPromptBuilder(
		config.SystemPromptPaths{PrivateChat: path},
		config.Character{Name: "Kanade"},
		testLogger(),
	)
	if got := b.systemPrompt(domain.KindPrivate); !strings.Contains(got, "alias: none") {
		t.Fatalf("expected alias placeholder for empty alias list, got %q", got)
	}
}

func TestBuild_Shape(t *testing.T) {
	path := writePrompt(t, "persona")
	key := domain.SessionKey{Kind: domain.KindGroup, ID: 777}
	_, sess := testSession(t, key, domain.ChatMessage{
		SenderName: "alice", SenderID: 1, Time: 1700000000,
		Segments: []domain.Segment{domain.Text("hello there")},
	})

	b := NewPromptBuilder(
		config.SystemPromptPaths{GroupChat: path, PrivateChat: path},
		config.Character{Name: "Kanade"},
		testLogger(),
	)
	msgs := b.Build(sess)
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Fatalf("unexpected message shape: %+v", msgs)
	}

	parts, ok := msgs[1].Content.([]contentPart)
	if !ok || len(parts) == 0 {
		t.Fatalf("user content is not content parts: %#v", msgs[1].Content)
	}
	text := parts[0].Text
	if !strings.HasPrefix(text, "Group 777\nChat log:") {
		t.Fatalf("transcript header wrong:\n%s", text)
	}
	if !strings.Contains(text, "**alice**(1)") || !strings.Contains(text, "hello there") {
		t.Fatalf("transcript missing message:\n%s", text)
	}
	if !strings.HasSuffix(parts[len(parts)-1].Text, "# Chat Textbox") {
		t.Fatalf("transcript must end with the textbox marker:\n%s", parts[len(parts)-1].Text)
	}
}

func TestTranscript_ImageInterleaving(t *testing.T) {
	key := domain.SessionKey{Kind: domain.KindPrivate, ID: 5}
	img, _ := domain.Image("https://cdn.test/pic.png", "low")
	local, _ := domain.Image("file:///tmp/x.png", "low")
	_, sess := testSession(t, key, domain.ChatMessage{
		SenderName: "bob", SenderID: 2, Time: 1700000000,
		Segments: []domain.Segment{domain.Text("look at this"), img, local, domain.Text("cute right")},
	})

	b := NewPromptBuilder(config.SystemPromptPaths{}, config.Character{Name: "Kanade"}, testLogger())
	parts := b.transcript(sess)

	// text, image, text. The non-http image is dropped.
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d: %+v", len(parts), parts)
	}
	if parts[0].Type != "text" || !strings.Contains(parts[0].Text, "look at this") {
		t.Fatalf("part 0 wrong: %+v", parts[0])
	}
	if parts[1].Type != "image_url" || parts[1].ImageURL.URL != "https://cdn.test/pic.png" {
		t.Fatalf("part 1 wrong: %+v", parts[1])
	}
	if parts[2].Type != "text" || !strings.Contains(parts[2].Text, "cute right") ||
		!strings.HasSuffix(parts[2].Text, "# Chat Textbox") {
		t.Fatalf("part 2 wrong: %+v", parts[2])
	}
	if strings.Contains(parts[0].Text+parts[2].Text, "file:///") {
		t.Fatal("local image URL leaked into the transcript")
	}
}

func TestTranscript_PrivateHeader(t *testing.T) {
	key := domain.SessionKey{Kind: domain.KindPrivate, ID: 12}
	_, sess := testSession(t, key)
	b := NewPromptBuilder(config.SystemPromptPaths{}, config.Character{Name: "Kanade"}, testLogger())
	parts := b.transcript(sess)
	if len(parts) != 1 || !strings.HasPrefix(parts[0].Text, "Private chat 12\nChat log:") {
		t.Fatalf("private header wrong: %+v", parts)
	}
}
