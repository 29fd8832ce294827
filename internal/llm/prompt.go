package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kanade/internal/config"
	"kanade/internal/domain"
	"kanade/internal/session"
)

// chatMessage is one entry of the completion request. Content is either a
// plain string (system role) or a []contentPart (user role).
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string     `json:"type"`
	Text     string     `json:"text,omitempty"`
	ImageURL *imagePart `json:"image_url,omitempty"`
}

type imagePart struct {
	URL    string `json:"url"`
	Detail string `json:"detail"`
}

// promptFile is the on-disk shape of a system prompt template.
type promptFile struct {
	System string `yaml:"system"`
}

// PromptBuilder turns a session's history into a completion request body:
// a persona system prompt plus one user message holding the transcript.
type PromptBuilder struct {
	paths  config.SystemPromptPaths
	char   config.Character
	logger *slog.Logger

	// now is swapped out in tests for a stable {time} mask.
	now func() time.Time
}

func NewPromptBuilder(paths config.SystemPromptPaths, char config.Character, logger *slog.Logger) *PromptBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptBuilder{paths: paths, char: char, logger: logger, now: time.Now}
}

// Build assembles the request messages for the session's current history.
func (b *PromptBuilder) Build(sess *session.Session) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: b.systemPrompt(sess.Key().Kind)},
		{Role: "user", Content: b.transcript(sess)},
	}
}

// systemPrompt loads the template for the session kind and fills the persona
// masks. Any problem with the file falls back to a minimal built-in prompt.
func (b *PromptBuilder) systemPrompt(kind domain.SessionKind) string {
	path := b.paths.PrivateChat
	if kind == domain.KindGroup {
		path = b.paths.GroupChat
	}

	text, err := b.loadTemplate(path)
	if err != nil {
		b.logger.Warn("system prompt template unusable, using fallback", "path", path, "err", err)
		return fmt.Sprintf("You are %s, taking part in a %s chat. Reply in character.", b.char.Name, kind)
	}

	alias := "none"
	if len(b.char.Alias) > 0 {
		alias = strings.Join(b.char.Alias, ", ")
	}
	replacer := strings.NewReplacer(
		"{name}", b.char.Name,
		"{alias}", alias,
		"{character_info}", b.char.Info,
		"{time}", b.now().Format("2006-01-02 15:04:05"),
	)
	return replacer.Replace(text)
}

func (b *PromptBuilder) loadTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var pf promptFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return "", fmt.Errorf("parse prompt file: %w", err)
	}
	if pf.System == "" {
		return "", fmt.Errorf("prompt file has no system field")
	}
	return pf.System, nil
}

// transcript renders the history as alternating text and image content parts.
// Text accumulates into one part until an image interrupts it; images with
// non-http URLs are dropped rather than leaked into the request.
func (b *PromptBuilder) transcript(sess *session.Session) []contentPart {
	key := sess.Key()
	var parts []contentPart
	var text strings.Builder

	flush := func() {
		if text.Len() > 0 {
			parts = append(parts, contentPart{Type: "text", Text: text.String()})
			text.Reset()
		}
	}

	if key.Kind == domain.KindGroup {
		fmt.Fprintf(&text, "Group %d\n", key.ID)
	} else {
		fmt.Fprintf(&text, "Private chat %d\n", key.ID)
	}
	text.WriteString("Chat log:")

	for _, msg := range sess.Messages() {
		fmt.Fprintf(&text, "\n\n**%s**(%d) | %s",
			msg.SenderName, msg.SenderID, time.Unix(msg.Time, 0).Format("2006-01-02 15:04:05"))
		for _, seg := range msg.Segments {
			switch seg.Type {
			case domain.SegmentText:
				if t := strings.TrimSpace(seg.Text); t != "" {
					text.WriteString("\n")
					text.WriteString(t)
				}
			case domain.SegmentImage:
				if !strings.HasPrefix(seg.Image.URL, "http://") && !strings.HasPrefix(seg.Image.URL, "https://") {
					continue
				}
				flush()
				parts = append(parts, contentPart{
					Type:     "image_url",
					ImageURL: &imagePart{URL: seg.Image.URL, Detail: seg.Image.Detail},
				})
			}
		}
	}

	text.WriteString("\n\n# Chat Textbox")
	flush()
	return parts
}
