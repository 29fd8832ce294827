package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"kanade/internal/access"
	"kanade/internal/bus"
	"kanade/internal/domain"
)

// Telegram adapts the Telegram Bot API to the inbound event model. Group and
// supergroup chats map to group sessions, direct chats to private sessions.
type Telegram struct {
	token   string
	botName string
	aliases []string
	acl     *access.Engine
	bus     *bus.Bus
	logger  *slog.Logger

	bot *tgbotapi.BotAPI
}

type TelegramAdapterConfig struct {
	Token   string
	BotName string
	Aliases []string
	ACL     *access.Engine
	Bus     *bus.Bus
	Logger  *slog.Logger
}

func NewTelegram(cfg TelegramAdapterConfig) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:   cfg.Token,
		botName: cfg.BotName,
		aliases: cfg.Aliases,
		acl:     cfg.ACL,
		bus:     cfg.Bus,
		logger:  cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects and polls for updates until the context is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// sessionKey maps a Telegram chat onto the session key space. Telegram group
// chat ids are negative; session ids must be positive, so groups are keyed by
// the negated chat id and Send negates it back.
func sessionKey(chat *tgbotapi.Chat) (domain.SessionKey, bool) {
	switch {
	case chat.IsPrivate():
		return domain.SessionKey{Kind: domain.KindPrivate, ID: chat.ID}, true
	case chat.IsGroup() || chat.IsSuperGroup():
		return domain.SessionKey{Kind: domain.KindGroup, ID: -chat.ID}, true
	default:
		return domain.SessionKey{}, false
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	key, ok := sessionKey(msg.Chat)
	if !ok {
		return
	}

	segments := t.parseMessage(msg)
	if len(segments) == 0 {
		return
	}

	name := msg.From.UserName
	if msg.From.FirstName != "" {
		name = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}

	qualifies := key.Kind == domain.KindPrivate || t.mentioned(msg)
	admitted := qualifies && t.acl.Allow(key, msg.From.ID)

	t.bus.Publish(domain.InboundEvent{
		Key:        key,
		SelfID:     t.bot.Self.ID,
		SenderID:   msg.From.ID,
		SenderName: name,
		Time:       int64(msg.Date),
		Segments:   segments,
		Admitted:   admitted,
	})
}

// parseMessage extracts text and photo content. Photos become image segments
// addressed by their direct file URL, with the caption as detail.
func (t *Telegram) parseMessage(msg *tgbotapi.Message) []domain.Segment {
	var segments []domain.Segment

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text != "" {
		segments = append(segments, domain.Text(text))
	}

	if len(msg.Photo) > 0 {
		// The last PhotoSize is the largest rendition.
		largest := msg.Photo[len(msg.Photo)-1]
		url, err := t.bot.GetFileDirectURL(largest.FileID)
		if err != nil {
			t.logger.Warn("cannot resolve photo url", "err", err)
		} else if img, err := domain.Image(url, "low"); err == nil {
			segments = append(segments, img)
		}
	}

	return segments
}

// mentioned reports whether the bot was addressed in a group message: an
// explicit @mention, a reply to one of the bot's messages, or its name or an
// alias appearing in the text.
func (t *Telegram) mentioned(msg *tgbotapi.Message) bool {
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil &&
		msg.ReplyToMessage.From.ID == t.bot.Self.ID {
		return true
	}
	if strings.Contains(msg.Text, "@"+t.bot.Self.UserName) {
		return true
	}
	if t.botName != "" && strings.Contains(msg.Text, t.botName) {
		return true
	}
	for _, alias := range t.aliases {
		if alias != "" && strings.Contains(msg.Text, alias) {
			return true
		}
	}
	return false
}

// Send delivers one text message to the conversation.
func (t *Telegram) Send(ctx context.Context, key domain.SessionKey, text string) error {
	if t.bot == nil {
		return fmt.Errorf("telegram not connected")
	}
	chatID := key.ID
	if key.Kind == domain.KindGroup {
		chatID = -key.ID
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
