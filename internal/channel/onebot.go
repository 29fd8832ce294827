package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kanade/internal/access"
	"kanade/internal/bus"
	"kanade/internal/domain"
)

const (
	onebotDialTimeout    = 10 * time.Second
	onebotWriteTimeout   = 10 * time.Second
	onebotMaxBackoff     = 60 * time.Second
	onebotInitialBackoff = 2 * time.Second
)

// OneBot is a forward-WebSocket client for a OneBot v11 endpoint. It parses
// message events into inbound events and sends replies as send_msg actions.
type OneBot struct {
	url         string
	accessToken string
	botName     string
	aliases     []string
	acl         *access.Engine
	bus         *bus.Bus
	logger      *slog.Logger

	mu   sync.Mutex // guards conn writes; gorilla allows one writer at a time
	conn *websocket.Conn
}

type OneBotConfig struct {
	URL         string
	AccessToken string
	BotName     string
	Aliases     []string
	ACL         *access.Engine
	Bus         *bus.Bus
	Logger      *slog.Logger
}

func NewOneBot(cfg OneBotConfig) *OneBot {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OneBot{
		url:         cfg.URL,
		accessToken: cfg.AccessToken,
		botName:     cfg.BotName,
		aliases:     cfg.Aliases,
		acl:         cfg.ACL,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
	}
}

func (o *OneBot) Name() string { return "onebot" }

// Start connects to the endpoint and reads events until the context is
// cancelled, reconnecting with capped backoff after any connection loss.
func (o *OneBot) Start(ctx context.Context) error {
	backoff := onebotInitialBackoff
	for {
		if err := o.runConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Warn("onebot connection lost, reconnecting", "err", err, "backoff", backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > onebotMaxBackoff {
			backoff = onebotMaxBackoff
		}
	}
}

func (o *OneBot) runConnection(ctx context.Context) error {
	header := http.Header{}
	if o.accessToken != "" {
		header.Set("Authorization", "Bearer "+o.accessToken)
	}

	dialer := websocket.Dialer{HandshakeTimeout: onebotDialTimeout}
	conn, _, err := dialer.DialContext(ctx, o.url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", o.url, err)
	}
	defer conn.Close()

	o.mu.Lock()
	o.conn = conn
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.conn = nil
		o.mu.Unlock()
	}()

	o.logger.Info("onebot connected", "url", o.url)

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		o.handleFrame(data)
	}
}

// onebotEvent covers the subset of OneBot v11 events this bot consumes.
type onebotEvent struct {
	PostType    string          `json:"post_type"`
	MessageType string          `json:"message_type"`
	Time        int64           `json:"time"`
	SelfID      int64           `json:"self_id"`
	UserID      int64           `json:"user_id"`
	GroupID     int64           `json:"group_id"`
	Message     []onebotSegment `json:"message"`
	Sender      struct {
		Nickname string `json:"nickname"`
		Card     string `json:"card"`
	} `json:"sender"`
}

type onebotSegment struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (o *OneBot) handleFrame(data []byte) {
	var ev onebotEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		o.logger.Debug("ignoring unparseable frame", "err", err)
		return
	}
	if ev.PostType != "message" {
		return
	}

	var key domain.SessionKey
	switch ev.MessageType {
	case "group":
		key = domain.SessionKey{Kind: domain.KindGroup, ID: ev.GroupID}
	case "private":
		key = domain.SessionKey{Kind: domain.KindPrivate, ID: ev.UserID}
	default:
		return
	}

	segments, mentioned := o.parseSegments(ev.Message, ev.SelfID)
	if len(segments) == 0 {
		return
	}

	name := ev.Sender.Card
	if name == "" {
		name = ev.Sender.Nickname
	}

	// Private chats always qualify; group chats only when the bot was
	// addressed. Permission filtering applies to both.
	qualifies := key.Kind == domain.KindPrivate || mentioned
	admitted := qualifies && o.acl.Allow(key, ev.UserID)

	o.bus.Publish(domain.InboundEvent{
		Key:        key,
		SelfID:     ev.SelfID,
		SenderID:   ev.UserID,
		SenderName: name,
		Time:       ev.Time,
		Segments:   segments,
		Admitted:   admitted,
	})
}

// parseSegments maps OneBot segments onto the content union and detects
// whether the bot was addressed. A text segment that merely repeats the
// summary of the sticker (mface) before it is dropped as a duplicate.
func (o *OneBot) parseSegments(raw []onebotSegment, selfID int64) ([]domain.Segment, bool) {
	var segments []domain.Segment
	mentioned := false
	lastType := ""

	for _, seg := range raw {
		switch seg.Type {
		case "text":
			var d struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(seg.Data, &d); err != nil {
				continue
			}
			if lastType == "mface" && len(segments) > 0 {
				last := segments[len(segments)-1]
				if last.Type == domain.SegmentImage && last.Image.Detail == d.Text {
					lastType = "text"
					continue
				}
			}
			if o.textMentions(d.Text) {
				mentioned = true
			}
			segments = append(segments, domain.Text(d.Text))

		case "image", "mface":
			var d struct {
				URL     string `json:"url"`
				Summary string `json:"summary"`
			}
			if err := json.Unmarshal(seg.Data, &d); err != nil {
				continue
			}
			img, err := domain.Image(d.URL, d.Summary)
			if err != nil {
				o.logger.Debug("dropping image segment without url")
				continue
			}
			segments = append(segments, img)

		case "at":
			var d struct {
				QQ string `json:"qq"`
			}
			if err := json.Unmarshal(seg.Data, &d); err != nil {
				continue
			}
			if id, err := strconv.ParseInt(d.QQ, 10, 64); err == nil && id == selfID {
				mentioned = true
			}
		}
		lastType = seg.Type
	}

	return segments, mentioned
}

// textMentions reports whether the text names the bot or one of its aliases.
func (o *OneBot) textMentions(text string) bool {
	if o.botName != "" && strings.Contains(text, o.botName) {
		return true
	}
	for _, alias := range o.aliases {
		if alias != "" && strings.Contains(text, alias) {
			return true
		}
	}
	return false
}

// sendAction is the OneBot send_msg request frame.
type sendAction struct {
	Action string     `json:"action"`
	Params sendParams `json:"params"`
}

type sendParams struct {
	MessageType string          `json:"message_type"`
	GroupID     int64           `json:"group_id,omitempty"`
	UserID      int64           `json:"user_id,omitempty"`
	Message     []outboundFrame `json:"message"`
}

type outboundFrame struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

// Send delivers one text message. Fire-and-forget: the action response frame
// is not awaited.
func (o *OneBot) Send(ctx context.Context, key domain.SessionKey, text string) error {
	action := sendAction{
		Action: "send_msg",
		Params: sendParams{
			MessageType: string(key.Kind),
			Message: []outboundFrame{
				{Type: "text", Data: map[string]string{"text": text}},
			},
		},
	}
	switch key.Kind {
	case domain.KindGroup:
		action.Params.GroupID = key.ID
	case domain.KindPrivate:
		action.Params.UserID = key.ID
	}

	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode send_msg: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn == nil {
		return fmt.Errorf("onebot not connected")
	}
	o.conn.SetWriteDeadline(time.Now().Add(onebotWriteTimeout))
	if err := o.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write send_msg: %w", err)
	}
	return nil
}
