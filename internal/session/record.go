package session

import (
	"encoding/json"
	"fmt"
	"time"

	"kanade/internal/domain"
)

// timeLayout is the on-disk timestamp format. Second precision: a round trip
// through the record loses sub-second information, nothing else.
const timeLayout = "2006-01-02 15:04:05"

// sessionRecord is the durable form of a session, one JSON file per
// (kind, id). The field names are a compatibility contract with existing
// session files; do not rename them.
type sessionRecord struct {
	SessionID    int64           `json:"session_id"`
	SessionType  string          `json:"session_type"`
	SelfID       int64           `json:"self_id"`
	MaxHistories int             `json:"max_histories"`
	Messages     []messageRecord `json:"messages"`
}

type messageRecord struct {
	UserName string          `json:"user_name"`
	UserID   int64           `json:"user_id"`
	Time     string          `json:"time"`
	Message  []contentRecord `json:"message"`
}

type contentRecord struct {
	Type     string       `json:"type"`
	Text     *string      `json:"text,omitempty"`
	ImageURL *imageRecord `json:"image_url,omitempty"`
}

type imageRecord struct {
	URL    string `json:"url"`
	Detail string `json:"detail"`
}

func encodeRecord(key domain.SessionKey, selfID int64, capacity int, messages []domain.ChatMessage) ([]byte, error) {
	rec := sessionRecord{
		SessionID:    key.ID,
		SessionType:  string(key.Kind),
		SelfID:       selfID,
		MaxHistories: capacity,
		Messages:     make([]messageRecord, 0, len(messages)),
	}
	for _, msg := range messages {
		mr := messageRecord{
			UserName: msg.SenderName,
			UserID:   msg.SenderID,
			Time:     time.Unix(msg.Time, 0).Format(timeLayout),
			Message:  make([]contentRecord, 0, len(msg.Segments)),
		}
		for _, seg := range msg.Segments {
			switch seg.Type {
			case domain.SegmentText:
				text := seg.Text
				mr.Message = append(mr.Message, contentRecord{Type: "text", Text: &text})
			case domain.SegmentImage:
				mr.Message = append(mr.Message, contentRecord{
					Type:     "image_url",
					ImageURL: &imageRecord{URL: seg.Image.URL, Detail: seg.Image.Detail},
				})
			default:
				return nil, fmt.Errorf("unknown segment type %q", seg.Type)
			}
		}
		rec.Messages = append(rec.Messages, mr)
	}
	return json.MarshalIndent(rec, "", "  ")
}

func decodeRecord(data []byte) (domain.SessionKey, int64, int, []domain.ChatMessage, error) {
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.SessionKey{}, 0, 0, nil, fmt.Errorf("parse session record: %w", err)
	}

	kind := domain.SessionKind(rec.SessionType)
	if !kind.Valid() {
		return domain.SessionKey{}, 0, 0, nil, fmt.Errorf("unknown session_type %q", rec.SessionType)
	}
	if rec.SessionID <= 0 {
		return domain.SessionKey{}, 0, 0, nil, fmt.Errorf("session_id must be positive, got %d", rec.SessionID)
	}
	key := domain.SessionKey{Kind: kind, ID: rec.SessionID}

	messages := make([]domain.ChatMessage, 0, len(rec.Messages))
	for i, mr := range rec.Messages {
		ts, err := time.ParseInLocation(timeLayout, mr.Time, time.Local)
		if err != nil {
			return domain.SessionKey{}, 0, 0, nil, fmt.Errorf("message %d: bad time %q: %w", i, mr.Time, err)
		}
		msg := domain.ChatMessage{
			SenderName: mr.UserName,
			SenderID:   mr.UserID,
			Time:       ts.Unix(),
			Segments:   make([]domain.Segment, 0, len(mr.Message)),
		}
		for j, cr := range mr.Message {
			switch cr.Type {
			case "text":
				if cr.Text == nil {
					return domain.SessionKey{}, 0, 0, nil, fmt.Errorf("message %d content %d: text content without text field", i, j)
				}
				msg.Segments = append(msg.Segments, domain.Text(*cr.Text))
			case "image_url":
				if cr.ImageURL == nil {
					return domain.SessionKey{}, 0, 0, nil, fmt.Errorf("message %d content %d: image content without image_url field", i, j)
				}
				seg, err := domain.Image(cr.ImageURL.URL, cr.ImageURL.Detail)
				if err != nil {
					return domain.SessionKey{}, 0, 0, nil, fmt.Errorf("message %d content %d: %w", i, j, err)
				}
				msg.Segments = append(msg.Segments, seg)
			default:
				return domain.SessionKey{}, 0, 0, nil, fmt.Errorf("message %d content %d: unknown content type %q", i, j, cr.Type)
			}
		}
		messages = append(messages, msg)
	}

	return key, rec.SelfID, rec.MaxHistories, messages, nil
}
