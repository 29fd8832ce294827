package scheduler

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"kanade/internal/domain"
	"kanade/internal/session"
)

const (
	minPartDelay = 750 * time.Millisecond
	maxPartDelay = 1500 * time.Millisecond

	// runesPerSecond approximates a human typing cadence for pacing.
	runesPerSecond = 60
)

// splitParts breaks a reply into the messages actually sent: one per line,
// trimmed, blank lines dropped.
func splitParts(reply string) []string {
	raw := strings.Split(strings.ReplaceAll(reply, "\r\n", "\n"), "\n")
	parts := make([]string, 0, len(raw))
	for _, line := range raw {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return parts
}

// partDelay computes the pause before sending a part: linear in rune count,
// clamped to [0.75s, 1.5s]. Rune count, not byte count — most traffic is CJK.
func partDelay(part string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(part)) * time.Second / runesPerSecond
	if d < minPartDelay {
		return minPartDelay
	}
	if d > maxPartDelay {
		return maxPartDelay
	}
	return d
}

// deliver sends the parts strictly in order — the first immediately, each
// later one after its pacing delay — then records the whole reply as a single
// bot message through the normal append path, so it may merge with a trailing
// bot message from a recent cycle.
//
// Send errors are logged and skipped (delivery is fire-and-forget). Only
// cancellation returns an error, and it returns before anything is appended:
// a cancelled cycle never persists a partial reply.
func (s *Scheduler) deliver(ctx context.Context, sess *session.Session, parts []string) error {
	key := sess.Key()
	for i, part := range parts {
		if i > 0 {
			if err := s.sleep(ctx, partDelay(part)); err != nil {
				return err
			}
		}
		if err := s.sender.Send(ctx, key, part); err != nil {
			s.logger.Warn("send failed", "session", key.String(), "part", i, "err", err)
		}
	}

	segments := make([]domain.Segment, 0, len(parts))
	for _, part := range parts {
		segments = append(segments, domain.Text(part))
	}
	s.store.Append(sess, domain.ChatMessage{
		SenderName: s.botName,
		SenderID:   sess.SelfID(),
		Time:       time.Now().Unix(),
		Segments:   segments,
	})
	return nil
}
