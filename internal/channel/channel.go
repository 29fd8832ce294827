// Package channel holds the chat-network adapters. An adapter turns network
// traffic into inbound events (with the permission + mention decision already
// applied) and delivers reply parts back out.
package channel

import (
	"context"

	"kanade/internal/domain"
)

// Channel is a chat-network adapter. Start blocks until the context is
// cancelled; Send delivers a single message part to a conversation.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Send(ctx context.Context, key domain.SessionKey, text string) error
}
