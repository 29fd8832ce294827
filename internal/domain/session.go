package domain

import "fmt"

// SessionKind distinguishes one-on-one chats from group chats.
type SessionKind string

const (
	KindPrivate SessionKind = "private"
	KindGroup   SessionKind = "group"
)

// Valid reports whether k is one of the two known kinds.
func (k SessionKind) Valid() bool {
	return k == KindPrivate || k == KindGroup
}

// SessionKey identifies a conversation: a group id for group chats, the peer's
// user id for private chats.
type SessionKey struct {
	Kind SessionKind
	ID   int64
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s_%d", k.Kind, k.ID)
}

// InboundEvent is what a channel adapter hands to the gateway for every
// message it observes. Admitted carries the adapter's permission + mention
// decision; the core performs no permission logic itself.
type InboundEvent struct {
	Key        SessionKey
	SelfID     int64
	SenderID   int64
	SenderName string
	Time       int64 // unix seconds
	Segments   []Segment
	Admitted   bool
}
