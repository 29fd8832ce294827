// Package access decides which chats may trigger the model. It is a pure
// predicate over the configured admin/whitelist/blacklist sets; the channel
// adapters consult it when flagging events as admitted.
package access

import (
	"slices"

	"kanade/internal/config"
	"kanade/internal/domain"
)

type Engine struct {
	cfg config.AccessControlConfig
}

func New(cfg config.AccessControlConfig) *Engine {
	return &Engine{cfg: cfg}
}

// IsAdmin reports whether the user is a configured administrator.
func (e *Engine) IsAdmin(userID int64) bool {
	return slices.Contains(e.cfg.AdminIDs, userID)
}

// Allow reports whether activity in this conversation from this sender may
// qualify for admission. Admins always pass. Group chats are gated on the
// group policy plus the sender's user blacklist; private chats on the user
// policy alone.
func (e *Engine) Allow(key domain.SessionKey, senderID int64) bool {
	if e.IsAdmin(senderID) {
		return true
	}

	switch key.Kind {
	case domain.KindGroup:
		if !allowed(e.cfg.Group, key.ID) {
			return false
		}
		return !slices.Contains(e.cfg.User.Blacklist, senderID)
	case domain.KindPrivate:
		return allowed(e.cfg.User, senderID)
	default:
		return false
	}
}

// allowed applies one policy: blacklist always blocks, whitelist is required
// only when enabled.
func allowed(p config.PolicyConfig, id int64) bool {
	if slices.Contains(p.Blacklist, id) {
		return false
	}
	if p.EnableWhitelist {
		return slices.Contains(p.Whitelist, id)
	}
	return true
}
