// Package service implements the message protocol over the two storage
// tiers: every write goes to the durable store and the hot-tier cache,
// reads fall back from cache to durable storage, and each mutation fans
// out a push event to the conversation channel.
package service

import (
	"errors"
	"time"

	"github.com/chatwire/chatwire/internal/cache"
	"github.com/chatwire/chatwire/internal/fanout"
	"github.com/chatwire/chatwire/internal/policy"
	"github.com/chatwire/chatwire/internal/store"
)

const (
	// hotIndexCap bounds the per-conversation sorted index. The index is
	// trimmed to this size on every write, not just on expiry.
	hotIndexCap = 200

	// messageTTL is the hot-tier lifetime of a message field map.
	messageTTL = 15 * time.Minute

	defaultHistoryLimit = 50
)

// Fan-out event names. Consumers apply them idempotently keyed on
// message id.
const (
	EventNewMessage     = "newMessage"
	EventMessageEdited  = "messageEdited"
	EventMessageDeleted = "messageDeleted"
	EventMessageReacted = "messageReacted"
)

var ErrInvalidRequest = errors.New("service: invalid request")

// Service owns the send/read/edit/delete/react protocol.
type Service struct {
	store  store.Store
	cache  *cache.Cache
	pub    fanout.Publisher
	policy *policy.Engine
	now    func() time.Time
}

// New creates a message service. pub may be fanout.Nop{} when no push
// transport is wired.
func New(st store.Store, c *cache.Cache, pub fanout.Publisher, pol *policy.Engine) *Service {
	return &Service{
		store:  st,
		cache:  c,
		pub:    pub,
		policy: pol,
		now:    time.Now,
	}
}

// SetClock overrides the service's notion of time for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}
