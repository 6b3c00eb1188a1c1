// Package call holds the in-memory state machine for ongoing calls. The
// registry is owned by the signaling relay and mutated only by its event
// handlers; sessions are never persisted.
package call

import (
	"errors"
	"sync"
	"time"

	"github.com/chatwire/chatwire/internal/domain"
	"github.com/chatwire/chatwire/internal/metrics"
)

var (
	// ErrCallInProgress is returned when a call is placed for a pair that
	// already holds a session. The existing session is never replaced.
	ErrCallInProgress = errors.New("call: session already exists for pair")

	// ErrNoSession is returned when an event references a pair without a
	// session.
	ErrNoSession = errors.New("call: no session for pair")
)

type session struct {
	domain.CallSession
	callerSignaled bool
	calleeSignaled bool
	ringTimer      *time.Timer
}

// Registry holds at most one session per unordered participant pair.
type Registry struct {
	mu            sync.Mutex
	sessions      map[string]*session
	ringTimeout   time.Duration
	onRingTimeout func(domain.CallSession)
	now           func() time.Time
}

// NewRegistry creates a call-session registry. ringTimeout bounds how
// long a session may stay in Ringing before it is auto-ended; zero
// disables the timeout.
func NewRegistry(ringTimeout time.Duration) *Registry {
	return &Registry{
		sessions:    make(map[string]*session),
		ringTimeout: ringTimeout,
		now:         time.Now,
	}
}

// OnRingTimeout registers the callback invoked when a Ringing session
// expires. The session has already been removed when the callback runs.
func (r *Registry) OnRingTimeout(fn func(domain.CallSession)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRingTimeout = fn
}

// Place creates a Ringing session for the pair. Placing a call while one
// is pending for the same pair is rejected.
func (r *Registry) Place(callerID, receiverID string) (domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pairID := domain.PairID(callerID, receiverID)
	if _, ok := r.sessions[pairID]; ok {
		return domain.CallSession{}, ErrCallInProgress
	}

	sess := &session{
		CallSession: domain.CallSession{
			PairID:     pairID,
			CallerID:   callerID,
			ReceiverID: receiverID,
			State:      domain.CallStateRinging,
			IsRinging:  true,
			StartedAt:  r.now(),
		},
	}
	if r.ringTimeout > 0 {
		sess.ringTimer = time.AfterFunc(r.ringTimeout, func() {
			r.expireRinging(pairID)
		})
	}
	r.sessions[pairID] = sess
	metrics.ActiveCalls.Set(float64(len(r.sessions)))
	return sess.CallSession, nil
}

// Join moves a Ringing session to Connecting. Join is idempotent: a
// second, racing accept of a session already past Ringing is a no-op
// success rather than a double answer.
func (r *Registry) Join(userA, userB string) (domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[domain.PairID(userA, userB)]
	if !ok {
		return domain.CallSession{}, ErrNoSession
	}
	if sess.State == domain.CallStateRinging {
		sess.State = domain.CallStateConnecting
		sess.IsRinging = false
		if sess.ringTimer != nil {
			sess.ringTimer.Stop()
			sess.ringTimer = nil
		}
	}
	return sess.CallSession, nil
}

// RecordSignal notes that one side's negotiation payload was relayed.
// The session becomes Active once both sides have signaled; the registry
// keeps relaying either way.
func (r *Registry) RecordSignal(userA, userB string, fromCaller bool) (domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[domain.PairID(userA, userB)]
	if !ok {
		return domain.CallSession{}, ErrNoSession
	}
	if fromCaller {
		sess.callerSignaled = true
	} else {
		sess.calleeSignaled = true
	}
	if sess.State == domain.CallStateConnecting && sess.callerSignaled && sess.calleeSignaled {
		sess.State = domain.CallStateActive
	}
	return sess.CallSession, nil
}

// End removes the session for the pair, from any state. The returned
// session carries State Ended.
func (r *Registry) End(userA, userB string) (domain.CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pairID := domain.PairID(userA, userB)
	sess, ok := r.sessions[pairID]
	if !ok {
		return domain.CallSession{}, false
	}
	r.removeLocked(pairID, sess)
	return sess.CallSession, true
}

// EndAllFor removes every session involving the user, returning the
// ended sessions. Used when a participant disconnects.
func (r *Registry) EndAllFor(userID string) []domain.CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ended []domain.CallSession
	for pairID, sess := range r.sessions {
		if sess.CallerID == userID || sess.ReceiverID == userID {
			r.removeLocked(pairID, sess)
			ended = append(ended, sess.CallSession)
		}
	}
	return ended
}

// Get returns the session for the pair, if any.
func (r *Registry) Get(userA, userB string) (domain.CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[domain.PairID(userA, userB)]
	if !ok {
		return domain.CallSession{}, false
	}
	return sess.CallSession, true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) removeLocked(pairID string, sess *session) {
	if sess.ringTimer != nil {
		sess.ringTimer.Stop()
		sess.ringTimer = nil
	}
	sess.State = domain.CallStateEnded
	sess.IsRinging = false
	delete(r.sessions, pairID)
	metrics.ActiveCalls.Set(float64(len(r.sessions)))
}

// expireRinging ends a session that is still Ringing when its timer
// fires and invokes the timeout callback outside the lock.
func (r *Registry) expireRinging(pairID string) {
	r.mu.Lock()
	sess, ok := r.sessions[pairID]
	if !ok || sess.State != domain.CallStateRinging {
		r.mu.Unlock()
		return
	}
	r.removeLocked(pairID, sess)
	cb := r.onRingTimeout
	ended := sess.CallSession
	r.mu.Unlock()

	if cb != nil {
		cb(ended)
	}
}
