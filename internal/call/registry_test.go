package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwire/chatwire/internal/domain"
)

func TestPlaceJoinSignalLifecycle(t *testing.T) {
	r := NewRegistry(0)

	sess, err := r.Place("u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStateRinging, sess.State)
	assert.True(t, sess.IsRinging)
	assert.Equal(t, "u1", sess.CallerID)

	sess, err = r.Join("u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStateConnecting, sess.State)
	assert.False(t, sess.IsRinging)

	// Active is reached once both sides' payloads have been relayed.
	sess, err = r.RecordSignal("u1", "u2", false)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStateConnecting, sess.State)

	sess, err = r.RecordSignal("u1", "u2", true)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStateActive, sess.State)

	ended, ok := r.End("u1", "u2")
	assert.True(t, ok)
	assert.Equal(t, domain.CallStateEnded, ended.State)
	assert.Equal(t, 0, r.Count())
}

func TestOneSessionPerPair(t *testing.T) {
	r := NewRegistry(0)

	_, err := r.Place("u1", "u2")
	require.NoError(t, err)

	// A second call for the same pair is rejected regardless of
	// direction; the existing session is kept.
	_, err = r.Place("u2", "u1")
	assert.ErrorIs(t, err, ErrCallInProgress)
	assert.Equal(t, 1, r.Count())

	// An unrelated pair is unaffected.
	_, err = r.Place("u1", "u3")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Count())
}

func TestJoinIdempotent(t *testing.T) {
	r := NewRegistry(0)

	_, err := r.Place("u1", "u2")
	require.NoError(t, err)
	_, err = r.Join("u2", "u1")
	require.NoError(t, err)

	// A racing second accept must not double-answer.
	sess, err := r.Join("u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStateConnecting, sess.State)

	_, err = r.Join("u3", "u4")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestEndAllFor(t *testing.T) {
	r := NewRegistry(0)

	_, err := r.Place("u1", "u2")
	require.NoError(t, err)
	_, err = r.Place("u1", "u3")
	require.NoError(t, err)
	_, err = r.Place("u4", "u5")
	require.NoError(t, err)

	ended := r.EndAllFor("u1")
	assert.Len(t, ended, 2)
	assert.Equal(t, 1, r.Count())

	_, ok := r.Get("u4", "u5")
	assert.True(t, ok)
}

func TestRingTimeout(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)

	expired := make(chan domain.CallSession, 1)
	r.OnRingTimeout(func(sess domain.CallSession) {
		expired <- sess
	})

	_, err := r.Place("u1", "u2")
	require.NoError(t, err)

	select {
	case sess := <-expired:
		assert.Equal(t, domain.CallStateEnded, sess.State)
		assert.Equal(t, "u1", sess.CallerID)
	case <-time.After(time.Second):
		t.Fatal("ring timeout did not fire")
	}
	assert.Equal(t, 0, r.Count())
}

func TestJoinCancelsRingTimeout(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)

	expired := make(chan domain.CallSession, 1)
	r.OnRingTimeout(func(sess domain.CallSession) {
		expired <- sess
	})

	_, err := r.Place("u1", "u2")
	require.NoError(t, err)
	_, err = r.Join("u2", "u1")
	require.NoError(t, err)

	select {
	case <-expired:
		t.Fatal("timeout fired after join")
	case <-time.After(60 * time.Millisecond):
	}
	assert.Equal(t, 1, r.Count())
}
