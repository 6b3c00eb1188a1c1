package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ConversationID derives the canonical conversation id for two users.
// The pair is sorted first, so both participants resolve to the same id
// regardless of who initiates.
func ConversationID(userA, userB string) string {
	a, b := sortPair(userA, userB)
	return fmt.Sprintf("conversation:%s:%s", a, b)
}

// ChannelName derives the fan-out channel for a participant pair, using
// the same deterministic ordering as ConversationID.
func ChannelName(userA, userB string) string {
	a, b := sortPair(userA, userB)
	return a + "__" + b
}

// PairID identifies the unordered participant pair of a call session.
func PairID(userA, userB string) string {
	a, b := sortPair(userA, userB)
	return a + ":" + b
}

// NewMessageID generates an orderable message id. The millisecond prefix
// gives chronological ordering; the random suffix breaks ties between
// same-millisecond sends.
func NewMessageID(at time.Time) string {
	return fmt.Sprintf("message:%d:%s", at.UnixMilli(), uuid.NewString()[:7])
}

func sortPair(a, b string) (string, string) {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0], pair[1]
}
