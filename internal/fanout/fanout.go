// Package fanout defines the push transport the message service publishes
// through. Delivery is at-least-once and fire-and-forget; consumers apply
// events idempotently keyed on message id.
package fanout

// Publisher fans an event out to every subscriber of a channel. The
// channel name is derived deterministically from the participant pair, so
// both clients of a conversation land on the same topic.
type Publisher interface {
	Publish(channel, event string, payload interface{})
}

// Nop discards every event. Used where no transport is wired, e.g. tests
// that only exercise storage semantics.
type Nop struct{}

func (Nop) Publish(string, string, interface{}) {}
