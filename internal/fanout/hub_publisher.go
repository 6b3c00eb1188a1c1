package fanout

import (
	"log"
	"time"

	"github.com/chatwire/chatwire/internal/hub"
	"github.com/chatwire/chatwire/internal/protocol"
)

// ChannelPublisher delivers fan-out events to websocket clients through
// the hub's channel subscriptions.
type ChannelPublisher struct {
	hub *hub.Hub
}

// NewChannelPublisher creates a hub-backed publisher.
func NewChannelPublisher(h *hub.Hub) *ChannelPublisher {
	return &ChannelPublisher{hub: h}
}

// Publish wraps the event in a channelEvent frame and hands it to the
// hub. It never blocks on delivery confirmation.
func (p *ChannelPublisher) Publish(channel, event string, payload interface{}) {
	frame := protocol.ChannelEventMessage{
		BaseMessage: protocol.BaseMessage{
			Type: protocol.TypeChannelEvent,
			Ts:   time.Now().UnixMilli(),
		},
		Channel: channel,
		Event:   event,
		Payload: payload,
	}
	if err := p.hub.PublishJSON(channel, frame); err != nil {
		log.Printf("Failed to publish %s to %s: %v", event, channel, err)
	}
}
