package sink

import (
	"campus-chat/domain/event"
	"context"
)

// ChannelSink bridges the dispatcher and one live connection. The
// websocket handler owns the receiving side of Events and pumps it to
// the wire.
type ChannelSink struct {
	Events chan event.ChangeEvent
}

func NewChannelSink(bufferSize int) *ChannelSink {
	return &ChannelSink{Events: make(chan event.ChangeEvent, bufferSize)}
}

// Deliver is called by the fan-out workers. A full buffer means the
// connection is too slow to keep up; the event is dropped rather than
// stalling delivery to every other subscriber on the shard.
func (s *ChannelSink) Deliver(ctx context.Context, e event.ChangeEvent) error {
	select {
	case s.Events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
