package eventcore

import "context"

// Streamer is the post-commit observer installed via
// EventStore.SetEventStreamer. The façade invokes it with committed
// events, in commit order, carrying the tenant-unscoped aggregate id.
// Implementations must not block indefinitely; the façade does not await
// them past their own context deadline.
type Streamer interface {
	Notify(ctx context.Context, events []Event) error
}

// ChannelStreamer is an in-process Streamer backed by a bounded channel,
// for single-process projections. Notify never blocks past the channel's
// capacity: a full channel drops the notification and returns an error,
// matching "the façade does not await indefinitely."
type ChannelStreamer struct {
	ch chan []Event
}

// NewChannelStreamer builds a ChannelStreamer with the given buffer
// capacity. Callers read from Events() to consume notifications.
func NewChannelStreamer(capacity int) *ChannelStreamer {
	return &ChannelStreamer{ch: make(chan []Event, capacity)}
}

// Events exposes the underlying channel for projection consumers.
func (s *ChannelStreamer) Events() <-chan []Event { return s.ch }

func (s *ChannelStreamer) Notify(ctx context.Context, events []Event) error {
	select {
	case s.ch <- events:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return &InvalidStateError{Component: "ChannelStreamer", State: "buffer full"}
	}
}

// Close releases the underlying channel. Callers must stop reading from
// Events() before calling Close.
func (s *ChannelStreamer) Close() { close(s.ch) }
