package events

import "context"

// Backend defines the broker-agnostic publish operations used by the app.
// The server only ever publishes; consumers live outside this repository.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// Events wraps a backend with a stable API.
type Events struct {
	backend Backend
}

// New constructs an Events wrapper for the provided backend.
func New(backend Backend) *Events {
	return &Events{backend: backend}
}

// Publish sends a message to the named channel.
func (e *Events) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return e.backend.Publish(ctx, channel, data, attrs)
}

// Close closes the underlying backend.
func (e *Events) Close() error {
	return e.backend.Close()
}
