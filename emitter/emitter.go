// Package emitter turns domain events into CloudEvents and hands them to a
// message transport.
package emitter

import "context"

// Message is an encoded event ready to be sent by a transport.
type Message struct {
	EventType string            // the event type tag (e.g. "printJobs.queued.v1")
	Key       string            // partitioning key, the owner of the event
	Body      []byte            // structured mode CloudEvent
	Headers   map[string]string // transport headers
}

// Emitter defines the contract for transports of encoded events.
type Emitter interface {
	// Emit sends the message and returns once the transport acknowledged it.
	Emit(ctx context.Context, m *Message) error
}
