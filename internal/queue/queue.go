// Package queue defines the message transport the worker consumes and the
// poller publishes to.
package queue

import "context"

// Message is one delivery. Exactly one of Ack or Nack should be called;
// both may be called from any goroutine after the receive callback returns.
type Message interface {
	ID() string
	Data() []byte
	Ack()
	Nack()
}

// Subscriber delivers messages to handler until ctx is cancelled.
type Subscriber interface {
	Receive(ctx context.Context, handler func(context.Context, Message)) error
}

// Publisher publishes a payload and returns the server-assigned message id.
type Publisher interface {
	Publish(ctx context.Context, data []byte) (string, error)
}
