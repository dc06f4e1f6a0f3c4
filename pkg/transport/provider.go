// Package transport implements the resilient provider transport: a retry +
// circuit-breaker wrapper around streaming LLM calls that classifies raw
// provider errors into a fixed taxonomy and gates traffic per provider.
package transport

import "context"

// StreamEvent is one element of a provider's event stream.
type StreamEvent struct {
	Type    string
	Content string
	Data    map[string]any
}

// Stream is a finite, non-restartable lazy sequence of StreamEvents.
// Recv returns io.EOF after the final event; any other error terminates
// the stream.
type Stream interface {
	Recv() (StreamEvent, error)
}

// Message is one conversation entry handed to a provider.
type Message struct {
	Role    string
	Content string
}

// ChatContext is the conversation state a streaming call runs against. The
// transport treats it as opaque; only providers interpret it.
type ChatContext struct {
	System   string
	Messages []Message
}

// Options tunes a single streaming call.
type Options struct {
	Model       string
	Temperature *float32
	MaxTokens   *int32
}

// Provider is one LLM backend. Implementations live outside this module;
// the transport only needs an id for breaker keying and a stream factory.
type Provider interface {
	ID() string
	Models() []string
	CreateStream(ctx context.Context, chat ChatContext, opts Options) (Stream, error)
}
