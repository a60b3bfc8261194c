// Package transport holds the gateway-facing message types and the console
// gateway used when no network transport is wired.
package transport

import "context"

// Envelope is one inbound message from the messaging gateway.
type Envelope struct {
	From        string   `json:"from"`
	ProfileName string   `json:"profile_name,omitempty"`
	Body        string   `json:"body"`
	Media       []string `json:"media,omitempty"`
}

// Outbound is one message handed to the delivery service.
type Outbound struct {
	ID    string   `json:"id"`
	To    string   `json:"to"`
	Body  string   `json:"body"`
	Media []string `json:"media,omitempty"`
}

// Handler turns an envelope into a reply for its sender. ok is false when the
// envelope is dropped without a reply.
type Handler interface {
	Handle(ctx context.Context, env Envelope) (reply string, ok bool)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env Envelope) (string, bool)

func (f HandlerFunc) Handle(ctx context.Context, env Envelope) (string, bool) { return f(ctx, env) }
