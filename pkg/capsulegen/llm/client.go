// Package llm defines the provider call boundary and the resilience
// wrapper around it.
//
// The core never assumes which concrete provider sits behind Client; it
// only assumes the call signature and that failures surface an HTTP-like
// status or a recognizable message for classification.
package llm

import "context"

// Request is a single structured-output ask.
type Request struct {
	// System is the system prompt.
	System string

	// User is the user message.
	User string

	// Attachment is an optional binary source document.
	Attachment []byte

	// AttachmentMIME is the attachment's media type, e.g. "application/pdf".
	AttachmentMIME string

	// SchemaHint describes the expected response shape for providers that
	// support constrained output. May be empty.
	SchemaHint string
}

// HasAttachment reports whether the request carries a binary attachment.
func (r Request) HasAttachment() bool {
	return len(r.Attachment) > 0
}

// Usage tracks token consumption for one or more calls.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Response is the raw provider output for one call.
type Response struct {
	// Text is the model's raw text output.
	Text string

	// Usage is the token cost of the call.
	Usage Usage
}

// Client sends one request to a concrete provider.
//
// Implementations must respect context cancellation and should return a
// *generr.Error or *generr.StatusError (possibly wrapped) on failure so
// the taxonomy can classify without guessing.
type Client interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Call implements Client.
func (f ClientFunc) Call(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
