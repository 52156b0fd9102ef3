package email

import "context"

// Sender is the interface that all email gateways must implement.
// This abstraction allows swapping providers (Resend, Gmail, ...)
// without changing business logic.
type Sender interface {
	// Send delivers msg and returns the gateway's message ID.
	Send(ctx context.Context, msg Message) (string, error)
}

// Message represents an email message to be sent.
type Message struct {
	To       string            // recipient email address
	Subject  string            // email subject
	HTMLBody string            // HTML email body
	TextBody string            // plain-text fallback body
	Headers  map[string]string // extra headers, names are case-sensitive
	Tags     map[string]string // provider-side tags for analytics
}

// Clone returns a copy of msg whose maps can be mutated independently.
func (m Message) Clone() Message {
	out := m
	if m.Headers != nil {
		out.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			out.Headers[k] = v
		}
	}
	if m.Tags != nil {
		out.Tags = make(map[string]string, len(m.Tags))
		for k, v := range m.Tags {
			out.Tags[k] = v
		}
	}
	return out
}
