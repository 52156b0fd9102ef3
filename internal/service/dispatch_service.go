package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dripline/dripline/internal/config"
	"github.com/dripline/dripline/internal/email"
	"github.com/dripline/dripline/internal/logger"
)

// Compliance headers for promotional mail (RFC 2369, RFC 8058).
const (
	HeaderListUnsubscribe     = "List-Unsubscribe"
	HeaderListUnsubscribePost = "List-Unsubscribe-Post"
	ListUnsubscribeOneClick   = "List-Unsubscribe=One-Click"
)

// Classification decides which compliance rules apply to a send.
// The only implementations are Transactional and Promotional.
type Classification interface {
	classification() string
}

// Transactional mail (receipts, confirmations) never carries unsubscribe headers.
type Transactional struct{}

// Promotional mail always carries one-click unsubscribe headers.
type Promotional struct{}

func (Transactional) classification() string { return "transactional" }
func (Promotional) classification() string   { return "promotional" }

// TokenIssuer issues signed unsubscribe tokens.
type TokenIssuer interface {
	Issue(email string) (string, error)
}

// DispatchResult is the gateway's acknowledgement of a send.
type DispatchResult struct {
	ID string `json:"id"`
}

// DispatchService wraps the email gateway and applies compliance headers.
type DispatchService struct {
	sender  email.Sender
	tokens  TokenIssuer
	baseURL string
	mailto  string
	log     *logger.Logger
}

// NewDispatchService creates a new DispatchService.
func NewDispatchService(sender email.Sender, tokens TokenIssuer, cfg config.UnsubscribeConfig, log *logger.Logger) *DispatchService {
	return &DispatchService{
		sender:  sender,
		tokens:  tokens,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		mailto:  cfg.Mailto,
		log:     log.WithComponent("dispatch"),
	}
}

// UnsubscribeURL returns the signed one-click unsubscribe link for addr.
func (s *DispatchService) UnsubscribeURL(addr string) (string, error) {
	token, err := s.tokens.Issue(addr)
	if err != nil {
		return "", fmt.Errorf("failed to issue unsubscribe token: %w", err)
	}
	return s.baseURL + "/unsubscribe?token=" + url.QueryEscape(token), nil
}

// Send delivers msg through the gateway. Promotional messages get both
// List-Unsubscribe headers; transactional messages get neither. A missing
// plain-text body is derived from the HTML. Gateway failures are returned
// as *DispatchError without retrying.
func (s *DispatchService) Send(ctx context.Context, msg email.Message, class Classification) (*DispatchResult, error) {
	if class == nil {
		return nil, ErrNoClassification
	}

	out := msg.Clone()
	if out.Headers == nil {
		out.Headers = make(map[string]string)
	}
	stripUnsubscribeHeaders(out.Headers)

	if _, ok := class.(Promotional); ok {
		link, err := s.UnsubscribeURL(out.To)
		if err != nil {
			return nil, err
		}
		out.Headers[HeaderListUnsubscribe] = fmt.Sprintf("<mailto:%s?subject=unsubscribe>, <%s>", s.mailto, link)
		out.Headers[HeaderListUnsubscribePost] = ListUnsubscribeOneClick
	}

	if out.TextBody == "" && out.HTMLBody != "" {
		out.TextBody = email.ToPlainText(out.HTMLBody)
	}

	id, err := s.sender.Send(ctx, out)
	if err != nil {
		s.log.Warn().Err(err).
			Str("to", out.To).
			Str("class", class.classification()).
			Msg("gateway rejected message")
		return nil, &DispatchError{Message: err.Error(), Err: err}
	}

	s.log.Debug().
		Str("to", out.To).
		Str("class", class.classification()).
		Str("message_id", id).
		Msg("message dispatched")
	return &DispatchResult{ID: id}, nil
}

// stripUnsubscribeHeaders removes caller-supplied unsubscribe headers in any
// letter case so only the classification decides whether they are present.
func stripUnsubscribeHeaders(headers map[string]string) {
	for name := range headers {
		if strings.EqualFold(name, HeaderListUnsubscribe) || strings.EqualFold(name, HeaderListUnsubscribePost) {
			delete(headers, name)
		}
	}
}
