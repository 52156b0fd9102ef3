package service

import (
	"context"
	"time"

	"github.com/dripline/dripline/internal/auth"
	"github.com/dripline/dripline/internal/logger"
	"github.com/dripline/dripline/internal/metrics"
	"github.com/dripline/dripline/internal/model"
)

// Unsubscribe methods, used as the audit source and metric label.
const (
	UnsubscribeOneClick = "one_click"
	UnsubscribeManual   = "manual"
)

// TokenVerifier validates unsubscribe tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.UnsubscribeClaims, error)
}

// UnsubscribeService withdraws marketing consent from a signed link.
type UnsubscribeService struct {
	contacts ContactStore
	tokens   TokenVerifier
	now      func() time.Time
	log      *logger.Logger
}

// NewUnsubscribeService creates a new UnsubscribeService.
func NewUnsubscribeService(contacts ContactStore, tokens TokenVerifier, log *logger.Logger) *UnsubscribeService {
	return &UnsubscribeService{
		contacts: contacts,
		tokens:   tokens,
		now:      time.Now,
		log:      log.WithComponent("unsubscribe"),
	}
}

// Unsubscribe verifies token and clears consent for the email it names.
// Token errors are returned unchanged from the verifier. An unknown email is
// not an error so the endpoint cannot be used to probe for contacts.
func (s *UnsubscribeService) Unsubscribe(ctx context.Context, token, method string) (string, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return "", err
	}

	addr := auth.NormalizeEmail(claims.Email)
	found, err := s.contacts.Unsubscribe(ctx, addr, s.now().UTC())
	if err != nil {
		return "", err
	}

	if !found {
		s.log.Info().Str("contact", addr).Msg("unsubscribe for unknown contact")
		return addr, nil
	}

	metrics.IncUnsubscribe(method)
	s.log.AuditLog(addr, model.AuditActionUnsubscribe, method, map[string]interface{}{
		"token_id": claims.ID,
	})
	return addr, nil
}
