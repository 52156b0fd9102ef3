package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dripline/dripline/internal/auth"
	"github.com/dripline/dripline/internal/config"
	"github.com/dripline/dripline/internal/logger"
	"github.com/dripline/dripline/internal/model"
	"github.com/dripline/dripline/internal/repository"
)

// ErrContactNotFound is returned when no contact has the given email.
var ErrContactNotFound = errors.New("contact not found")

// OptInInput is a marketing opt-in from a landing page form.
type OptInInput struct {
	Email       string
	FirstName   string
	Source      string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
}

// ContactService manages contact lifecycle outside the batch run: opt-in,
// registration and delivery history.
type ContactService struct {
	contacts     ContactStore
	deliveries   DeliveryLog
	initialDelay time.Duration
	now          func() time.Time
	log          *logger.Logger
}

// NewContactService creates a new ContactService.
func NewContactService(contacts ContactStore, deliveries DeliveryLog, cfg config.SequenceConfig, log *logger.Logger) *ContactService {
	return &ContactService{
		contacts:     contacts,
		deliveries:   deliveries,
		initialDelay: cfg.InitialDelay,
		now:          time.Now,
		log:          log.WithComponent("contacts"),
	}
}

// SetClock overrides the time source.
func (s *ContactService) SetClock(now func() time.Time) {
	s.now = now
}

// OptIn enrolls a new contact at stage 0 with the first send scheduled after
// the initial delay. An existing contact is returned unchanged and created
// is false.
func (s *ContactService) OptIn(ctx context.Context, in OptInInput) (contact *model.Contact, created bool, err error) {
	addr := auth.NormalizeEmail(in.Email)
	if err := auth.ValidateEmail(addr); err != nil {
		return nil, false, fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
	}

	now := s.now().UTC()
	next := now.Add(s.initialDelay)
	c := &model.Contact{
		Email:            addr,
		FirstName:        in.FirstName,
		ConsentMarketing: true,
		SequenceStage:    0,
		NextSendAt:       &next,
		Source:           in.Source,
		UTMSource:        in.UTMSource,
		UTMMedium:        in.UTMMedium,
		UTMCampaign:      in.UTMCampaign,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	created, err = s.contacts.Create(ctx, c)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := s.contacts.GetByEmail(ctx, addr)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	s.log.AuditLog(addr, model.AuditActionOptIn, in.Source, map[string]interface{}{
		"utm_source":   in.UTMSource,
		"utm_medium":   in.UTMMedium,
		"utm_campaign": in.UTMCampaign,
	})
	return c, true, nil
}

// MarkRegistered permanently stops the sequence for a converted contact.
// It returns ErrContactNotFound for unknown emails.
func (s *ContactService) MarkRegistered(ctx context.Context, addr, source string) error {
	addr = auth.NormalizeEmail(addr)
	if err := auth.ValidateEmail(addr); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
	}

	found, err := s.contacts.MarkRegistered(ctx, addr, s.now().UTC())
	if err != nil {
		return err
	}
	if !found {
		return ErrContactNotFound
	}

	s.log.AuditLog(addr, model.AuditActionRegistered, source, nil)
	return nil
}

// Deliveries returns the send history of a contact, newest first.
func (s *ContactService) Deliveries(ctx context.Context, addr string) ([]*model.DeliveryLogEntry, error) {
	addr = auth.NormalizeEmail(addr)
	entries, err := s.deliveries.ListByContact(ctx, addr)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*model.DeliveryLogEntry{}
	}
	return entries, nil
}
