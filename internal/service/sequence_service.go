package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dripline/dripline/internal/email"
	"github.com/dripline/dripline/internal/logger"
	"github.com/dripline/dripline/internal/model"
)

// SequenceService selects due contacts and maps a contact's stage to the
// template it should receive next.
type SequenceService struct {
	contacts  ContactStore
	templates TemplateStore
	log       *logger.Logger

	mu      sync.RWMutex
	ordered []*model.Template
}

// NewSequenceService creates a new SequenceService. Call Refresh before use.
func NewSequenceService(contacts ContactStore, templates TemplateStore, log *logger.Logger) *SequenceService {
	return &SequenceService{
		contacts:  contacts,
		templates: templates,
		log:       log.WithComponent("sequence"),
	}
}

// Refresh reloads the active templates from the content store. The previous
// set stays in place when the new one is invalid.
func (s *SequenceService) Refresh(ctx context.Context) error {
	templates, err := s.templates.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	ordered, err := OrderTemplates(templates)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ordered = ordered
	s.mu.Unlock()

	s.log.Info().Int("templates", len(ordered)).Msg("template set loaded")
	return nil
}

// OrderTemplates validates the active templates and returns them sorted by
// order. Keys must be registered, unique and renderable, and orders must run
// 0..n-1 without gaps.
func OrderTemplates(templates []*model.Template) ([]*model.Template, error) {
	var errs []error
	seenKeys := make(map[model.TemplateKey]bool, len(templates))
	seenOrders := make(map[int]model.TemplateKey, len(templates))

	for _, t := range templates {
		if t == nil {
			continue
		}
		if _, err := model.LookupTemplateSpec(t.Key); err != nil {
			errs = append(errs, err)
		}
		if seenKeys[t.Key] {
			errs = append(errs, fmt.Errorf("template %q is listed twice", t.Key))
		}
		seenKeys[t.Key] = true
		if other, ok := seenOrders[t.OrderSequence]; ok {
			errs = append(errs, fmt.Errorf("templates %q and %q share order %d", other, t.Key, t.OrderSequence))
		}
		seenOrders[t.OrderSequence] = t.Key
		if err := email.Validate(t.Body); err != nil {
			errs = append(errs, fmt.Errorf("template %q: %w", t.Key, err))
		}
	}

	ordered := make([]*model.Template, 0, len(templates))
	for _, t := range templates {
		if t != nil {
			ordered = append(ordered, t)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].OrderSequence < ordered[j].OrderSequence
	})
	for i, t := range ordered {
		if t.OrderSequence != i {
			errs = append(errs, fmt.Errorf("template %q has order %d, want %d", t.Key, t.OrderSequence, i))
			break
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplateSet, errors.Join(errs...))
	}
	return ordered, nil
}

// DueContacts returns up to limit contacts due at ref, oldest schedule first.
// Contacts that stopped being sendable between the query and now are dropped.
func (s *SequenceService) DueContacts(ctx context.Context, ref time.Time, limit int) ([]*model.Contact, error) {
	if limit <= 0 {
		return nil, nil
	}
	contacts, err := s.contacts.ListDue(ctx, ref, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due contacts: %w", err)
	}

	due := contacts[:0]
	for _, c := range contacts {
		if c.IsDue(ref) {
			due = append(due, c)
		}
	}
	return due, nil
}

// NextTemplateFor returns the template at the contact's current stage, or nil
// when the sequence is exhausted.
func (s *SequenceService) NextTemplateFor(c *model.Contact) *model.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c == nil || c.SequenceStage < 0 || c.SequenceStage >= len(s.ordered) {
		return nil
	}
	return s.ordered[c.SequenceStage]
}

// TemplateCount returns the number of active templates.
func (s *SequenceService) TemplateCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}

// Templates returns the active templates in send order.
func (s *SequenceService) Templates() []*model.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Template, len(s.ordered))
	copy(out, s.ordered)
	return out
}
