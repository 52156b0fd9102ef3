package handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/internal/auth"
	"github.com/dripline/dripline/internal/config"
	"github.com/dripline/dripline/internal/email"
	"github.com/dripline/dripline/internal/logger"
	"github.com/dripline/dripline/internal/model"
	"github.com/dripline/dripline/internal/repository"
	"github.com/dripline/dripline/internal/service"
)

type stubHealth struct{ err error }

func (s stubHealth) HealthCheck(ctx context.Context) error { return s.err }

type memContacts struct {
	mu      sync.Mutex
	byEmail map[string]*model.Contact
	failAll error
}

func (m *memContacts) Create(ctx context.Context, c *model.Contact) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[c.Email]; ok {
		return false, nil
	}
	cp := *c
	m.byEmail[c.Email] = &cp
	return true, nil
}

func (m *memContacts) GetByEmail(ctx context.Context, addr string) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byEmail[addr]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memContacts) ListDue(ctx context.Context, ref time.Time, limit int) ([]*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Contact
	for _, c := range m.byEmail {
		if c.IsDue(ref) && len(out) < limit {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memContacts) AdvanceStage(ctx context.Context, addr string, expectedStage int, sentAt time.Time, nextSendAt *time.Time) error {
	return errors.New("not used")
}

func (m *memContacts) CompleteSequence(ctx context.Context, addr string, expectedStage int, at time.Time) error {
	return errors.New("not used")
}

func (m *memContacts) Unsubscribe(ctx context.Context, addr string, at time.Time) (bool, error) {
	if m.failAll != nil {
		return false, m.failAll
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byEmail[addr]
	if !ok {
		return false, nil
	}
	c.ConsentMarketing = false
	c.NextSendAt = nil
	return true, nil
}

func (m *memContacts) MarkRegistered(ctx context.Context, addr string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byEmail[addr]
	if !ok {
		return false, nil
	}
	c.Registered = true
	c.NextSendAt = nil
	return true, nil
}

func (m *memContacts) get(addr string) *model.Contact {
	c, _ := m.GetByEmail(context.Background(), addr)
	return c
}

type memDeliveries struct {
	entries []*model.DeliveryLogEntry
}

func (m *memDeliveries) Record(ctx context.Context, entry *model.DeliveryLogEntry) (bool, error) {
	m.entries = append(m.entries, entry)
	return true, nil
}

func (m *memDeliveries) Find(ctx context.Context, key model.TemplateKey, addr string) (*model.DeliveryLogEntry, error) {
	return nil, repository.ErrNotFound
}

func (m *memDeliveries) ListByContact(ctx context.Context, addr string) ([]*model.DeliveryLogEntry, error) {
	var out []*model.DeliveryLogEntry
	for _, e := range m.entries {
		if e.ContactEmail == addr {
			out = append(out, e)
		}
	}
	return out, nil
}

type memTemplates struct{ templates []*model.Template }

func (m memTemplates) ListActive(ctx context.Context) ([]*model.Template, error) {
	return m.templates, nil
}

type countingSender struct{ sent int }

func (s *countingSender) Send(ctx context.Context, msg email.Message) (string, error) {
	s.sent++
	return "id", nil
}

type lockStub struct{ held bool }

func (l *lockStub) Acquire(ctx context.Context) (func(), error) {
	if l.held {
		return nil, service.ErrBatchInProgress
	}
	return func() {}, nil
}

type testEnv struct {
	handler    *Handler
	contacts   *memContacts
	deliveries *memDeliveries
	tokens     *auth.UnsubscribeTokenService
	sender     *countingSender
	lock       *lockStub
	cfg        *config.Config
}

func newTestEnv(t *testing.T, contacts ...*model.Contact) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Email: config.EmailConfig{AppName: "Dripline"},
		Security: config.SecurityConfig{
			CronSecret: "cron-secret",
		},
		Unsubscribe: config.UnsubscribeConfig{
			Secret:        "handler-test-secret",
			Issuer:        "dripline",
			Audience:      "dripline:unsubscribe",
			PublicBaseURL: "https://mail.example.com",
			Mailto:        "unsubscribe@example.com",
		},
		Sequence: config.SequenceConfig{
			InitialDelay: 5 * time.Minute,
			Cadence:      []time.Duration{72 * time.Hour},
			BatchLimit:   25,
			CTABaseURL:   "https://example.com",
		},
	}

	env := &testEnv{
		contacts:   &memContacts{byEmail: map[string]*model.Contact{}},
		deliveries: &memDeliveries{},
		sender:     &countingSender{},
		lock:       &lockStub{},
		cfg:        cfg,
	}
	for _, c := range contacts {
		cp := *c
		env.contacts.byEmail[c.Email] = &cp
	}

	tokens, err := auth.NewUnsubscribeTokenService(cfg.Unsubscribe)
	require.NoError(t, err)
	env.tokens = tokens

	log := logger.Nop()
	sequence := service.NewSequenceService(env.contacts, memTemplates{templates: []*model.Template{{
		Key:           model.TemplateWelcome,
		Subject:       "Welcome",
		Body:          `<p>Hi {{.FirstName}}</p><a href="{{.UnsubscribeURL}}">Unsubscribe</a>`,
		OrderSequence: 0,
		Active:        true,
	}}}, log)
	require.NoError(t, sequence.Refresh(context.Background()))

	dispatch := service.NewDispatchService(env.sender, tokens, cfg.Unsubscribe, log)
	batch := service.NewBatchService(sequence, env.contacts, env.deliveries, dispatch, env.lock, cfg, log)
	contactSvc := service.NewContactService(env.contacts, env.deliveries, cfg.Sequence, log)
	unsubscribeSvc := service.NewUnsubscribeService(env.contacts, tokens, log)

	env.handler = New(stubHealth{}, stubHealth{}, log, cfg, contactSvc, unsubscribeSvc, batch)
	return env
}

func subscribedContact(addr string) *model.Contact {
	next := time.Now().Add(-time.Minute)
	return &model.Contact{Email: addr, ConsentMarketing: true, NextSendAt: &next}
}
