package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dripline/dripline/internal/email"
	"github.com/dripline/dripline/internal/model"
	"github.com/dripline/dripline/internal/repository"
)

// fakeContacts is an in-memory ContactStore with the same conditional
// update semantics as the SQL repository.
type fakeContacts struct {
	mu       sync.Mutex
	byEmail  map[string]*model.Contact
	writes   int
	listErr  error
	advErr   error
	complete int
}

func newFakeContacts(contacts ...*model.Contact) *fakeContacts {
	f := &fakeContacts{byEmail: make(map[string]*model.Contact)}
	for _, c := range contacts {
		cp := *c
		f.byEmail[c.Email] = &cp
	}
	return f
}

func (f *fakeContacts) get(addr string) *model.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byEmail[addr]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

func (f *fakeContacts) Create(ctx context.Context, c *model.Contact) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byEmail[c.Email]; ok {
		return false, nil
	}
	cp := *c
	f.byEmail[c.Email] = &cp
	f.writes++
	return true, nil
}

func (f *fakeContacts) GetByEmail(ctx context.Context, addr string) (*model.Contact, error) {
	if c := f.get(addr); c != nil {
		return c, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeContacts) ListDue(ctx context.Context, ref time.Time, limit int) ([]*model.Contact, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Contact
	for _, c := range f.byEmail {
		if c.ConsentMarketing && !c.Registered && c.NextSendAt != nil && !c.NextSendAt.After(ref) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextSendAt.Equal(*out[j].NextSendAt) {
			return out[i].Email < out[j].Email
		}
		return out[i].NextSendAt.Before(*out[j].NextSendAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeContacts) AdvanceStage(ctx context.Context, addr string, expectedStage int, sentAt time.Time, nextSendAt *time.Time) error {
	if f.advErr != nil {
		return f.advErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byEmail[addr]
	if !ok || c.SequenceStage != expectedStage || !c.ConsentMarketing || c.Registered {
		return repository.ErrStageConflict
	}
	c.SequenceStage++
	c.LastSentAt = &sentAt
	c.NextSendAt = nextSendAt
	f.writes++
	return nil
}

func (f *fakeContacts) CompleteSequence(ctx context.Context, addr string, expectedStage int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byEmail[addr]
	if !ok || c.SequenceStage != expectedStage || c.NextSendAt == nil {
		return repository.ErrStageConflict
	}
	c.NextSendAt = nil
	f.writes++
	f.complete++
	return nil
}

func (f *fakeContacts) Unsubscribe(ctx context.Context, addr string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byEmail[addr]
	if !ok {
		return false, nil
	}
	c.ConsentMarketing = false
	c.NextSendAt = nil
	if c.UnsubscribedAt == nil {
		c.UnsubscribedAt = &at
	}
	f.writes++
	return true, nil
}

func (f *fakeContacts) MarkRegistered(ctx context.Context, addr string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byEmail[addr]
	if !ok {
		return false, nil
	}
	c.Registered = true
	c.NextSendAt = nil
	c.RegisteredAt = &at
	f.writes++
	return true, nil
}

type fakeTemplates struct {
	templates []*model.Template
	err       error
}

func (f *fakeTemplates) ListActive(ctx context.Context) ([]*model.Template, error) {
	return f.templates, f.err
}

// fakeDeliveries mirrors the unique (template, contact) key and the
// failed-to-sent upgrade of the SQL repository.
type fakeDeliveries struct {
	mu      sync.Mutex
	entries map[string]*model.DeliveryLogEntry
	writes  int
	findErr error
	recErr  error
}

func newFakeDeliveries() *fakeDeliveries {
	return &fakeDeliveries{entries: make(map[string]*model.DeliveryLogEntry)}
}

func deliveryKey(key model.TemplateKey, addr string) string {
	return string(key) + "|" + addr
}

func (f *fakeDeliveries) Record(ctx context.Context, entry *model.DeliveryLogEntry) (bool, error) {
	if f.recErr != nil {
		return false, f.recErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := deliveryKey(entry.TemplateKey, entry.ContactEmail)
	if existing, ok := f.entries[k]; ok {
		if existing.Status != model.DeliveryStatusFailed {
			return false, nil
		}
	}
	cp := *entry
	f.entries[k] = &cp
	f.writes++
	return true, nil
}

func (f *fakeDeliveries) Find(ctx context.Context, key model.TemplateKey, addr string) (*model.DeliveryLogEntry, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[deliveryKey(key, addr)]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeDeliveries) ListByContact(ctx context.Context, addr string) ([]*model.DeliveryLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.DeliveryLogEntry
	for _, e := range f.entries {
		if e.ContactEmail == addr {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeDeliveries) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// fakeSender records every message handed to the gateway.
type fakeSender struct {
	mu      sync.Mutex
	sent    []email.Message
	failFor map[string]error
	seq     int
}

func (f *fakeSender) Send(ctx context.Context, msg email.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[msg.To]; ok {
		return "", err
	}
	f.sent = append(f.sent, msg)
	f.seq++
	return fmt.Sprintf("msg-%d", f.seq), nil
}

func (f *fakeSender) messages() []email.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]email.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

var _ email.Sender = (*fakeSender)(nil)

// fakeLock is a RunLocker that can be pre-held.
type fakeLock struct {
	held     bool
	released int
}

func (f *fakeLock) Acquire(ctx context.Context) (func(), error) {
	if f.held {
		return nil, ErrBatchInProgress
	}
	f.held = true
	return func() {
		f.held = false
		f.released++
	}, nil
}

var errStoreDown = errors.New("connection refused")
