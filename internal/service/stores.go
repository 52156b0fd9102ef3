package service

import (
	"context"
	"time"

	"github.com/dripline/dripline/internal/model"
)

// ContactStore is the contact persistence the sequencer depends on.
// *repository.ContactRepository implements it.
type ContactStore interface {
	Create(ctx context.Context, c *model.Contact) (bool, error)
	GetByEmail(ctx context.Context, email string) (*model.Contact, error)
	ListDue(ctx context.Context, ref time.Time, limit int) ([]*model.Contact, error)
	AdvanceStage(ctx context.Context, email string, expectedStage int, sentAt time.Time, nextSendAt *time.Time) error
	CompleteSequence(ctx context.Context, email string, expectedStage int, at time.Time) error
	Unsubscribe(ctx context.Context, email string, at time.Time) (bool, error)
	MarkRegistered(ctx context.Context, email string, at time.Time) (bool, error)
}

// TemplateStore supplies the active campaign templates.
type TemplateStore interface {
	ListActive(ctx context.Context) ([]*model.Template, error)
}

// DeliveryLog is the append-only send audit trail.
type DeliveryLog interface {
	Record(ctx context.Context, entry *model.DeliveryLogEntry) (bool, error)
	Find(ctx context.Context, key model.TemplateKey, email string) (*model.DeliveryLogEntry, error)
	ListByContact(ctx context.Context, email string) ([]*model.DeliveryLogEntry, error)
}
