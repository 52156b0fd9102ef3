package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dripline/dripline/internal/database"
	"github.com/dripline/dripline/internal/model"
)

const contactColumns = `email, first_name, consent_marketing, sequence_stage,
		       last_sent_at, next_send_at, registered, source,
		       utm_source, utm_medium, utm_campaign,
		       unsubscribed_at, registered_at, created_at, updated_at`

// ContactRepository handles contact persistence
type ContactRepository struct {
	db *database.Postgres
}

// NewContactRepository creates a new ContactRepository
func NewContactRepository(db *database.Postgres) *ContactRepository {
	return &ContactRepository{db: db}
}

// Create inserts a contact unless one with the same email exists.
// It reports whether a row was inserted.
func (r *ContactRepository) Create(ctx context.Context, c *model.Contact) (bool, error) {
	query := `
		INSERT INTO contacts (email, first_name, consent_marketing, sequence_stage,
		    next_send_at, registered, source, utm_source, utm_medium, utm_campaign,
		    created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (email) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		c.Email,
		c.FirstName,
		c.ConsentMarketing,
		c.SequenceStage,
		c.NextSendAt,
		c.Registered,
		c.Source,
		c.UTMSource,
		c.UTMMedium,
		c.UTMCampaign,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create contact: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create contact: %w", err)
	}
	return n == 1, nil
}

// GetByEmail retrieves a contact by normalized email
func (r *ContactRepository) GetByEmail(ctx context.Context, email string) (*model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE email = $1`
	c, err := scanContact(r.db.QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

// ListDue returns subscribed, unregistered contacts whose next send is at or
// before ref, oldest first.
func (r *ContactRepository) ListDue(ctx context.Context, ref time.Time, limit int) ([]*model.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE consent_marketing = TRUE
		  AND registered = FALSE
		  AND next_send_at IS NOT NULL
		  AND next_send_at <= $1
		ORDER BY next_send_at ASC, email ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, ref, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list due contacts: %w", err)
	}
	return contacts, nil
}

// AdvanceStage moves a contact from expectedStage to expectedStage+1 in a
// single conditional update. A nil nextSendAt ends the sequence.
// ErrStageConflict is returned when another run already moved the contact
// or it stopped being sendable.
func (r *ContactRepository) AdvanceStage(ctx context.Context, email string, expectedStage int, sentAt time.Time, nextSendAt *time.Time) error {
	query := `
		UPDATE contacts
		SET sequence_stage = sequence_stage + 1,
		    last_sent_at = $3,
		    next_send_at = $4,
		    updated_at = $3
		WHERE email = $1
		  AND sequence_stage = $2
		  AND consent_marketing = TRUE
		  AND registered = FALSE
	`
	result, err := r.db.ExecContext(ctx, query, email, expectedStage, sentAt, nextSendAt)
	if err != nil {
		return fmt.Errorf("failed to advance contact stage: %w", err)
	}
	return expectOneRow(result, "advance contact stage")
}

// CompleteSequence clears next_send_at for a contact that has no template
// left at expectedStage.
func (r *ContactRepository) CompleteSequence(ctx context.Context, email string, expectedStage int, at time.Time) error {
	query := `
		UPDATE contacts
		SET next_send_at = NULL, updated_at = $3
		WHERE email = $1 AND sequence_stage = $2 AND next_send_at IS NOT NULL
	`
	result, err := r.db.ExecContext(ctx, query, email, expectedStage, at)
	if err != nil {
		return fmt.Errorf("failed to complete contact sequence: %w", err)
	}
	return expectOneRow(result, "complete contact sequence")
}

// Unsubscribe withdraws marketing consent and clears the schedule.
// It reports whether the contact exists.
func (r *ContactRepository) Unsubscribe(ctx context.Context, email string, at time.Time) (bool, error) {
	query := `
		UPDATE contacts
		SET consent_marketing = FALSE,
		    next_send_at = NULL,
		    unsubscribed_at = COALESCE(unsubscribed_at, $2),
		    updated_at = $2
		WHERE email = $1
	`
	result, err := r.db.ExecContext(ctx, query, email, at)
	if err != nil {
		return false, fmt.Errorf("failed to unsubscribe contact: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to unsubscribe contact: %w", err)
	}
	return n > 0, nil
}

// MarkRegistered halts the sequence permanently for a converted contact.
// It reports whether the contact exists.
func (r *ContactRepository) MarkRegistered(ctx context.Context, email string, at time.Time) (bool, error) {
	query := `
		UPDATE contacts
		SET registered = TRUE,
		    next_send_at = NULL,
		    registered_at = COALESCE(registered_at, $2),
		    updated_at = $2
		WHERE email = $1
	`
	result, err := r.db.ExecContext(ctx, query, email, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark contact registered: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark contact registered: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*model.Contact, error) {
	var c model.Contact
	err := row.Scan(
		&c.Email,
		&c.FirstName,
		&c.ConsentMarketing,
		&c.SequenceStage,
		&c.LastSentAt,
		&c.NextSendAt,
		&c.Registered,
		&c.Source,
		&c.UTMSource,
		&c.UTMMedium,
		&c.UTMCampaign,
		&c.UnsubscribedAt,
		&c.RegisteredAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func expectOneRow(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return ErrStageConflict
	}
	return nil
}
