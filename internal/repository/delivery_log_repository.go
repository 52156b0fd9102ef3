package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dripline/dripline/internal/database"
	"github.com/dripline/dripline/internal/model"
)

// DeliveryLogRepository handles the send audit trail.
// Rows are keyed by (template_key, contact_email).
type DeliveryLogRepository struct {
	db *database.Postgres
}

// NewDeliveryLogRepository creates a new DeliveryLogRepository
func NewDeliveryLogRepository(db *database.Postgres) *DeliveryLogRepository {
	return &DeliveryLogRepository{db: db}
}

// Record inserts entry if no row exists for its (template, contact) pair.
// An existing failed row is overwritten by the newer attempt, whatever its
// outcome, so the log keeps the latest error and time. Any other existing
// row is left alone. It reports whether a row was written.
func (r *DeliveryLogRepository) Record(ctx context.Context, entry *model.DeliveryLogEntry) (bool, error) {
	query := `
		INSERT INTO delivery_logs (id, template_key, contact_email, status,
		    external_message_id, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (template_key, contact_email) DO UPDATE
		SET status = EXCLUDED.status,
		    external_message_id = EXCLUDED.external_message_id,
		    error_message = EXCLUDED.error_message,
		    created_at = EXCLUDED.created_at
		WHERE delivery_logs.status = 'failed'
	`
	result, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.TemplateKey,
		entry.ContactEmail,
		entry.Status,
		entry.ExternalMessageID,
		entry.ErrorMessage,
		entry.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record delivery: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record delivery: %w", err)
	}
	return n > 0, nil
}

// Find returns the entry for a (template, contact) pair
func (r *DeliveryLogRepository) Find(ctx context.Context, key model.TemplateKey, email string) (*model.DeliveryLogEntry, error) {
	query := `
		SELECT id, template_key, contact_email, status, external_message_id, error_message, created_at
		FROM delivery_logs
		WHERE template_key = $1 AND contact_email = $2
	`
	entry, err := scanDelivery(r.db.QueryRowContext(ctx, query, key, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find delivery: %w", err)
	}
	return entry, nil
}

// ListByContact returns every entry for a contact, newest first
func (r *DeliveryLogRepository) ListByContact(ctx context.Context, email string) ([]*model.DeliveryLogEntry, error) {
	query := `
		SELECT id, template_key, contact_email, status, external_message_id, error_message, created_at
		FROM delivery_logs
		WHERE contact_email = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var entries []*model.DeliveryLogEntry
	for rows.Next() {
		entry, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return entries, nil
}

func scanDelivery(row rowScanner) (*model.DeliveryLogEntry, error) {
	var e model.DeliveryLogEntry
	err := row.Scan(
		&e.ID,
		&e.TemplateKey,
		&e.ContactEmail,
		&e.Status,
		&e.ExternalMessageID,
		&e.ErrorMessage,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
