package repository

import (
	"context"
	"fmt"

	"github.com/dripline/dripline/internal/database"
	"github.com/dripline/dripline/internal/model"
)

// TemplateRepository reads campaign templates from the content store.
// Templates are never written by the sequencer.
type TemplateRepository struct {
	db *database.Postgres
}

// NewTemplateRepository creates a new TemplateRepository
func NewTemplateRepository(db *database.Postgres) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// ListActive returns active templates ordered by their position in the sequence
func (r *TemplateRepository) ListActive(ctx context.Context) ([]*model.Template, error) {
	query := `
		SELECT template_key, subject, preview_text, body, order_sequence, active
		FROM email_templates
		WHERE active = TRUE
		ORDER BY order_sequence ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*model.Template
	for rows.Next() {
		var t model.Template
		if err := rows.Scan(&t.Key, &t.Subject, &t.PreviewText, &t.Body, &t.OrderSequence, &t.Active); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}
