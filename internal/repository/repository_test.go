package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/internal/database"
	"github.com/dripline/dripline/internal/model"
)

func newMock(t *testing.T) (*database.Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return database.Wrap(db), mock
}

var contactRowColumns = []string{
	"email", "first_name", "consent_marketing", "sequence_stage",
	"last_sent_at", "next_send_at", "registered", "source",
	"utm_source", "utm_medium", "utm_campaign",
	"unsubscribed_at", "registered_at", "created_at", "updated_at",
}

func contactRow(rows *sqlmock.Rows, addr string, stage int, next *time.Time) *sqlmock.Rows {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var nextVal interface{}
	if next != nil {
		nextVal = *next
	}
	return rows.AddRow(addr, "Ann", true, stage, nil, nextVal, false, "landing",
		"ads", "", "", nil, nil, created, created)
}

func TestContactCreate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewContactRepository(db)
	now := time.Now().UTC()
	c := &model.Contact{Email: "a@x.com", ConsentMarketing: true, NextSendAt: &now, CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO contacts")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	created, err := repo.Create(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, created)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (email) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	created, err = repo.Create(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestContactGetByEmail(t *testing.T) {
	db, mock := newMock(t)
	repo := NewContactRepository(db)
	next := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM contacts WHERE email = $1")).
		WithArgs("a@x.com").
		WillReturnRows(contactRow(sqlmock.NewRows(contactRowColumns), "a@x.com", 2, &next))

	c, err := repo.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", c.Email)
	assert.Equal(t, 2, c.SequenceStage)
	require.NotNil(t, c.NextSendAt)
	assert.True(t, next.Equal(*c.NextSendAt))
	assert.Nil(t, c.LastSentAt)

	mock.ExpectQuery(regexp.QuoteMeta("FROM contacts WHERE email = $1")).
		WithArgs("ghost@x.com").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.GetByEmail(context.Background(), "ghost@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContactListDue(t *testing.T) {
	db, mock := newMock(t)
	repo := NewContactRepository(db)
	ref := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	next := ref.Add(-time.Hour)

	rows := sqlmock.NewRows(contactRowColumns)
	contactRow(rows, "a@x.com", 0, &next)
	contactRow(rows, "b@x.com", 1, &next)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY next_send_at ASC, email ASC")).
		WithArgs(ref, 10).
		WillReturnRows(rows)

	contacts, err := repo.ListDue(context.Background(), ref, 10)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "b@x.com", contacts[1].Email)
}

func TestContactAdvanceStage(t *testing.T) {
	db, mock := newMock(t)
	repo := NewContactRepository(db)
	sent := time.Now().UTC()
	next := sent.Add(72 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("AND sequence_stage = $2")).
		WithArgs("a@x.com", 0, sent, next).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.AdvanceStage(context.Background(), "a@x.com", 0, sent, &next))

	mock.ExpectExec(regexp.QuoteMeta("AND sequence_stage = $2")).
		WithArgs("a@x.com", 0, sent, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.AdvanceStage(context.Background(), "a@x.com", 0, sent, nil)
	assert.ErrorIs(t, err, ErrStageConflict)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE contacts")).
		WillReturnError(errors.New("connection reset"))
	err = repo.AdvanceStage(context.Background(), "a@x.com", 0, sent, &next)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStageConflict)
}

func TestContactCompleteSequence(t *testing.T) {
	db, mock := newMock(t)
	repo := NewContactRepository(db)
	at := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("SET next_send_at = NULL")).
		WithArgs("a@x.com", 6, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.CompleteSequence(context.Background(), "a@x.com", 6, at))

	mock.ExpectExec(regexp.QuoteMeta("SET next_send_at = NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.CompleteSequence(context.Background(), "a@x.com", 6, at), ErrStageConflict)
}

func TestContactUnsubscribeAndRegister(t *testing.T) {
	db, mock := newMock(t)
	repo := NewContactRepository(db)
	at := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("SET consent_marketing = FALSE")).
		WithArgs("a@x.com", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	found, err := repo.Unsubscribe(context.Background(), "a@x.com", at)
	require.NoError(t, err)
	assert.True(t, found)

	mock.ExpectExec(regexp.QuoteMeta("SET consent_marketing = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	found, err = repo.Unsubscribe(context.Background(), "ghost@x.com", at)
	require.NoError(t, err)
	assert.False(t, found)

	mock.ExpectExec(regexp.QuoteMeta("SET registered = TRUE")).
		WithArgs("a@x.com", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	found, err = repo.MarkRegistered(context.Background(), "a@x.com", at)
	require.NoError(t, err)
	assert.True(t, found)
}

var deliveryColumns = []string{"id", "template_key", "contact_email", "status", "external_message_id", "error_message", "created_at"}

func TestDeliveryRecord(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDeliveryLogRepository(db)
	msgID := "re_1"
	entry := &model.DeliveryLogEntry{
		ID:                "d1",
		TemplateKey:       model.TemplateWelcome,
		ContactEmail:      "a@x.com",
		Status:            model.DeliveryStatusSent,
		ExternalMessageID: &msgID,
		CreatedAt:         time.Now().UTC(),
	}

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (template_key, contact_email) DO UPDATE") + `(?s).*WHERE delivery_logs\.status = 'failed'\s*$`).
		WithArgs("d1", "welcome", "a@x.com", "sent", "re_1", nil, entry.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	written, err := repo.Record(context.Background(), entry)
	require.NoError(t, err)
	assert.True(t, written)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO delivery_logs")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	written, err = repo.Record(context.Background(), entry)
	require.NoError(t, err)
	assert.False(t, written)
}

func TestDeliveryRecordRefreshesRepeatedFailure(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDeliveryLogRepository(db)
	reason := "mailbox full"
	entry := &model.DeliveryLogEntry{
		ID:           "d2",
		TemplateKey:  model.TemplateWelcome,
		ContactEmail: "a@x.com",
		Status:       model.DeliveryStatusFailed,
		ErrorMessage: &reason,
		CreatedAt:    time.Now().UTC(),
	}

	// A second failure for the pair replaces the first one's error and time.
	mock.ExpectExec(regexp.QuoteMeta("error_message = EXCLUDED.error_message")).
		WithArgs("d2", "welcome", "a@x.com", "failed", nil, "mailbox full", entry.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	written, err := repo.Record(context.Background(), entry)
	require.NoError(t, err)
	assert.True(t, written)
}

func TestDeliveryFind(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDeliveryLogRepository(db)
	created := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE template_key = $1 AND contact_email = $2")).
		WithArgs("welcome", "a@x.com").
		WillReturnRows(sqlmock.NewRows(deliveryColumns).
			AddRow("d1", "welcome", "a@x.com", "failed", nil, "gateway down", created))

	entry, err := repo.Find(context.Background(), model.TemplateWelcome, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, entry.Status)
	assert.Nil(t, entry.ExternalMessageID)
	require.NotNil(t, entry.ErrorMessage)
	assert.Equal(t, "gateway down", *entry.ErrorMessage)

	mock.ExpectQuery(regexp.QuoteMeta("FROM delivery_logs")).
		WillReturnRows(sqlmock.NewRows(deliveryColumns))
	_, err = repo.Find(context.Background(), model.TemplateMasterclass, "a@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeliveryListByContact(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDeliveryLogRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(deliveryColumns).
			AddRow("d2", "masterclass_invite", "a@x.com", "sent", "re_2", nil, now).
			AddRow("d1", "welcome", "a@x.com", "sent", "re_1", nil, now.Add(-time.Hour)))

	entries, err := repo.ListByContact(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.TemplateMasterclass, entries[0].TemplateKey)
}

func TestTemplateListActive(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTemplateRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM email_templates")).
		WillReturnRows(sqlmock.NewRows([]string{"template_key", "subject", "preview_text", "body", "order_sequence", "active"}).
			AddRow("welcome", "Welcome", "", "<p>Hi</p>", 0, true).
			AddRow("masterclass_invite", "Join", "Live", "<p>Join</p>", 1, true))

	templates, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, model.TemplateWelcome, templates[0].Key)
	assert.Equal(t, 1, templates[1].OrderSequence)

	mock.ExpectQuery(regexp.QuoteMeta("FROM email_templates")).
		WillReturnError(errors.New("relation does not exist"))
	_, err = repo.ListActive(context.Background())
	assert.Error(t, err)
}
