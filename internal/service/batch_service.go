package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dripline/dripline/internal/config"
	"github.com/dripline/dripline/internal/email"
	"github.com/dripline/dripline/internal/logger"
	"github.com/dripline/dripline/internal/metrics"
	"github.com/dripline/dripline/internal/model"
	"github.com/dripline/dripline/internal/repository"
)

// ResultStatus is the per-contact outcome of a batch run
type ResultStatus string

const (
	ResultSent      ResultStatus = "sent"
	ResultFailed    ResultStatus = "failed"
	ResultDryRun    ResultStatus = "dry_run"
	ResultComplete  ResultStatus = "complete"
	ResultRecovered ResultStatus = "recovered"
	ResultConflict  ResultStatus = "conflict"
	ResultError     ResultStatus = "error"
)

// ContactResult describes what a batch run did for one contact.
type ContactResult struct {
	Email       string            `json:"email"`
	TemplateKey model.TemplateKey `json:"templateKey,omitempty"`
	Stage       int               `json:"stage"`
	Status      ResultStatus      `json:"status"`
	MessageID   string            `json:"messageId,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// BatchSummary aggregates a batch run.
type BatchSummary struct {
	RunID      string          `json:"runId"`
	Processed  int             `json:"processed"`
	Sent       int             `json:"sent"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
	DryRun     bool            `json:"dryRun"`
	StartedAt  time.Time       `json:"startedAt"`
	Duration   time.Duration   `json:"-"`
	DurationMS int64           `json:"durationMs"`
	Results    []ContactResult `json:"results"`
}

func (s *BatchSummary) add(r ContactResult) {
	s.Processed++
	switch r.Status {
	case ResultSent, ResultDryRun:
		s.Sent++
	case ResultFailed, ResultError:
		s.Failed++
	default:
		s.Skipped++
	}
	s.Results = append(s.Results, r)
}

// Dispatcher sends campaign mail. *DispatchService implements it.
type Dispatcher interface {
	Send(ctx context.Context, msg email.Message, class Classification) (*DispatchResult, error)
	UnsubscribeURL(addr string) (string, error)
}

// BatchService runs the drip campaign: select due contacts, render the next
// template, dispatch, log and advance.
type BatchService struct {
	sequence   *SequenceService
	contacts   ContactStore
	deliveries DeliveryLog
	dispatcher Dispatcher
	lock       RunLocker
	limiter    *rate.Limiter
	cadence    model.Cadence
	ctaBaseURL string
	appName    string
	defLimit   int
	now        func() time.Time
	log        *logger.Logger
}

// NewBatchService creates a new BatchService. lock may be nil, in which case
// overlapping runs rely on the conditional stage update alone.
func NewBatchService(
	sequence *SequenceService,
	contacts ContactStore,
	deliveries DeliveryLog,
	dispatcher Dispatcher,
	lock RunLocker,
	cfg *config.Config,
	log *logger.Logger,
) *BatchService {
	limit := rate.Inf
	if cfg.Sequence.DispatchInterval > 0 {
		limit = rate.Every(cfg.Sequence.DispatchInterval)
	}
	return &BatchService{
		sequence:   sequence,
		contacts:   contacts,
		deliveries: deliveries,
		dispatcher: dispatcher,
		lock:       lock,
		limiter:    rate.NewLimiter(limit, 1),
		cadence:    model.Cadence(cfg.Sequence.Cadence),
		ctaBaseURL: strings.TrimRight(cfg.Sequence.CTABaseURL, "/"),
		appName:    cfg.Email.AppName,
		defLimit:   cfg.Sequence.BatchLimit,
		now:        time.Now,
		log:        log.WithComponent("batch"),
	}
}

// SetClock overrides the time source.
func (s *BatchService) SetClock(now func() time.Time) {
	s.now = now
}

// DefaultLimit returns the configured batch size.
func (s *BatchService) DefaultLimit() int {
	return s.defLimit
}

// TemplateCount returns the number of active templates.
func (s *BatchService) TemplateCount() int {
	return s.sequence.TemplateCount()
}

// RunBatch processes up to limit due contacts. A dry run renders every
// message but sends nothing and writes nothing. Per-contact failures are
// reported in the summary; the run continues with the next contact. When ctx
// is cancelled the partial summary is returned together with ctx.Err().
func (s *BatchService) RunBatch(ctx context.Context, limit int, dryRun bool) (*BatchSummary, error) {
	if limit <= 0 {
		limit = s.defLimit
	}

	if !dryRun && s.lock != nil {
		release, err := s.lock.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	started := s.now()
	summary := &BatchSummary{
		RunID:     uuid.New().String(),
		DryRun:    dryRun,
		StartedAt: started,
		Results:   []ContactResult{},
	}
	runLog := s.log.WithRun(summary.RunID)
	defer func() {
		summary.Duration = s.now().Sub(started)
		summary.DurationMS = summary.Duration.Milliseconds()
		metrics.ObserveBatchDuration(dryRun, summary.Duration.Seconds())
	}()

	contacts, err := s.sequence.DueContacts(ctx, started, limit)
	if err != nil {
		return nil, err
	}

	runLog.Info().
		Int("due", len(contacts)).
		Int("limit", limit).
		Bool("dry_run", dryRun).
		Msg("batch run started")

	for _, c := range contacts {
		if err := ctx.Err(); err != nil {
			runLog.Warn().Int("processed", summary.Processed).Msg("batch run cancelled")
			return summary, err
		}

		result, err := s.processContact(ctx, runLog, c, dryRun)
		if err != nil {
			runLog.Warn().Int("processed", summary.Processed).Msg("batch run cancelled")
			return summary, err
		}
		summary.add(result)

		outcome := string(result.TemplateKey)
		if outcome == "" {
			outcome = "none"
		}
		metrics.IncDispatch(outcome, string(result.Status))
	}

	runLog.Info().
		Int("processed", summary.Processed).
		Int("sent", summary.Sent).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Bool("dry_run", dryRun).
		Msg("batch run finished")
	return summary, nil
}

// processContact handles one contact. The returned error is non-nil only when
// ctx was cancelled before anything was sent.
func (s *BatchService) processContact(ctx context.Context, runLog *logger.Logger, c *model.Contact, dryRun bool) (ContactResult, error) {
	log := runLog.WithContact(c.Email)
	result := ContactResult{Email: c.Email, Stage: c.SequenceStage}

	tmpl := s.sequence.NextTemplateFor(c)
	if tmpl == nil {
		result.Status = ResultComplete
		if dryRun {
			return result, nil
		}
		err := s.contacts.CompleteSequence(ctx, c.Email, c.SequenceStage, s.now())
		switch {
		case errors.Is(err, repository.ErrStageConflict):
			result.Status = ResultConflict
		case err != nil:
			return s.persistenceFailure(log, result, "complete sequence", err), nil
		default:
			log.AuditLog(c.Email, model.AuditActionSequenceDone, "batch", map[string]interface{}{
				"stage": c.SequenceStage,
			})
		}
		return result, nil
	}
	result.TemplateKey = tmpl.Key

	msg, err := s.buildMessage(c, tmpl)
	if err != nil {
		result.Status = ResultError
		result.Error = err.Error()
		log.Error().Err(err).Str("template", string(tmpl.Key)).Msg("failed to build message")
		return result, nil
	}

	if dryRun {
		result.Status = ResultDryRun
		return result, nil
	}

	existing, err := s.deliveries.Find(ctx, tmpl.Key, c.Email)
	switch {
	case err == nil && existing.Status != model.DeliveryStatusFailed:
		// Sent by an earlier run that died before advancing the stage.
		result.Status = ResultRecovered
		if existing.ExternalMessageID != nil {
			result.MessageID = *existing.ExternalMessageID
		}
		return s.advance(ctx, log, result, c, s.now()), nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return s.persistenceFailure(log, result, "find delivery", err), nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		return result, err
	}

	// Once the gateway is called the outcome must be written even if the
	// run is cancelled meanwhile.
	persistCtx := context.WithoutCancel(ctx)
	sentAt := s.now()

	res, sendErr := s.dispatcher.Send(ctx, msg, Promotional{})
	if sendErr != nil {
		result.Status = ResultFailed
		result.Error = sendErr.Error()
		log.Warn().Err(sendErr).Str("template", string(tmpl.Key)).Msg("dispatch failed")

		if _, err := s.deliveries.Record(persistCtx, s.newEntry(tmpl.Key, c.Email, model.DeliveryStatusFailed, "", sendErr.Error(), sentAt)); err != nil {
			return s.persistenceFailure(log, result, "record failed delivery", err), nil
		}
		return result, nil
	}

	result.Status = ResultSent
	result.MessageID = res.ID

	if _, err := s.deliveries.Record(persistCtx, s.newEntry(tmpl.Key, c.Email, model.DeliveryStatusSent, res.ID, "", sentAt)); err != nil {
		// The message is out; advance anyway so the next run does not resend it.
		failed := s.persistenceFailure(log, result, "record delivery", err)
		if advanced := s.advance(persistCtx, log, result, c, sentAt); advanced.Status == ResultError {
			failed.Error += "; " + advanced.Error
		}
		return failed, nil
	}

	return s.advance(persistCtx, log, result, c, sentAt), nil
}

// advance moves the contact past its current stage. The contact's sequence
// ends when no template follows.
func (s *BatchService) advance(ctx context.Context, log *logger.Logger, result ContactResult, c *model.Contact, sentAt time.Time) ContactResult {
	var next *time.Time
	if c.SequenceStage+1 < s.sequence.TemplateCount() {
		t := s.cadence.Next(c.SequenceStage, sentAt)
		next = &t
	}

	err := s.contacts.AdvanceStage(ctx, c.Email, c.SequenceStage, sentAt, next)
	switch {
	case errors.Is(err, repository.ErrStageConflict):
		log.Warn().
			Int("stage", c.SequenceStage).
			Str("message_id", result.MessageID).
			Msg("contact changed during run")
		result.Status = ResultConflict
	case err != nil:
		return s.persistenceFailure(log, result, "advance stage", err)
	default:
		log.Info().
			Str("template", string(result.TemplateKey)).
			Int("stage", c.SequenceStage+1).
			Str("message_id", result.MessageID).
			Msg("contact advanced")
	}
	return result
}

func (s *BatchService) persistenceFailure(log *logger.Logger, result ContactResult, op string, err error) ContactResult {
	perr := &PersistenceError{Op: op, Err: err}
	log.Error().Err(perr).Msg("persistence failure")
	result.Status = ResultError
	result.Error = perr.Error()
	return result
}

func (s *BatchService) buildMessage(c *model.Contact, tmpl *model.Template) (email.Message, error) {
	spec, err := model.LookupTemplateSpec(tmpl.Key)
	if err != nil {
		return email.Message{}, err
	}

	unsubscribeURL, err := s.dispatcher.UnsubscribeURL(c.Email)
	if err != nil {
		return email.Message{}, err
	}

	html, err := email.Render(tmpl.Body, email.Variables{
		FirstName:      c.FirstName,
		CTAURL:         s.ctaBaseURL + spec.CTAPath,
		UnsubscribeURL: unsubscribeURL,
		PreviewText:    tmpl.PreviewText,
		AppName:        s.appName,
	})
	if err != nil {
		return email.Message{}, fmt.Errorf("template %q: %w", tmpl.Key, err)
	}

	return email.Message{
		To:       c.Email,
		Subject:  tmpl.Subject,
		HTMLBody: html,
		TextBody: email.ToPlainText(html),
		Tags: map[string]string{
			"template": string(tmpl.Key),
			"stage":    fmt.Sprint(c.SequenceStage),
		},
	}, nil
}

func (s *BatchService) newEntry(key model.TemplateKey, addr string, status model.DeliveryStatus, messageID, errMsg string, at time.Time) *model.DeliveryLogEntry {
	entry := &model.DeliveryLogEntry{
		ID:           uuid.New().String(),
		TemplateKey:  key,
		ContactEmail: addr,
		Status:       status,
		CreatedAt:    at,
	}
	if messageID != "" {
		entry.ExternalMessageID = &messageID
	}
	if errMsg != "" {
		entry.ErrorMessage = &errMsg
	}
	return entry
}
