package handler

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/dripline/dripline/internal/config"
	"github.com/dripline/dripline/internal/logger"
	"github.com/dripline/dripline/internal/service"
)

// HealthChecker is implemented by the Postgres and Redis wrappers.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds all HTTP handlers
type Handler struct {
	db             HealthChecker
	rdb            HealthChecker
	log            *logger.Logger
	cfg            *config.Config
	contactSvc     *service.ContactService
	unsubscribeSvc *service.UnsubscribeService
	batchSvc       *service.BatchService
	validate       *validator.Validate
}

// New creates a new Handler instance
func New(db, rdb HealthChecker, log *logger.Logger, cfg *config.Config, contactSvc *service.ContactService, unsubscribeSvc *service.UnsubscribeService, batchSvc *service.BatchService) *Handler {
	return &Handler{
		db:             db,
		rdb:            rdb,
		log:            log,
		cfg:            cfg,
		contactSvc:     contactSvc,
		unsubscribeSvc: unsubscribeSvc,
		batchSvc:       batchSvc,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
	}
}
