// Package app builds the dependency graph shared by the server and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/dripline/dripline/internal/auth"
	"github.com/dripline/dripline/internal/config"
	"github.com/dripline/dripline/internal/database"
	"github.com/dripline/dripline/internal/email"
	"github.com/dripline/dripline/internal/logger"
	"github.com/dripline/dripline/internal/repository"
	"github.com/dripline/dripline/internal/service"
)

// App holds connections and services for one process.
type App struct {
	DB  *database.Postgres
	RDB *database.Redis

	Tokens      *auth.UnsubscribeTokenService
	Sequence    *service.SequenceService
	Dispatch    *service.DispatchService
	Batch       *service.BatchService
	Contacts    *service.ContactService
	Unsubscribe *service.UnsubscribeService
}

// New connects to Postgres and Redis, loads the template set and wires the
// services. Close releases the connections.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tokens, err := auth.NewUnsubscribeTokenService(cfg.Unsubscribe)
	if err != nil {
		return nil, err
	}

	sender, err := NewSender(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info().Msg("connected to PostgreSQL")

	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info().Msg("connected to Redis")

	contactRepo := repository.NewContactRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	deliveryRepo := repository.NewDeliveryLogRepository(db)

	sequence := service.NewSequenceService(contactRepo, templateRepo, log)
	if err := sequence.Refresh(ctx); err != nil {
		_ = rdb.Close()
		_ = db.Close()
		return nil, err
	}

	dispatch := service.NewDispatchService(sender, tokens, cfg.Unsubscribe, log)
	lock := service.NewRedisRunLock(rdb, cfg.Sequence.RunLockTTL, log)

	return &App{
		DB:          db,
		RDB:         rdb,
		Tokens:      tokens,
		Sequence:    sequence,
		Dispatch:    dispatch,
		Batch:       service.NewBatchService(sequence, contactRepo, deliveryRepo, dispatch, lock, cfg, log),
		Contacts:    service.NewContactService(contactRepo, deliveryRepo, cfg.Sequence, log),
		Unsubscribe: service.NewUnsubscribeService(contactRepo, tokens, log),
	}, nil
}

// Close releases the database connections.
func (a *App) Close() {
	_ = a.RDB.Close()
	_ = a.DB.Close()
}

// NewSender returns the gateway selected by email.provider.
func NewSender(ctx context.Context, cfg *config.Config, log *logger.Logger) (email.Sender, error) {
	ec := cfg.Email
	switch ec.Provider {
	case "resend":
		return email.NewResendSender(email.ResendConfig{
			APIKey:        ec.Resend.APIKey,
			BaseURL:       ec.Resend.BaseURL,
			SenderAddress: ec.FromAddress,
			SenderName:    ec.FromName,
			Timeout:       ec.Timeout,
		})
	case "gmail":
		if ec.Gmail.CredentialsJSON != "" {
			return email.NewGmailSender(ctx, email.GmailConfig{
				CredentialsJSON: ec.Gmail.CredentialsJSON,
				SenderAddress:   ec.FromAddress,
				SenderName:      ec.FromName,
			})
		}
		return email.NewGmailSenderWithToken(ctx, ec.Gmail.ClientID, ec.Gmail.ClientSecret, ec.Gmail.RefreshToken, ec.FromAddress, ec.FromName)
	case "log":
		return email.NewLogSender(log), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", ec.Provider)
	}
}
