package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/internal/config"
	"github.com/dripline/dripline/internal/email"
	"github.com/dripline/dripline/internal/logger"
)

func TestNewSender(t *testing.T) {
	ctx := context.Background()
	log := logger.Nop()

	cfg := &config.Config{Email: config.EmailConfig{Provider: "log"}}
	sender, err := NewSender(ctx, cfg, log)
	require.NoError(t, err)
	assert.IsType(t, &email.LogSender{}, sender)

	cfg = &config.Config{Email: config.EmailConfig{
		Provider:    "resend",
		FromAddress: "hello@example.com",
		Resend:      config.ResendEmailConfig{APIKey: "re_test"},
	}}
	sender, err = NewSender(ctx, cfg, log)
	require.NoError(t, err)
	assert.IsType(t, &email.ResendSender{}, sender)

	cfg.Email.Resend.APIKey = ""
	_, err = NewSender(ctx, cfg, log)
	assert.Error(t, err)

	cfg = &config.Config{Email: config.EmailConfig{Provider: "carrier-pigeon"}}
	_, err = NewSender(ctx, cfg, log)
	assert.ErrorContains(t, err, "unknown email provider")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), &config.Config{}, logger.Nop())
	assert.ErrorContains(t, err, "invalid configuration")
}
