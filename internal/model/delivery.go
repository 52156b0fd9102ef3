package model

import "time"

// DeliveryStatus is the outcome recorded for a send attempt
type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusBounced   DeliveryStatus = "bounced"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// DeliveryLogEntry is one row of the send audit trail.
// (TemplateKey, ContactEmail) is unique.
type DeliveryLogEntry struct {
	ID                string         `json:"id"`
	TemplateKey       TemplateKey    `json:"templateKey"`
	ContactEmail      string         `json:"contactEmail"`
	Status            DeliveryStatus `json:"status"`
	ExternalMessageID *string        `json:"externalMessageId,omitempty"`
	ErrorMessage      *string        `json:"errorMessage,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// Audit action constants
const (
	AuditActionOptIn        = "contact.opt_in"
	AuditActionUnsubscribe  = "contact.unsubscribe"
	AuditActionRegistered   = "contact.registered"
	AuditActionSequenceDone = "contact.sequence_complete"
)
