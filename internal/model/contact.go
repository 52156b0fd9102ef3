package model

import (
	"time"
)

// Contact is a lead enrolled in the drip campaign, keyed by normalized email
type Contact struct {
	Email            string     `json:"email"`
	FirstName        string     `json:"firstName,omitempty"`
	ConsentMarketing bool       `json:"consentMarketing"`
	SequenceStage    int        `json:"sequenceStage"`
	LastSentAt       *time.Time `json:"lastSentAt,omitempty"`
	NextSendAt       *time.Time `json:"nextSendAt,omitempty"`
	Registered       bool       `json:"registered"`
	Source           string     `json:"source,omitempty"`
	UTMSource        string     `json:"utmSource,omitempty"`
	UTMMedium        string     `json:"utmMedium,omitempty"`
	UTMCampaign      string     `json:"utmCampaign,omitempty"`
	UnsubscribedAt   *time.Time `json:"unsubscribedAt,omitempty"`
	RegisteredAt     *time.Time `json:"registeredAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// IsSendable reports whether the contact may receive campaign mail at all.
func (c *Contact) IsSendable() bool {
	return c.ConsentMarketing && !c.Registered
}

// IsDue reports whether the contact is waiting for its next message at ref.
func (c *Contact) IsDue(ref time.Time) bool {
	return c.IsSendable() && c.NextSendAt != nil && !c.NextSendAt.After(ref)
}

// Cadence maps the stage that was just sent to the wait before the next one.
type Cadence []time.Duration

// Next returns the next send time after sending stage k at sentAt.
// Stages beyond the configured list reuse the last interval.
func (c Cadence) Next(stage int, sentAt time.Time) time.Time {
	if len(c) == 0 {
		return sentAt
	}
	idx := stage
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c) {
		idx = len(c) - 1
	}
	return sentAt.Add(c[idx])
}
