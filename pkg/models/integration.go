package models

import (
	"time"

	"github.com/Ramsey-B/thistle/pkg/database"
)

// IntegrationType is the provider kind behind an integration
type IntegrationType string

const (
	IntegrationTypeOpenAI IntegrationType = "openai"
	IntegrationTypeN8N    IntegrationType = "n8n"
	IntegrationTypeNodul  IntegrationType = "nodul"
	IntegrationTypeCustom IntegrationType = "custom"
)

// IsValid reports whether t is a known provider kind
func (t IntegrationType) IsValid() bool {
	switch t {
	case IntegrationTypeOpenAI, IntegrationTypeN8N, IntegrationTypeNodul, IntegrationTypeCustom:
		return true
	}
	return false
}

// IsWebhook reports whether the provider pushes content through webhooks
func (t IntegrationType) IsWebhook() bool {
	return t == IntegrationTypeN8N || t == IntegrationTypeNodul || t == IntegrationTypeCustom
}

// Integration is a configured external content or automation provider.
//
// APIKey and WebhookSecret are legacy plaintext columns. They are always NULL
// once CredentialsInVault is true and are never rendered to API callers.
type Integration struct {
	ID                 string                         `db:"id" json:"id"`
	Name               string                         `db:"name" json:"name"`
	Type               IntegrationType                `db:"type" json:"type"`
	EndpointURL        *string                        `db:"endpoint_url" json:"endpoint_url,omitempty"`
	Config             database.JSONB[map[string]any] `db:"config" json:"config"`
	Enabled            bool                           `db:"enabled" json:"enabled"`
	CredentialsInVault bool                           `db:"credentials_in_vault" json:"credentials_in_vault"`
	APIKey             *string                        `db:"api_key" json:"api_key"`
	WebhookSecret      *string                        `db:"webhook_secret" json:"webhook_secret"`
	CreatedBy          *string                        `db:"created_by" json:"created_by,omitempty"`
	CreatedAt          time.Time                      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time                      `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Integration) TableName() string {
	return "integrations"
}

// HasPlaintextCredentials reports whether any legacy secret column is still set
func (i *Integration) HasPlaintextCredentials() bool {
	return i.APIKey != nil || i.WebhookSecret != nil
}

// Redacted returns a copy that is safe to hand to API callers
func (i Integration) Redacted() Integration {
	i.APIKey = nil
	i.WebhookSecret = nil
	return i
}
