package vault

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no entry has the name.
var ErrNotFound = errors.New("vault entry not found")

// Purpose names what a credential entry is used for.
type Purpose string

const (
	PurposeAPIKey        Purpose = "api_key"
	PurposeWebhookSecret Purpose = "webhook_secret"
)

// Purposes lists every purpose an integration can hold an entry for.
var Purposes = []Purpose{PurposeAPIKey, PurposeWebhookSecret}

// SecretName derives the entry name for an integration and purpose.
func SecretName(integrationID string, purpose Purpose) string {
	return fmt.Sprintf("integration_%s_%s", integrationID, purpose)
}

// Vault stores secrets by name. Put overwrites, Delete of a missing name succeeds.
// Implementations must never include secret values in returned errors.
type Vault interface {
	Put(ctx context.Context, name, value string) error
	Get(ctx context.Context, name string) (string, error)
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
}
