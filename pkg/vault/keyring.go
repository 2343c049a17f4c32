package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringVault keeps entries in the OS keychain. It is meant for local
// development and does not take part in database transactions.
type KeyringVault struct {
	service string
}

func NewKeyringVault(service string) *KeyringVault {
	return &KeyringVault{service: service}
}

func (v *KeyringVault) Put(_ context.Context, name, value string) error {
	if err := keyring.Set(v.service, name, value); err != nil {
		return fmt.Errorf("failed to write vault entry %s: %w", name, err)
	}
	return nil
}

func (v *KeyringVault) Get(_ context.Context, name string) (string, error) {
	value, err := keyring.Get(v.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read vault entry %s: %w", name, err)
	}
	return value, nil
}

func (v *KeyringVault) Delete(_ context.Context, name string) error {
	err := keyring.Delete(v.service, name)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete vault entry %s: %w", name, err)
	}
	return nil
}

func (v *KeyringVault) Exists(ctx context.Context, name string) (bool, error) {
	_, err := v.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
