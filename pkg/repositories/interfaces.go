package repositories

import (
	"context"

	"github.com/Ramsey-B/thistle/pkg/models"
)

// IntegrationRepo defines the interface for integration repository operations
type IntegrationRepo interface {
	Create(ctx context.Context, integration *models.Integration) error
	GetByID(ctx context.Context, id string) (*models.Integration, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.Integration, error)
	List(ctx context.Context) ([]models.Integration, error)
	Update(ctx context.Context, integration *models.Integration) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
	MarkCredentialsInVault(ctx context.Context, id string) error
}

// ProfileRepo defines the interface for profile repository operations
type ProfileRepo interface {
	GetRoleByUserID(ctx context.Context, userID string) (models.Role, error)
}

// JobRepo defines the interface for AI job repository operations
type JobRepo interface {
	Create(ctx context.Context, job *models.AIJob) error
	ListRecent(ctx context.Context, limit int) ([]models.AIJob, error)
}
