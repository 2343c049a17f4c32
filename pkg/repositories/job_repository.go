package repositories

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const (
	jobsTable = "ai_jobs"

	// DefaultJobListLimit caps ListRecent when no positive limit is given
	DefaultJobListLimit = 50
)

var jobStruct = database.NewStruct(new(models.AIJob))

// JobRepository handles database operations for AI jobs
type JobRepository struct {
	*Repository
}

func NewJobRepository(db database.DB, logger ectologger.Logger) *JobRepository {
	return &JobRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create records a queued job
func (r *JobRepository) Create(ctx context.Context, job *models.AIJob) error {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.Create")
	defer span.End()

	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	if job.Payload.Data == nil {
		job.Payload.Data = map[string]any{}
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(jobsTable).
		Cols("integration_id", "provider", "payload", "status", "created_at", "updated_at").
		Values(job.IntegrationID, job.Provider, job.Payload, string(job.Status), database.Now(), database.Now()).
		Returning("id", "created_at", "updated_at")

	query, args := ib.Build()
	err := r.Exec(ctx).QueryRowContext(ctx, query, args...).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("provider", job.Provider).Error("failed to create job")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create job")
	}

	r.logger.WithContext(ctx).WithField("job_id", job.ID).Debugf("Created %s", jobsTable)
	return nil
}

// ListRecent returns the newest jobs first
func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]models.AIJob, error) {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.ListRecent")
	defer span.End()

	if limit <= 0 || limit > DefaultJobListLimit {
		limit = DefaultJobListLimit
	}

	sb := jobStruct.SelectFrom(jobsTable)
	sb.OrderBy("created_at").Desc().Limit(limit)

	query, args := sb.Build()
	jobs := []models.AIJob{}
	if err := r.Exec(ctx).SelectContext(ctx, &jobs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list jobs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list jobs")
	}
	return jobs, nil
}
