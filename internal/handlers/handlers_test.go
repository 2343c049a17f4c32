package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/internal/handlers"
	"github.com/Ramsey-B/thistle/internal/services/integration"
	"github.com/Ramsey-B/thistle/pkg/broker"
	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/middleware"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/repositories"
	"github.com/Ramsey-B/thistle/pkg/vault"
	"github.com/Ramsey-B/thistle/pkg/webhook"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type roles map[string]models.Role

func (r roles) GetRoleByUserID(_ context.Context, userID string) (models.Role, error) {
	return r[userID], nil
}

type fakeBroker struct {
	requests []broker.Request
	err      error
}

func (b *fakeBroker) Handle(_ context.Context, req broker.Request) (*broker.Response, error) {
	b.requests = append(b.requests, req)
	if b.err != nil {
		return nil, b.err
	}
	return &broker.Response{Success: true, Message: broker.MessageStored}, nil
}

type fakeService struct {
	created []integration.CreateInput
	rows    []models.Integration
}

func (s *fakeService) Create(_ context.Context, input integration.CreateInput) (models.Integration, error) {
	s.created = append(s.created, input)
	return models.Integration{ID: "new-id", Name: input.Name, Type: input.Type, Enabled: true}, nil
}

func (s *fakeService) Get(_ context.Context, id string) (models.Integration, error) {
	for _, row := range s.rows {
		if row.ID == id {
			return row, nil
		}
	}
	return models.Integration{}, repositories.NotFound("integration %s does not exist", id)
}

func (s *fakeService) List(context.Context) ([]models.Integration, error) {
	return s.rows, nil
}

func (s *fakeService) Update(_ context.Context, input integration.UpdateInput) (models.Integration, error) {
	row, err := s.Get(context.Background(), input.ID)
	if err != nil {
		return row, err
	}
	if input.Name != nil {
		row.Name = *input.Name
	}
	return row, nil
}

func (s *fakeService) SetEnabled(ctx context.Context, id string, _ bool) error {
	_, err := s.Get(ctx, id)
	return err
}

func (s *fakeService) Delete(_ context.Context, _ string) (*broker.Response, error) {
	return &broker.Response{Success: true, Message: broker.MessageDeleted}, nil
}

type fakeIntegrations map[string]models.Integration

func (f fakeIntegrations) GetByID(_ context.Context, id string) (*models.Integration, error) {
	row, ok := f[id]
	if !ok {
		return nil, repositories.NotFound("integration %s does not exist", id)
	}
	return &row, nil
}

type fakeSecrets map[string]string

func (f fakeSecrets) Get(_ context.Context, name string) (string, error) {
	value, ok := f[name]
	if !ok {
		return "", vault.ErrNotFound
	}
	return value, nil
}

type fakeJobs struct {
	jobs      []models.AIJob
	lastLimit int
}

func (f *fakeJobs) Create(_ context.Context, job *models.AIJob) error {
	job.ID = int64(len(f.jobs) + 1)
	f.jobs = append(f.jobs, *job)
	return nil
}

func (f *fakeJobs) ListRecent(_ context.Context, limit int) ([]models.AIJob, error) {
	f.lastLimit = limit
	return f.jobs, nil
}

type fakePublisher struct {
	audits []kafka.AuditEvent
	jobs   []kafka.JobMessage
}

func (p *fakePublisher) PublishAudit(_ context.Context, evt *kafka.AuditEvent) error {
	p.audits = append(p.audits, *evt)
	return nil
}

func (p *fakePublisher) PublishJob(_ context.Context, msg *kafka.JobMessage) error {
	p.jobs = append(p.jobs, *msg)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type server struct {
	echo         *echo.Echo
	broker       *fakeBroker
	service      *fakeService
	integrations fakeIntegrations
	secrets      fakeSecrets
	jobs         *fakeJobs
	publisher    *fakePublisher
}

func newServer() *server {
	s := &server{
		broker:       &fakeBroker{},
		service:      &fakeService{},
		integrations: fakeIntegrations{},
		secrets:      fakeSecrets{},
		jobs:         &fakeJobs{},
		publisher:    &fakePublisher{},
	}

	logger := testLogger()
	resolver := roles{"admin": models.RoleAdmin, "editor": models.RoleEditor, "user": models.RoleUser}

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())

	api := e.Group("/api/v1")
	handlers.NewWebhookHandler(s.integrations, s.secrets, s.jobs, s.publisher, logger).RegisterRoutes(api)

	authed := api.Group("", middleware.Authentication(logger, nil))
	editors := middleware.RequireRole(logger, resolver, models.RoleAdmin, models.RoleEditor)
	admins := middleware.RequireRole(logger, resolver, models.RoleAdmin)
	handlers.NewCredentialHandler(s.broker).RegisterRoutes(authed, middleware.RateLimit(logger, middleware.NewRateLimiter(100, 100)))
	handlers.NewIntegrationHandler(s.service).RegisterRoutes(authed, editors, admins)
	handlers.NewJobHandler(s.jobs).RegisterRoutes(authed, editors)

	s.echo = e
	return s
}

func (s *server) do(method, path, user, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestCredentials_Store(t *testing.T) {
	s := newServer()

	rec := s.do(http.MethodPost, "/api/v1/credentials", "admin", `{"action":"store","integrationId":"int-1","apiKey":"sk-test-123"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, broker.MessageStored, body["message"])
	assert.NotContains(t, rec.Body.String(), "sk-test-123")

	require.Len(t, s.broker.requests, 1)
	assert.Equal(t, broker.Request{Action: "store", IntegrationID: "int-1", APIKey: "sk-test-123"}, s.broker.requests[0])
}

func TestCredentials_BrokerErrorsKeepCategory(t *testing.T) {
	s := newServer()
	s.broker.err = &broker.Error{Category: broker.CategoryForbidden, Message: "Admin access required"}

	rec := s.do(http.MethodPost, "/api/v1/credentials", "user", `{"action":"store","integrationId":"int-1","apiKey":"sk-test-123"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "Admin access required", body["message"])
	assert.Equal(t, "Forbidden", body["meta"].(map[string]any)["category"])
	assert.NotContains(t, rec.Body.String(), "sk-test-123")
}

func TestCredentials_RejectsBadRequests(t *testing.T) {
	s := newServer()

	rec := s.do(http.MethodPost, "/api/v1/credentials", "admin", `{"action":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "request body is not valid JSON", decode(t, rec)["message"])

	rec = s.do(http.MethodPost, "/api/v1/credentials", "admin", `{"integrationId":"int-1","apiKey":"sk-test-123"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-test-123")

	rec = s.do(http.MethodPost, "/api/v1/credentials", "", `{"action":"store","integrationId":"int-1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, s.broker.requests)
}

func TestIntegrations_RoleGates(t *testing.T) {
	s := newServer()
	s.service.rows = []models.Integration{{ID: "a", Name: "OpenAI", Type: models.IntegrationTypeOpenAI}}

	rec := s.do(http.MethodGet, "/api/v1/integrations", "editor", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/integrations", "user", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/integrations", "editor", `{"name":"n8n","type":"n8n"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodDelete, "/api/v1/integrations/a", "editor", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, s.service.created)
}

func TestIntegrations_Create(t *testing.T) {
	s := newServer()

	rec := s.do(http.MethodPost, "/api/v1/integrations", "admin",
		`{"name":"OpenAI","type":"openai","endpoint_url":"https://api.openai.com/v1","credentials":{"api_key":"sk-test-123"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "sk-test-123")

	require.Len(t, s.service.created, 1)
	assert.Equal(t, "sk-test-123", s.service.created[0].Credentials.APIKey)

	rec = s.do(http.MethodPost, "/api/v1/integrations", "admin", `{"name":"x","type":"zapier"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntegrations_GetUpdateEnableDelete(t *testing.T) {
	s := newServer()
	s.service.rows = []models.Integration{{ID: "a", Name: "OpenAI", Type: models.IntegrationTypeOpenAI}}

	rec := s.do(http.MethodGet, "/api/v1/integrations/a", "editor", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/integrations/missing", "editor", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPut, "/api/v1/integrations/a", "editor", `{"name":"Renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Renamed", decode(t, rec)["name"])

	rec = s.do(http.MethodPost, "/api/v1/integrations/a/disable", "editor", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["enabled"])

	rec = s.do(http.MethodDelete, "/api/v1/integrations/a", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, broker.MessageDeleted, decode(t, rec)["message"])
}

const webhookBody = `{"title":"Weekly digest","content":"<p>hello</p>"}`

func TestWebhook_AcceptsSignedPayload(t *testing.T) {
	s := newServer()
	s.integrations["w1"] = models.Integration{ID: "w1", Type: models.IntegrationTypeN8N, Enabled: true, CredentialsInVault: true}
	s.secrets[vault.SecretName("w1", vault.PurposeWebhookSecret)] = "whsec-1"

	rec := s.do(http.MethodPost, "/api/v1/webhooks/w1", "", webhookBody,
		webhook.SignatureHeader, "sha256="+webhook.Sign("whsec-1", []byte(webhookBody)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["job_id"])

	require.Len(t, s.jobs.jobs, 1)
	job := s.jobs.jobs[0]
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, "n8n", job.Provider)
	assert.Equal(t, "<p>hello</p>", job.Payload.Data["content"])

	require.Len(t, s.publisher.jobs, 1)
	assert.Equal(t, int64(1), s.publisher.jobs[0].JobID)
	assert.Equal(t, "w1", s.publisher.jobs[0].IntegrationID)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	s := newServer()
	s.integrations["w1"] = models.Integration{ID: "w1", Type: models.IntegrationTypeN8N, Enabled: true, CredentialsInVault: true}
	s.secrets[vault.SecretName("w1", vault.PurposeWebhookSecret)] = "whsec-1"

	rec := s.do(http.MethodPost, "/api/v1/webhooks/w1", "", webhookBody,
		webhook.SignatureHeader, webhook.Sign("wrong", []byte(webhookBody)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "whsec-1")

	rec = s.do(http.MethodPost, "/api/v1/webhooks/w1", "", webhookBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, s.jobs.jobs)
	require.Len(t, s.publisher.audits, 2)
	assert.Equal(t, kafka.EventWebhookSignatureFailed, s.publisher.audits[0].Type)
}

func TestWebhook_LegacyPlaintextSecretIsVerified(t *testing.T) {
	s := newServer()
	secret := "legacy"
	s.integrations["w1"] = models.Integration{ID: "w1", Type: models.IntegrationTypeCustom, Enabled: true, WebhookSecret: &secret}

	rec := s.do(http.MethodPost, "/api/v1/webhooks/w1", "", webhookBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/webhooks/w1", "", webhookBody,
		webhook.SignatureHeader, webhook.Sign("legacy", []byte(webhookBody)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestWebhook_UnknownOrDisabledIntegration(t *testing.T) {
	s := newServer()
	s.integrations["off"] = models.Integration{ID: "off", Type: models.IntegrationTypeN8N, Enabled: false}

	for _, id := range []string{"missing", "off"} {
		rec := s.do(http.MethodPost, "/api/v1/webhooks/"+id, "", webhookBody)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Integration not found or disabled", decode(t, rec)["message"])
	}
	assert.Empty(t, s.jobs.jobs)
}

func TestWebhook_ProviderRules(t *testing.T) {
	s := newServer()
	s.integrations["n1"] = models.Integration{ID: "n1", Type: models.IntegrationTypeNodul, Enabled: true}
	s.integrations["o1"] = models.Integration{ID: "o1", Type: models.IntegrationTypeOpenAI, Enabled: true}

	rec := s.do(http.MethodPost, "/api/v1/webhooks/n1", "", `{"title":"no content"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/webhooks/n1", "", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/webhooks/o1", "", `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, s.jobs.jobs, 1)
	assert.Equal(t, webhook.DefaultPrompt, s.jobs.jobs[0].Payload.Data["prompt"])
}

func TestJobs_List(t *testing.T) {
	s := newServer()

	rec := s.do(http.MethodGet, "/api/v1/jobs?limit=10", "editor", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, s.jobs.lastLimit)

	rec = s.do(http.MethodGet, "/api/v1/jobs", "admin", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, repositories.DefaultJobListLimit, s.jobs.lastLimit)

	rec = s.do(http.MethodGet, "/api/v1/jobs?limit=ten", "admin", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/jobs", "user", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
