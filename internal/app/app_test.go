package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/Ramsey-B/thistle/config"
	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/logging"
	"github.com/Ramsey-B/thistle/pkg/middleware"
	"github.com/Ramsey-B/thistle/pkg/vault"
)

func newTestApp(t *testing.T) (*App, sqlmock.Sqlmock) {
	t.Helper()
	keyring.MockInit()

	var cfg config.Config
	require.NoError(t, cleanenv.ReadEnv(&cfg))
	cfg.VaultBackend = "keyring"
	cfg.AuthMode = "disabled"
	cfg.AuthAllowInsecureHeader = true

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	a := New(&cfg, logging.Nop())
	a.db = database.NewDatabaseInstance(sqlx.NewDb(conn, "postgres"), a.logger)
	a.vault = vault.NewKeyringVault("thistle-app-test")
	return a, mock
}

func serve(e *echo.Echo, method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestNewEcho_Routes(t *testing.T) {
	a, _ := newTestApp(t)
	e := a.newEcho(nil)

	rec := serve(e, http.MethodGet, "/api/v1/health/live", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(e, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(e, http.MethodPost, "/api/v1/credentials", "", `{"action":"store","integrationId":"int-1","apiKey":"sk-test-123"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-test-123")
}

func TestNewEcho_BrokerResolvesRoleFromProfiles(t *testing.T) {
	a, mock := newTestApp(t)
	e := a.newEcho(nil)

	mock.ExpectQuery(`SELECT role FROM profiles WHERE user_id = \$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("editor"))

	rec := serve(e, http.MethodPost, "/api/v1/credentials", "user-1", `{"action":"store","integrationId":"int-1","apiKey":"sk-test-123"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Forbidden")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenVerifier_HeaderModeNeedsOptIn(t *testing.T) {
	a, _ := newTestApp(t)

	a.cfg.AuthAllowInsecureHeader = false
	_, err := a.tokenVerifier(context.Background())
	require.Error(t, err)

	a.cfg.AuthAllowInsecureHeader = true
	verifier, err := a.tokenVerifier(context.Background())
	require.NoError(t, err)
	assert.Nil(t, verifier)

	a.cfg.AuthMode = "jwt"
	a.cfg.AuthJWTSecret = "secret"
	verifier, err = a.tokenVerifier(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, verifier)

	a.cfg.AuthMode = "header"
	_, err = a.tokenVerifier(context.Background())
	assert.Error(t, err)
}

func TestStartHTTP_ListenFailureStopsTheApp(t *testing.T) {
	a, _ := newTestApp(t)

	busy, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = busy.Close() })
	a.cfg.Port = busy.Addr().(*net.TCPAddr).Port

	a.health.SetReady(true)
	require.NoError(t, a.startHTTP(context.Background()))

	done := make(chan error, 1)
	go func() { done <- a.wait(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http server")
	case <-time.After(5 * time.Second):
		t.Fatal("app kept running after the listener failed")
	}
	assert.False(t, a.health.IsReady())
}

func TestWait_ContextDoneShutsDownCleanly(t *testing.T) {
	a, _ := newTestApp(t)
	a.health.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.wait(ctx))
	assert.False(t, a.health.IsReady())
}

func TestWait_ReportsServeError(t *testing.T) {
	a, _ := newTestApp(t)
	a.health.SetReady(true)
	a.serveErr <- errors.New("listen tcp :3000: bind: address already in use")

	err := a.wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
	assert.False(t, a.health.IsReady())
}
