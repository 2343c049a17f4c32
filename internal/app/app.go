package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/thistle/config"
	migrations "github.com/Ramsey-B/thistle/db"
	"github.com/Ramsey-B/thistle/internal/handlers"
	"github.com/Ramsey-B/thistle/internal/services/integration"
	"github.com/Ramsey-B/thistle/pkg/broker"
	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/health"
	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/middleware"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/redis"
	"github.com/Ramsey-B/thistle/pkg/repositories"
	"github.com/Ramsey-B/thistle/pkg/startup"
	"github.com/Ramsey-B/thistle/pkg/tracing"
	"github.com/Ramsey-B/thistle/pkg/vault"
)

// Version is stamped at build time
var Version = "dev"

const (
	depTracing    = "tracing"
	depDatabase   = "database"
	depMigrations = "migrations"
	depVault      = "vault"
	depRedis      = "redis"
	depKafka      = "kafka"
	depHTTP       = "http"

	shutdownTimeout = 15 * time.Second
)

// App owns the process-wide dependencies of the API
type App struct {
	cfg       *config.Config
	logger    ectologger.Logger
	startup   *startup.Startup
	health    *health.Checker
	tracer    *tracing.Provider
	db        database.DB
	vault     vault.Vault
	redis     *redis.Client
	publisher kafka.Publisher
	echo      *echo.Echo
	serveErr  chan error
}

func New(cfg *config.Config, logger ectologger.Logger) *App {
	a := &App{
		cfg:       cfg,
		logger:    logger,
		startup:   startup.NewStartup(logger, cfg.StartupMaxAttempts),
		health:    health.NewChecker(Version),
		publisher: kafka.NopPublisher{},
		serveErr:  make(chan error, 1),
	}

	a.startup.AddDependency(startup.Func{Name: depTracing, StartFunc: a.startTracing, StopFunc: a.stopTracing})
	a.startup.AddDependency(startup.Func{Name: depDatabase, StartFunc: a.startDatabase, StopFunc: a.stopDatabase})
	if cfg.DatabaseMigrateOnStart {
		a.startup.AddDependency(startup.Func{Name: depMigrations, Requires: []string{depDatabase}, StartFunc: a.runMigrations})
	}
	a.startup.AddDependency(startup.Func{Name: depVault, Requires: a.vaultRequires(), StartFunc: a.startVault})
	a.startup.AddDependency(startup.Func{Name: depRedis, StartFunc: a.startRedis, StopFunc: a.stopRedis})
	a.startup.AddDependency(startup.Func{Name: depKafka, StartFunc: a.startKafka, StopFunc: a.stopKafka})
	a.startup.AddDependency(startup.Func{
		Name:      depHTTP,
		Requires:  []string{depTracing, depVault, depRedis, depKafka},
		StartFunc: a.startHTTP,
		StopFunc:  a.stopHTTP,
	})

	return a
}

func (a *App) vaultRequires() []string {
	if a.cfg.DatabaseMigrateOnStart {
		return []string{depDatabase, depMigrations}
	}
	return []string{depDatabase}
}

// Run starts every dependency, serves until ctx is done and then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.startup.Start(ctx); err != nil {
		a.shutdown()
		return err
	}
	a.health.SetReady(true)
	a.logger.Infof("%s %s listening on :%d", a.cfg.AppName, Version, a.cfg.Port)

	return a.wait(ctx)
}

// wait blocks until ctx is done or the HTTP server fails, then shuts down.
func (a *App) wait(ctx context.Context) error {
	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down")
	case serveErr = <-a.serveErr:
		a.logger.WithError(serveErr).Error("HTTP server failed, shutting down")
	}
	a.health.SetReady(false)

	if err := a.shutdown(); err != nil && serveErr == nil {
		return err
	}
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.startup.Stop(ctx)
}

func (a *App) startTracing(ctx context.Context) error {
	provider, err := tracing.NewProvider(ctx, a.cfg.AppName, tracing.ExportConfig{
		Enabled:  a.cfg.OTLPEnabled,
		Endpoint: a.cfg.OTLPEndpoint,
		Protocol: a.cfg.OTLPProtocol,
		Insecure: a.cfg.OTLPInsecure,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return err
	}
	a.tracer = provider
	return nil
}

func (a *App) stopTracing(ctx context.Context) error {
	if a.tracer == nil {
		return nil
	}
	return a.tracer.Shutdown(ctx)
}

func connectionConfig(cfg *config.Config) database.ConnectionConfig {
	return database.ConnectionConfig{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}
}

func (a *App) startDatabase(ctx context.Context) error {
	db, err := database.Connect(ctx, connectionConfig(a.cfg), a.logger)
	if err != nil {
		return err
	}
	a.db = db
	a.health.Require(depDatabase, health.PingFunc(db.PingContext))
	return nil
}

func (a *App) stopDatabase(context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *App) runMigrations(context.Context) error {
	return newMigrationService(a.cfg, a.logger).Migrate(a.db)
}

func newMigrationService(cfg *config.Config, logger ectologger.Logger) *database.MigrationService {
	return database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Embedded:            migrations.Migrations(),
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
}

// Migrate connects, applies the migrations and disconnects
func Migrate(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	db, err := database.Connect(ctx, connectionConfig(cfg), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return newMigrationService(cfg, logger).Migrate(db)
}

func (a *App) startVault(context.Context) error {
	switch a.cfg.VaultBackend {
	case "keyring":
		a.vault = vault.NewKeyringVault(a.cfg.VaultKeyringService)
		a.logger.Warn("Using the OS keychain vault; entries are not transactional with the database")
	default:
		a.vault = vault.NewPostgresVault(a.db, a.cfg.VaultEncryptionKey, a.logger)
	}
	return nil
}

func (a *App) startRedis(ctx context.Context) error {
	if !a.cfg.RedisEnabled {
		return nil
	}
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	a.health.Optional(depRedis, client)
	return nil
}

func (a *App) stopRedis(context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *App) startKafka(context.Context) error {
	if !a.cfg.KafkaEnabled {
		return nil
	}
	brokers := a.cfg.KafkaBrokerList()
	if len(brokers) == 0 {
		return errors.New("KAFKA_BROKERS is empty")
	}
	a.publisher = kafka.NewProducer(kafka.Config{
		Brokers:    brokers,
		AuditTopic: a.cfg.KafkaAuditTopic,
		JobTopic:   a.cfg.KafkaJobTopic,
	}, a.logger)
	return nil
}

func (a *App) stopKafka(context.Context) error {
	return a.publisher.Close()
}

func (a *App) tokenVerifier(ctx context.Context) (middleware.TokenVerifier, error) {
	switch a.cfg.AuthMode {
	case "oidc":
		return middleware.NewOIDCVerifier(ctx, a.cfg.AuthIssuerURL, a.cfg.AuthClientID)
	case "jwt":
		return middleware.NewJWTVerifier(a.cfg.AuthJWTSecret), nil
	case "disabled":
		if !a.cfg.AuthAllowInsecureHeader {
			return nil, errors.New("AUTH_MODE=disabled requires AUTH_ALLOW_INSECURE_HEADER=true")
		}
		a.logger.Warn("AUTH_MODE=disabled, trusting the X-User-ID header")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown AUTH_MODE %q", a.cfg.AuthMode)
	}
}

func (a *App) startHTTP(ctx context.Context) error {
	verifier, err := a.tokenVerifier(ctx)
	if err != nil {
		return err
	}

	a.echo = a.newEcho(verifier)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	go func() {
		if err := a.echo.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("HTTP server stopped")
			a.health.SetReady(false)
			select {
			case a.serveErr <- err:
			default:
			}
		}
	}()
	return nil
}

func (a *App) stopHTTP(ctx context.Context) error {
	if a.echo == nil {
		return nil
	}
	return a.echo.Shutdown(ctx)
}

// newEcho builds the router. verifier may be nil in header auth mode.
func (a *App) newEcho(verifier middleware.TokenVerifier) *echo.Echo {
	logger := a.logger

	integrationRepo := repositories.NewIntegrationRepository(a.db, logger)
	profileRepo := repositories.NewProfileRepository(a.db, logger)
	jobRepo := repositories.NewJobRepository(a.db, logger)

	var locker broker.Locker
	if a.redis != nil {
		locker = redis.NewLocker(a.redis, "", a.cfg.CredentialLockTTL)
	}

	credentialBroker := broker.NewBroker(a.db, integrationRepo, profileRepo, a.vault, a.publisher, locker, logger)
	integrationService := integration.NewService(integrationRepo, credentialBroker, a.publisher, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))

	a.health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	handlers.NewWebhookHandler(integrationRepo, a.vault, jobRepo, a.publisher, logger).RegisterRoutes(api)

	authed := api.Group("", middleware.Authentication(logger, verifier))
	editors := middleware.RequireRole(logger, profileRepo, models.RoleAdmin, models.RoleEditor)
	admins := middleware.RequireRole(logger, profileRepo, models.RoleAdmin)
	limiter := middleware.NewRateLimiter(a.cfg.CredentialRateLimit, a.cfg.CredentialRateBurst)

	handlers.NewCredentialHandler(credentialBroker).RegisterRoutes(authed, middleware.RateLimit(logger, limiter))
	handlers.NewIntegrationHandler(integrationService).RegisterRoutes(authed, editors, admins)
	handlers.NewJobHandler(jobRepo).RegisterRoutes(authed, editors)

	return e
}
