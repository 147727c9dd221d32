package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/cache/rediscache"
	"github.com/aussiebroadwan/tabauth/internal/auth/gateway"
	httpapi "github.com/aussiebroadwan/tabauth/internal/auth/http"
	"github.com/aussiebroadwan/tabauth/internal/auth/service"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
	"github.com/aussiebroadwan/tabauth/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/tabauth/pkg/cryptox"
	"github.com/aussiebroadwan/tabauth/pkg/jwtx"
	"github.com/aussiebroadwan/tabauth/pkg/otelx"
	"github.com/aussiebroadwan/tabauth/pkg/slogx"
	"github.com/go-webauthn/webauthn/webauthn"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "tabauth"

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// Application encapsulates the auth service application with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db            store.Store
	keyManager    *jwtx.KeyManager
	keyCipher     *cryptox.KeyCipher
	cache         *rediscache.Cache // nil unless AUTH_REDIS_ADDR is set
	shutdownTrace func(context.Context) error

	// Services
	tokenService        *service.TokenService
	credentialService   *service.CredentialService
	sessionService      *service.SessionService
	twoFactorService    *service.TwoFactorService
	webAuthnService     *service.WebAuthnService
	loginService        *service.LoginService
	keyRotationService  *service.KeyRotationService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: serviceName,
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}
	ctx := slogx.WithContext(context.Background(), app.logger)

	// Set pepper path for password hashing
	cryptox.SetPepperPath(app.cfg.PepperFile)

	shutdownTrace, err := otelx.Setup(ctx, cfg.Telemetry, serviceName, BuildVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	app.shutdownTrace = shutdownTrace

	// Database first: persistent keys are loaded from it.
	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	keyManager, keyCipher, err := InitAuthKeys(ctx, app.cfg, app.db, app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize JWT keys: %w", err)
	}
	app.keyManager = keyManager
	app.keyCipher = keyCipher

	if err := app.initCache(ctx); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	if err := app.initServices(); err != nil {
		app.closeStores()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("auth service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.shutdownTrace(ctx); err != nil {
		app.logger.Error("error flushing traces", "error", err)
	}

	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

func (app *Application) closeStores() error {
	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}

// initDatabase opens the database and applies migrations
func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore("file:" + app.cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initCache connects to Redis when configured. Without it the gateway reads
// token versions from the database.
func (app *Application) initCache(ctx context.Context) error {
	if app.cfg.Redis.Addr == "" {
		app.logger.Info("token version cache disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c, err := rediscache.Dial(ctx, app.cfg.Redis.Addr, app.cfg.Redis.Password, app.cfg.Redis.DB,
		rediscache.WithTTL(app.cfg.Redis.TTL),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.cache = c
	app.logger.Info("token version cache enabled", "addr", app.cfg.Redis.Addr, "ttl", app.cfg.Redis.TTL)
	return nil
}

// versionCache avoids handing a typed nil to the services.
func (app *Application) versionCache() service.VersionCache {
	if app.cache == nil {
		return nil
	}
	return app.cache
}

// initServices initializes all business logic services
func (app *Application) initServices() error {
	mailer := service.LogMailer{Reveal: app.cfg.RevealMail}

	app.tokenService = &service.TokenService{
		KeyManager: app.keyManager,
		Issuer:     app.cfg.Issuer,
		AccessTTL:  app.cfg.AccessTokenTTL,
	}

	app.credentialService = &service.CredentialService{
		Store:       app.db,
		Mailer:      mailer,
		Cache:       app.versionCache(),
		AdminEmails: app.cfg.AdminEmails,
	}

	app.sessionService = &service.SessionService{
		Store:       app.db,
		Tokens:      app.tokenService,
		Devices:     service.UserAgentResolver{},
		Geo:         service.NopGeoLocator{},
		MaxSessions: app.cfg.MaxSessions,
	}

	app.twoFactorService = &service.TwoFactorService{
		Store:  app.db,
		Mailer: mailer,
		Issuer: app.cfg.Issuer,
	}

	provider, err := webauthn.New(&webauthn.Config{
		RPDisplayName: app.cfg.WebAuthn.RPDisplayName,
		RPID:          app.cfg.WebAuthn.RPID,
		RPOrigins:     app.cfg.WebAuthn.RPOrigins,
	})
	if err != nil {
		return fmt.Errorf("failed to configure webauthn: %w", err)
	}
	app.webAuthnService = &service.WebAuthnService{
		Store:     app.db,
		TwoFactor: app.twoFactorService,
		Provider:  provider,
		Parser:    service.ProtocolParser{},
	}

	app.loginService = &service.LoginService{
		Store:       app.db,
		Credentials: app.credentialService,
		TwoFactor:   app.twoFactorService,
		WebAuthn:    app.webAuthnService,
		Sessions:    app.sessionService,
		Mailer:      mailer,
	}

	// Runtime rotation works in both modes; only persistent mode stores keys.
	app.keyRotationService = &service.KeyRotationService{
		KeyManager: app.keyManager,
		Lifetime:   app.cfg.KeyLifetime,
	}
	if app.cfg.KeyStorageMode == "persistent" {
		app.keyRotationService.Store = app.db
		app.keyRotationService.Cipher = app.keyCipher
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keyManager.KeySet,
		BuildVersion,
		app.db,
		app.logger,
	)

	router.Gateway = &gateway.Gateway{
		Tokens:   app.tokenService,
		Sessions: app.sessionService,
		Store:    app.db,
		Cache:    app.versionCache(),
	}
	router.Credentials = app.credentialService
	router.Sessions = app.sessionService
	router.TwoFactor = app.twoFactorService
	router.WebAuthn = app.webAuthnService
	router.Login = app.loginService
	router.KeyRotation = app.keyRotationService
	router.Cookies = httpapi.CookieConfig{
		Secure: app.cfg.SecureCookies(),
		Domain: app.cfg.CookieDomain,
	}
	if app.cache != nil {
		router.Cache = app.cache
	}
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           otelhttp.NewHandler(router, serviceName),
		ReadHeaderTimeout: 3 * time.Second,
	}
}
