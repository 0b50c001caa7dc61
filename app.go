package main

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gorilla/sessions"
	"github.com/nasermirzaei89/env"

	"maru/authorization"
	"maru/authorization/casbin"
	"maru/db/sqlite"
	"maru/discuss"
	"maru/identity"
	"maru/mailer"
	"maru/random"
	"maru/server"
	"maru/session"
	"maru/web"
)

// policyDomain scopes every authorization rule of this application.
const policyDomain = "maru"

type App struct {
	server  *server.Server
	handler *web.Handler
	db      *sql.DB
}

//go:embed policy.csv
var defaultAuthorizationPolicyContent string

func NewApp(ctx context.Context) (*App, error) {
	db, err := sqlite.NewDB(ctx, env.GetString("DB_DSN", "file:maru.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	err = sqlite.MigrateUp(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	userRepo := sqlite.NewUserRepository(db)
	sessionRepo := sqlite.NewSessionRepository(db)
	tokenRepo := sqlite.NewTokenRepository(db)
	commentStore := sqlite.NewCommentStore(db)

	authzProvider, err := newAuthorizationProvider(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization provider: %w", err)
	}

	authzSvc, err := authorization.NewService(authzProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization service: %w", err)
	}

	authzClient := authorization.NewClient(authzSvc, policyDomain)

	err = grantAdministrators(ctx, authzClient)
	if err != nil {
		return nil, fmt.Errorf("failed to grant administrators: %w", err)
	}

	smtpMailer := mailer.New(mailer.Config{
		Host:     env.GetString("SMTP_HOST", ""),
		Port:     env.GetString("SMTP_PORT", ""),
		Username: env.GetString("SMTP_USER", ""),
		Password: env.GetString("SMTP_PASS", ""),
		From:     env.GetString("SMTP_FROM", ""),
		BaseURL:  env.GetString("BASE_URL", "http://localhost:"+env.GetString("PORT", server.DefaultPort)),
	})

	identitySvc := identity.NewService(userRepo, sessionRepo, tokenRepo, smtpMailer, authzClient)
	discussSvc := discuss.NewService(commentStore, authzClient)

	resolve := session.CapabilityResolver(func(ctx context.Context, uid string) session.Capabilities {
		return session.Capabilities{
			Administrator: authzClient.Can(ctx, uid, discuss.ObjectComments, discuss.ActionModerate),
		}
	})

	tracker := session.NewTracker(resolve)
	tracker.OnChange(func(snapshot session.Snapshot) {
		slog.InfoContext(ctx, "session state changed", "state", snapshot.State, "uid", snapshot.UID())
	})
	tracker.Follow(ctx, identitySvc)

	sessionName := env.GetString("SESSION_NAME", "maru-"+random.String(4))
	sessionKey := env.GetString("SESSION_KEY", random.String(32))
	cookieStore := sessions.NewCookieStore([]byte(sessionKey))

	csrfAuthKeys := []byte(env.GetString("CSRF_AUTH_KEY", random.String(32)))
	csrfTrustedOrigins := env.GetStringSlice("CSRF_TRUSTED_ORIGINS", []string{})

	httpHandler := web.NewHandler(
		identitySvc,
		discussSvc,
		commentStore,
		resolve,
		cookieStore,
		sessionName,
		csrfAuthKeys,
		csrfTrustedOrigins,
	)

	app := &App{
		server:  newServer(),
		handler: httpHandler,
		db:      db,
	}

	return app, nil
}

func (app *App) Run(ctx context.Context) error {
	// Handle SIGINT (CTRL+C) gracefully.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	defer func() {
		if app.db != nil {
			err := app.db.Close()
			if err != nil {
				slog.ErrorContext(ctx, "failed to close database", "error", err)
			}
		}
	}()

	err := app.server.Run(ctx, app.handler)
	if err != nil {
		return fmt.Errorf("failed to run server: %w", err)
	}

	return nil
}

func newServer() *server.Server {
	srv := &server.Server{
		Port: env.GetString("PORT", server.DefaultPort),
		Host: env.GetString("HOST", ""),
		TLS: server.ServerTLS{
			Enabled: env.GetBool("TLS_ENABLED", false),
			Mode:    env.GetString("TLS_MODE", server.DefaultTLSMode),
			AutoCert: &server.ServerTLSAutoCert{
				CacheDir: env.GetString("TLS_AUTOCERT_CACHE_DIR", "./cert-cache"),
				Domains:  env.GetStringSlice("TLS_AUTOCERT_DOMAINS", []string{}),
				Email:    env.GetString("TLS_AUTOCERT_EMAIL", ""),
			},
			CertFile: env.GetString("TLS_CERT_FILE", ""),
			KeyFile:  env.GetString("TLS_KEY_FILE", ""),
		},
	}

	return srv
}

func GetLogLevelFromEnv() slog.Level {
	levelStr := env.GetString("LOG_LEVEL", "info")
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		slog.Warn("unknown log level, defaulting to info", "level", levelStr)

		return slog.LevelInfo
	}
}

func newAuthorizationProvider(ctx context.Context, db *sql.DB) (*casbin.AuthorizationProvider, error) {
	adapter, err := casbin.NewSQLAdapter(db, sqlite.DriverName, "casbin_rule")
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization adapter: %w", err)
	}

	provider, err := casbin.NewAuthorizationProvider(adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization provider: %w", err)
	}

	policyContent, err := loadPolicyContent()
	if err != nil {
		return nil, fmt.Errorf("failed to load authorization policy content: %w", err)
	}

	err = provider.AddPolicyFromCSV(ctx, policyContent)
	if err != nil {
		return nil, fmt.Errorf("failed to add authorization policy from csv: %w", err)
	}

	return provider, nil
}

func loadPolicyContent() (string, error) {
	policyFilePath := env.GetString("AUTHORIZATION_POLICY_FILE", "")

	if policyFilePath == "" {
		return defaultAuthorizationPolicyContent, nil
	}

	content, err := os.ReadFile(policyFilePath) // nolint:gosec
	if err != nil {
		return "", fmt.Errorf("failed to read policy file %q: %w", policyFilePath, err)
	}

	return string(content), nil
}

// grantAdministrators adds the configured uids to the administrator group.
// Administration is configuration, never an email comparison at check time.
func grantAdministrators(ctx context.Context, authzClient *authorization.Client) error {
	adminUIDs := env.GetStringSlice("ADMIN_UIDS", []string{})

	for _, uid := range adminUIDs {
		err := authzClient.AddToGroup(ctx, uid, authorization.GroupAdministrator)
		if err != nil {
			return fmt.Errorf("failed to add %q to administrator group: %w", uid, err)
		}
	}

	return nil
}
