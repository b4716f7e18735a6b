package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/echannelling-auth/internal/api/http"
	"github.com/spec-kit/echannelling-auth/internal/api/http/handlers"
	"github.com/spec-kit/echannelling-auth/internal/audit"
	"github.com/spec-kit/echannelling-auth/internal/auth"
	"github.com/spec-kit/echannelling-auth/internal/config"
	"github.com/spec-kit/echannelling-auth/internal/domain"
	"github.com/spec-kit/echannelling-auth/internal/events"
	"github.com/spec-kit/echannelling-auth/internal/observability"
	"github.com/spec-kit/echannelling-auth/internal/otp"
	"github.com/spec-kit/echannelling-auth/internal/persistence"
	"github.com/spec-kit/echannelling-auth/internal/repository"
	"github.com/spec-kit/echannelling-auth/internal/service"
	"github.com/spec-kit/echannelling-auth/internal/worker"
)

const (
	sessionSweepInterval = time.Hour
	shutdownTimeout      = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Secrets.VaultURL != "" {
		src, err := config.NewKeyVaultSource(cfg.Secrets.VaultURL)
		if err != nil {
			logger.Fatal("failed to init key vault", zap.Error(err))
		}
		if err := cfg.ResolveSecrets(ctx, src); err != nil {
			logger.Fatal("failed to resolve secrets", zap.Error(err))
		}
		logger.Info("signing secrets loaded from key vault")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.Auth.DevTwoFactorCode != "" {
		logger.Warn("development two-factor code is enabled for accounts without TOTP")
	}

	reporter, err := observability.NewErrorReporter(cfg.Sentry, cfg.App)
	if err != nil {
		logger.Fatal("failed to init error reporting", zap.Error(err))
	}
	defer reporter.Flush(2 * time.Second)

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	refreshRepo := repository.NewRefreshTokenRepository(pool)
	resetRepo := repository.NewPasswordResetRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)

	auditDispatcher := audit.NewDispatcher(auditRepo, logger, metrics, cfg.Audit.BufferSize)
	defer auditDispatcher.Close()

	dispatcher := events.NewInMemoryDispatcher()
	var mailer service.Mailer = service.NewLogMailer(logger)
	if cfg.Notification.MailAPIURL != "" {
		mailer = service.NewHTTPMailer(cfg.Notification.MailAPIURL, cfg.Notification.MailAPIKey, cfg.Notification.EmailFrom)
	}
	notifier := worker.NewNotificationWorker(
		service.NewNotificationService(mailer, logger, cfg.Notification),
		logger,
		cfg.Notification.QueueSize,
	)
	notifier.Subscribe(dispatcher)
	notifier.Start()
	defer notifier.Close()

	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		UserRepo:          userRepo,
		RefreshTokenRepo:  refreshRepo,
		PasswordResetRepo: resetRepo,
		OTPStore:          otp.NewStore(redis.Client, "otp"),
		Audit:             auditDispatcher,
		Events:            dispatcher,
		Logger:            logger,
	})
	userService := service.NewUserService(*cfg, service.UserDependencies{
		UserRepo:         userRepo,
		RefreshTokenRepo: refreshRepo,
		AuditRepo:        auditRepo,
		Audit:            auditDispatcher,
		Events:           dispatcher,
		Logger:           logger,
	})
	if cfg.Bootstrap.AdminEmail != "" {
		created, err := userService.EnsureUser(ctx, service.CreateUserInput{
			Email:    cfg.Bootstrap.AdminEmail,
			Password: cfg.Bootstrap.AdminPassword,
			Role:     domain.RoleAdmin,
		})
		if err != nil {
			logger.Fatal("failed to bootstrap admin", zap.Error(err))
		}
		if created {
			logger.Info("bootstrap admin created", zap.String("email", cfg.Bootstrap.AdminEmail))
		}
	}
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), userRepo)

	go worker.RunSessionSweeper(ctx, refreshRepo, sessionSweepInterval, logger)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, reporter, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Auth:           handlers.NewAuthHandler(authService),
		Users:          handlers.NewUsersHandler(userService),
		AuthMiddleware: authMiddleware,
		Permissions:    auth.DefaultPermissionTable(),
		Metrics:        metrics,
		RateLimit:      httptransport.RateLimitMiddleware(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
