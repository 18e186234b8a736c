package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/ashmitsharp/accountant-api/internal/config"
	"github.com/ashmitsharp/accountant-api/internal/database"
	"github.com/ashmitsharp/accountant-api/internal/database/memstore"
	"github.com/ashmitsharp/accountant-api/internal/handlers"
	"github.com/ashmitsharp/accountant-api/internal/jobs"
	"github.com/ashmitsharp/accountant-api/internal/logger"
	"github.com/ashmitsharp/accountant-api/internal/middleware"
	"github.com/ashmitsharp/accountant-api/internal/rsge"
	"github.com/ashmitsharp/accountant-api/internal/services"
	"github.com/ashmitsharp/accountant-api/internal/utils"
)

// devEncryptionKey keeps local setups working without ENCRYPTION_KEY.
// Production refuses to start without a real key.
const devEncryptionKey = "accountant-api-development-only"

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment, cfg.LogLevel)
	if envErr != nil {
		log.Debug().Msg(".env file not found, using system environment variables")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence
	var repo services.Repository
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConnections, cfg.DBConnectionTimeout)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		repo = database.NewRepository(pool)
		log.Info().Msg("connected to database")
	} else {
		repo = memstore.New()
		log.Warn().Msg("DATABASE_URL not set, using the in-memory store")
	}

	// Object storage for statement files
	var objects handlers.ObjectStore
	var downloader services.ObjectDownloader
	if cfg.S3Bucket != "" {
		storage, err := services.NewStorageService(ctx, cfg.S3Bucket, cfg.S3Region, cfg.AWSEndpoint)
		if err != nil {
			return fmt.Errorf("initialize storage: %w", err)
		}
		objects = storage
		downloader = storage
		log.Info().Str("bucket", cfg.S3Bucket).Msg("storage service initialized")
	} else {
		log.Warn().Msg("S3_BUCKET not set, statement uploads are disabled")
	}
	fetcher := services.NewFileFetcher(downloader, nil, cfg.MaxUploadBytes)

	// Categorization oracle
	var oracle services.Oracle
	if cfg.GeminiAPIKey != "" {
		gemini, err := services.NewGeminiOracle(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return fmt.Errorf("initialize categorization oracle: %w", err)
		}
		oracle = gemini
		log.Info().Str("model", cfg.GeminiModel).Msg("categorization oracle initialized")
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, transactions get the fallback classification")
	}

	// Credentials vault
	encryptionKey := cfg.EncryptionKey
	if encryptionKey == "" {
		encryptionKey = devEncryptionKey
		log.Warn().Msg("ENCRYPTION_KEY not set, using the development key")
	}
	vault, err := services.NewCredentialCipher(encryptionKey)
	if err != nil {
		return fmt.Errorf("initialize credential cipher: %w", err)
	}

	// Email
	var mailer services.Mailer = services.NoopMailer{}
	if cfg.MailgunEnabled() {
		mailer = services.NewMailgunMailer(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.SenderEmail, cfg.SenderName)
		log.Info().Str("domain", cfg.MailgunDomain).Msg("mailgun initialized")
	}

	// Domain services
	gateway := rsge.NewClient(cfg.RSGeAPIURL, cfg.GatewayTimeout, cfg.GatewayRateLimit, log)
	notifier := services.NewNotifier(repo, mailer, cfg.AppBaseURL, log)
	lifecycle := services.NewLifecycle(
		repo,
		fetcher,
		services.NewStatementParser(log),
		services.NewClassifier(oracle, cfg.ClassifierTimeout, log),
		gateway,
		vault,
		notifier,
		log,
	)
	if _, err := lifecycle.RecoverInterruptedProcessing(ctx, cfg.StaleProcessingAfter); err != nil {
		log.Error().Err(err).Msg("startup sweep of interrupted statements failed")
	}
	businesses := services.NewBusinessService(repo, vault, gateway, log)
	reminders := services.NewReminderService(repo, notifier, log)

	// Background processing
	queue := jobs.NewQueue(cfg.QueueBufferSize, cfg.WorkerCount, log)
	if err := queue.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		_, err := lifecycle.ProcessStatement(ctx, job.StatementID)
		return err
	}); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}

	var verifier middleware.TokenVerifier
	if cfg.ClerkSecretKey != "" {
		verifier = middleware.ClerkVerifier(cfg.ClerkSecretKey)
	} else {
		log.Warn().Msg("CLERK_SECRET_KEY not set, authenticated routes reject every request")
		verifier = func(ctx context.Context, token string) (string, error) {
			return "", fmt.Errorf("authentication is not configured")
		}
	}

	app := fiber.New(fiber.Config{
		AppName:      "accountant API v1.0",
		ErrorHandler: utils.ErrorHandler,
		BodyLimit:    int(cfg.MaxUploadBytes) + 1024*1024,
	})

	setupRoutes(app, routeDeps{
		log:        log,
		cfg:        cfg,
		verifier:   verifier,
		statements: handlers.NewStatementHandler(repo, objects, services.NewFileValidator(cfg.MaxUploadBytes), queue, lifecycle),
		txns:       handlers.NewTransactionHandler(repo, lifecycle),
		decls:      handlers.NewDeclarationHandler(repo, lifecycle),
		business:   handlers.NewBusinessHandler(businesses),
		notes:      handlers.NewNotificationHandler(repo),
		cron:       handlers.NewCronHandler(reminders),
	})

	// Serve until a signal arrives
	listenErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		log.Info().Str("addr", addr).Str("environment", cfg.Environment).Msg("accountant API is running")
		listenErr <- app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("workers did not finish in time")
	}

	log.Info().Msg("shutdown complete")
	return nil
}
