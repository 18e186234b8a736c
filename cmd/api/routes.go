package main

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/ashmitsharp/accountant-api/internal/config"
	"github.com/ashmitsharp/accountant-api/internal/handlers"
	"github.com/ashmitsharp/accountant-api/internal/middleware"
)

type routeDeps struct {
	log      zerolog.Logger
	cfg      *config.Config
	verifier middleware.TokenVerifier

	statements *handlers.StatementHandler
	txns       *handlers.TransactionHandler
	decls      *handlers.DeclarationHandler
	business   *handlers.BusinessHandler
	notes      *handlers.NotificationHandler
	cron       *handlers.CronHandler
}

func setupRoutes(app *fiber.App, d routeDeps) {
	// Apply global middleware
	app.Use(middleware.Recover(d.log))
	app.Use(middleware.RequestLogger(d.log))
	app.Use(middleware.CORS(d.cfg.AppBaseURL))

	// Health check endpoint (public)
	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "accountant-api",
		})
	})

	// API v1 routes
	v1 := app.Group("/v1")

	// Scheduler and back-office routes, shared secret
	cron := v1.Group("/cron", middleware.BearerSecret(d.cfg.CronSecret))
	cron.Get("/deadline-reminders", d.cron.DeadlineReminders)

	internal := v1.Group("/internal", middleware.BearerSecret(d.cfg.CronSecret))
	internal.Post("/declarations/:id/decision", d.decls.RecordDecision)

	// Protected routes (require authentication)
	protected := v1.Group("", middleware.ClerkAuth(d.verifier))

	// Business profile
	protected.Post("/business", d.business.CreateBusiness)
	protected.Get("/business", d.business.GetBusiness)
	protected.Get("/business/verify-tin", d.business.VerifyTIN)

	// Statement upload and processing
	protected.Get("/upload/presigned-url", d.statements.GetPresignedURL)
	protected.Post("/statements", d.statements.UploadStatement)
	protected.Post("/statements/from-key", d.statements.CreateFromKey)
	protected.Get("/statements", d.statements.ListStatements)
	protected.Get("/statements/:id", d.statements.GetStatement)
	protected.Post("/statements/:id/process", d.statements.ProcessStatement)
	protected.Get("/statements/:id/summary", d.statements.GetSummary)
	protected.Post("/statements/:id/recalculate", d.statements.Recalculate)
	protected.Get("/statements/:id/transactions", d.txns.ListStatementTransactions)
	protected.Get("/jobs/:id", d.statements.GetJob)

	// Review
	protected.Put("/transactions/:id", d.txns.UpdateTransaction)

	// Declarations
	protected.Get("/declarations", d.decls.ListDeclarations)
	protected.Get("/declarations/:id", d.decls.GetDeclaration)
	protected.Patch("/declarations/:id", d.decls.UpdateDeclaration)
	protected.Post("/declarations/:id/submit", d.decls.SubmitDeclaration)

	// Notifications
	protected.Get("/notifications", d.notes.ListNotifications)
	protected.Put("/notifications/:id/read", d.notes.MarkRead)
}
