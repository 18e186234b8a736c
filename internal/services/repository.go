package services

import (
	"context"
	"time"

	"github.com/ashmitsharp/accountant-api/internal/models"
)

// Repository is the persistence contract of the service. Implementations
// return models.ErrNotFound, models.ErrDuplicate and models.ErrStateConflict
// so callers can tell those cases apart.
type Repository interface {
	NotificationStore

	CreateBusiness(ctx context.Context, b *models.Business) error
	GetBusiness(ctx context.Context, id string) (*models.Business, error)
	GetBusinessByUser(ctx context.Context, userID string) (*models.Business, error)
	ListReminderBusinesses(ctx context.Context) ([]models.Business, error)

	CreateStatement(ctx context.Context, s *models.Statement) error
	GetStatement(ctx context.Context, id string) (*models.Statement, error)
	ListStatements(ctx context.Context, businessID string) ([]models.Statement, error)
	HasStatementForPeriod(ctx context.Context, businessID string, month, year int) (bool, error)

	// TransitionStatement moves a statement to `to` only if its current
	// status is one of `from`. Exactly one of several concurrent callers
	// wins; the others get ErrStateConflict.
	TransitionStatement(ctx context.Context, id string, from []models.StatementStatus, to models.StatementStatus) (*models.Statement, error)

	// CompleteProcessing atomically replaces the statement's transactions and
	// draft declarations and marks it processed. The statement must be processing.
	CompleteProcessing(ctx context.Context, statementID string, txns []models.ClassifiedTransaction, decls []models.Declaration, processedAt time.Time) (*models.Statement, error)

	MarkStatementError(ctx context.Context, statementID, message string) error

	// FailStaleProcessing moves statements stuck in processing since before
	// `before` to error and returns how many were moved.
	FailStaleProcessing(ctx context.Context, before time.Time, message string) (int, error)

	ListTransactions(ctx context.Context, statementID string) ([]models.ClassifiedTransaction, error)
	GetTransaction(ctx context.Context, id string) (*models.ClassifiedTransaction, error)
	SetCategoryOverride(ctx context.Context, id string, override *string) (*models.ClassifiedTransaction, error)

	GetDeclaration(ctx context.Context, id string) (*models.Declaration, error)
	ListDeclarations(ctx context.Context, businessID string) ([]models.Declaration, error)
	ListStatementDeclarations(ctx context.Context, statementID string) ([]models.Declaration, error)
	ListPeriodDeclarations(ctx context.Context, businessID string, month, year int) ([]models.Declaration, error)

	// RefreshDraftDeclarations reconciles the statement's drafts with a fresh
	// computation: drafts are updated, created or deleted per type, while
	// declarations past draft are never touched. A draft under a live
	// submission claim makes the whole refresh fail with ErrStateConflict.
	RefreshDraftDeclarations(ctx context.Context, statementID string, drafts []models.Declaration) ([]models.Declaration, error)

	UpdateDraftDeclaration(ctx context.Context, id string, update models.DeclarationUpdate) (*models.Declaration, error)

	// ClaimDeclarationSubmission freezes a draft for filing. It fails with
	// ErrStateConflict unless the declaration is a draft without a live claim.
	// The returned declaration carries the claim timestamp.
	ClaimDeclarationSubmission(ctx context.Context, id string, at time.Time) (*models.Declaration, error)
	ReleaseDeclarationSubmission(ctx context.Context, id string, claimedAt time.Time) error

	// MarkDeclarationSubmitted records the receipt. It only matches the draft
	// still held by the same claim at the amount that was filed.
	MarkDeclarationSubmitted(ctx context.Context, id string, rec models.SubmissionRecord) (*models.Declaration, error)
	RecordDeclarationDecision(ctx context.Context, id string, status models.DeclarationStatus, notes *string) (*models.Declaration, error)

	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	HasRecentNotification(ctx context.Context, userID string, typ models.NotificationType, since time.Time) (bool, error)
}
