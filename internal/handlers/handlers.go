package handlers

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/ashmitsharp/accountant-api/internal/models"
)

// Store is the read and create side of the repository the handlers use
type Store interface {
	GetBusinessByUser(ctx context.Context, userID string) (*models.Business, error)
	CreateStatement(ctx context.Context, s *models.Statement) error
	GetStatement(ctx context.Context, id string) (*models.Statement, error)
	ListStatements(ctx context.Context, businessID string) ([]models.Statement, error)
	ListTransactions(ctx context.Context, statementID string) ([]models.ClassifiedTransaction, error)
	GetTransaction(ctx context.Context, id string) (*models.ClassifiedTransaction, error)
	GetDeclaration(ctx context.Context, id string) (*models.Declaration, error)
	ListDeclarations(ctx context.Context, businessID string) ([]models.Declaration, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// currentUser returns the user id set by the auth middleware
func currentUser(c fiber.Ctx) (string, bool) {
	userID, ok := c.Locals("user_id").(string)
	return userID, ok && userID != ""
}

func unauthorized(c fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "unauthorized - user_id not found",
	})
}

// ownedStatement loads a statement that belongs to the user's business.
// Statements of other businesses are reported as not found.
func ownedStatement(ctx context.Context, store Store, userID, statementID string) (*models.Statement, error) {
	biz, err := store.GetBusinessByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	stmt, err := store.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if stmt.BusinessID != biz.ID {
		return nil, models.ErrNotFound
	}
	return stmt, nil
}

// ownedDeclaration loads a declaration that belongs to the user's business
func ownedDeclaration(ctx context.Context, store Store, userID, declarationID string) (*models.Declaration, error) {
	biz, err := store.GetBusinessByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	decl, err := store.GetDeclaration(ctx, declarationID)
	if err != nil {
		return nil, err
	}
	if decl.BusinessID != biz.ID {
		return nil, models.ErrNotFound
	}
	return decl, nil
}
