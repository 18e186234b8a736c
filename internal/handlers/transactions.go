package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/ashmitsharp/accountant-api/internal/utils"
)

// CategoryOverrider applies human category corrections
type CategoryOverrider interface {
	OverrideCategory(ctx context.Context, transactionID string, category *string) (*models.ClassifiedTransaction, error)
}

// TransactionHandler handles transaction-related requests
type TransactionHandler struct {
	store     Store
	overrider CategoryOverrider
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(store Store, overrider CategoryOverrider) *TransactionHandler {
	return &TransactionHandler{
		store:     store,
		overrider: overrider,
	}
}

// ListStatementTransactions returns a statement's transactions in file order
// GET /v1/statements/:id/transactions?category=&page=1&page_size=50
func (h *TransactionHandler) ListStatementTransactions(c fiber.Ctx) error {
	// 1. Authenticate
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	// 2. Check ownership
	stmt, err := ownedStatement(c.Context(), h.store, userID, c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, err, "statement")
	}

	// 3. Load and filter
	txns, err := h.store.ListTransactions(c.Context(), stmt.ID)
	if err != nil {
		return utils.ErrorResponse(c, err, "statement")
	}
	if category := strings.TrimSpace(c.Query("category")); category != "" {
		filtered := make([]models.ClassifiedTransaction, 0, len(txns))
		for _, txn := range txns {
			if txn.Category.Effective() == category {
				filtered = append(filtered, txn)
			}
		}
		txns = filtered
	}

	// 4. Paginate
	page, pageSize := utils.ParsePagination(c)
	start, end := utils.PageBounds(page, pageSize, len(txns))
	return utils.PaginatedResponse(c, txns[start:end], page, pageSize, len(txns))
}

// UpdateTransactionRequest sets or clears the category override.
// A null or empty category reverts to the classifier's label.
type UpdateTransactionRequest struct {
	Category *string `json:"category"`
}

// UpdateTransaction overrides the category of a transaction. Tax figures
// change once the statement is recalculated.
// PUT /v1/transactions/:id
func (h *TransactionHandler) UpdateTransaction(c fiber.Ctx) error {
	// 1. Authenticate
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	// 2. Parse request body
	var req UpdateTransactionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	// 3. Check ownership through the statement
	txnID := c.Params("id")
	txn, err := h.store.GetTransaction(c.Context(), txnID)
	if err != nil {
		return utils.ErrorResponse(c, err, "transaction")
	}
	if _, err := ownedStatement(c.Context(), h.store, userID, txn.StatementID); err != nil {
		return utils.ErrorResponse(c, err, "transaction")
	}

	// 4. Apply
	updated, err := h.overrider.OverrideCategory(c.Context(), txn.ID, req.Category)
	if err != nil {
		return utils.ErrorResponse(c, err, "transaction")
	}
	return c.JSON(updated)
}
