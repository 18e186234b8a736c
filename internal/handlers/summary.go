package handlers

import (
	"github.com/gofiber/fiber/v3"

	"github.com/ashmitsharp/accountant-api/internal/utils"
)

// GetSummary returns the tax figures, category buckets and declarations of
// a statement, computed from the current effective categories
// GET /v1/statements/:id/summary
func (h *StatementHandler) GetSummary(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	stmt, err := ownedStatement(c.Context(), h.store, userID, c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, err, "statement")
	}

	summary, err := h.processor.Summarize(c.Context(), stmt.ID)
	if err != nil {
		return utils.ErrorResponse(c, err, "statement")
	}
	return c.JSON(summary)
}

// Recalculate recomputes a processed statement after category overrides
// and refreshes its draft declarations
// POST /v1/statements/:id/recalculate
func (h *StatementHandler) Recalculate(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	stmt, err := ownedStatement(c.Context(), h.store, userID, c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, err, "statement")
	}

	summary, err := h.processor.RecalculateDrafts(c.Context(), stmt.ID)
	if err != nil {
		return utils.ErrorResponse(c, err, "statement")
	}
	return c.JSON(summary)
}
