package handlers

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/ashmitsharp/accountant-api/internal/utils"
)

// DeclarationFiler edits, submits and settles declarations
type DeclarationFiler interface {
	SubmitDeclaration(ctx context.Context, declarationID string) (*models.Declaration, error)
	UpdateDraftDeclaration(ctx context.Context, declarationID string, update models.DeclarationUpdate) (*models.Declaration, error)
	RecordAuthorityDecision(ctx context.Context, declarationID string, status models.DeclarationStatus, notes *string) (*models.Declaration, error)
}

// DeclarationHandler handles declaration requests
type DeclarationHandler struct {
	store Store
	filer DeclarationFiler
}

// NewDeclarationHandler creates a declaration handler
func NewDeclarationHandler(store Store, filer DeclarationFiler) *DeclarationHandler {
	return &DeclarationHandler{
		store: store,
		filer: filer,
	}
}

// ListDeclarations returns the business's declarations
// GET /v1/declarations?status=draft
func (h *DeclarationHandler) ListDeclarations(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	biz, err := h.store.GetBusinessByUser(c.Context(), userID)
	if err != nil {
		return utils.ErrorResponse(c, err, "business")
	}

	decls, err := h.store.ListDeclarations(c.Context(), biz.ID)
	if err != nil {
		return utils.ErrorResponse(c, err, "declaration")
	}

	if status := c.Query("status"); status != "" {
		filtered := make([]models.Declaration, 0, len(decls))
		for _, d := range decls {
			if string(d.Status) == status {
				filtered = append(filtered, d)
			}
		}
		decls = filtered
	}

	return c.JSON(fiber.Map{
		"declarations": decls,
		"count":        len(decls),
	})
}

// GetDeclaration returns one declaration
// GET /v1/declarations/:id
func (h *DeclarationHandler) GetDeclaration(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	decl, err := ownedDeclaration(c.Context(), h.store, userID, c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, err, "declaration")
	}
	return c.JSON(decl)
}

// UpdateDeclaration edits the notes or tax amount of a draft
// PATCH /v1/declarations/:id
func (h *DeclarationHandler) UpdateDeclaration(c fiber.Ctx) error {
	// 1. Authenticate
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	// 2. Parse request body
	var update models.DeclarationUpdate
	if err := c.Bind().JSON(&update); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	// 3. Check ownership
	decl, err := ownedDeclaration(c.Context(), h.store, userID, c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, err, "declaration")
	}

	// 4. Apply
	updated, err := h.filer.UpdateDraftDeclaration(c.Context(), decl.ID, update)
	if err != nil {
		return utils.ErrorResponse(c, err, "declaration")
	}
	return c.JSON(updated)
}

// SubmitDeclaration files a draft with rs.ge
// POST /v1/declarations/:id/submit
func (h *DeclarationHandler) SubmitDeclaration(c fiber.Ctx) error {
	// 1. Authenticate
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	// 2. Check ownership
	decl, err := ownedDeclaration(c.Context(), h.store, userID, c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, err, "declaration")
	}

	// 3. Submit
	submitted, err := h.filer.SubmitDeclaration(c.Context(), decl.ID)
	if err != nil {
		return utils.ErrorResponse(c, err, "declaration")
	}

	return c.JSON(fiber.Map{
		"declaration":       submitted,
		"rsge_confirmation": submitted.RSGeConfirmation,
	})
}

// DecisionRequest is the authority's final answer on a submitted declaration
type DecisionRequest struct {
	Status models.DeclarationStatus `json:"status"`
	Notes  *string                  `json:"notes"`
}

// RecordDecision stores an accepted or rejected outcome. Internal route,
// protected by the shared secret rather than user auth.
// POST /v1/internal/declarations/:id/decision
func (h *DeclarationHandler) RecordDecision(c fiber.Ctx) error {
	var req DecisionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	decl, err := h.filer.RecordAuthorityDecision(c.Context(), c.Params("id"), req.Status, req.Notes)
	if err != nil {
		return utils.ErrorResponse(c, err, "declaration")
	}
	return c.JSON(decl)
}
