package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/ashmitsharp/accountant-api/internal/services"
	"github.com/ashmitsharp/accountant-api/internal/utils"
)

// BusinessRegistry manages the user's business profile
type BusinessRegistry interface {
	Create(ctx context.Context, userID string, in services.BusinessInput) (*models.Business, error)
	ForUser(ctx context.Context, userID string) (*models.Business, error)
	VerifyTIN(ctx context.Context, tin string) (bool, error)
}

type BusinessHandler struct {
	businesses BusinessRegistry
}

func NewBusinessHandler(businesses BusinessRegistry) *BusinessHandler {
	return &BusinessHandler{businesses: businesses}
}

// businessResponse adds the credential flag, the credentials themselves
// are never returned
type businessResponse struct {
	*models.Business
	HasRSGeCredentials bool `json:"has_rsge_credentials"`
}

// CreateBusiness registers the current user's business
func (h *BusinessHandler) CreateBusiness(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	var req services.BusinessInput
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	biz, err := h.businesses.Create(c.Context(), userID, req)
	if err != nil {
		return utils.ErrorResponse(c, err, "business for this user")
	}

	return c.Status(fiber.StatusCreated).JSON(businessResponse{
		Business:           biz,
		HasRSGeCredentials: biz.HasCredentials(),
	})
}

// GetBusiness retrieves the current user's business
func (h *BusinessHandler) GetBusiness(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	biz, err := h.businesses.ForUser(c.Context(), userID)
	if err != nil {
		return utils.ErrorResponse(c, err, "business")
	}

	return c.JSON(businessResponse{
		Business:           biz,
		HasRSGeCredentials: biz.HasCredentials(),
	})
}

// VerifyTIN checks a TIN against the rs.ge registry
func (h *BusinessHandler) VerifyTIN(c fiber.Ctx) error {
	tin := strings.TrimSpace(c.Query("tin"))
	if tin == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "tin is required",
		})
	}

	valid, err := h.businesses.VerifyTIN(c.Context(), tin)
	if err != nil {
		return utils.ErrorResponse(c, err, "tin")
	}

	return c.JSON(fiber.Map{
		"tin":   tin,
		"valid": valid,
	})
}
