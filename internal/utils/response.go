package utils

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/ashmitsharp/accountant-api/internal/logger"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// SuccessResponse sends a standardized success response
func SuccessResponse(c fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// ErrorResponse converts err to its API error and sends it. Server side
// failures are logged with the request logger.
func ErrorResponse(c fiber.Ctx, err error, resource string) error {
	apiErr := FromError(err, resource)
	if apiErr.StatusCode >= fiber.StatusInternalServerError {
		log := logger.FromContext(c.Context())
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}

	body := fiber.Map{
		"error": apiErr.Message,
		"code":  apiErr.Code,
	}
	if apiErr.Details != nil && apiErr.StatusCode < fiber.StatusInternalServerError {
		body["details"] = apiErr.Details
	}
	return c.Status(apiErr.StatusCode).JSON(body)
}

// ParsePagination reads the page (1-based) and page_size query params.
// Invalid values fall back to the defaults.
func ParsePagination(c fiber.Ctx) (int, int) {
	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	pageSize, err := strconv.Atoi(c.Query("page_size", strconv.Itoa(DefaultPageSize)))
	if err != nil || pageSize < 1 || pageSize > MaxPageSize {
		pageSize = DefaultPageSize
	}
	return page, pageSize
}

// PageBounds returns the slice bounds of page within total items
func PageBounds(page, pageSize, total int) (int, int) {
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}

// PaginatedResponse sends a paginated response
func PaginatedResponse(c fiber.Ctx, data interface{}, page, pageSize, total int) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
		"pagination": fiber.Map{
			"page":      page,
			"page_size": pageSize,
			"total":     total,
			"pages":     (total + pageSize - 1) / pageSize,
		},
	})
}
