package handlers

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/ashmitsharp/accountant-api/internal/services"
	"github.com/ashmitsharp/accountant-api/internal/utils"
)

const defaultNotificationLimit = 50

// NotificationHandler serves the in-app notification feed
type NotificationHandler struct {
	store Store
}

func NewNotificationHandler(store Store) *NotificationHandler {
	return &NotificationHandler{store: store}
}

// ListNotifications returns the newest notifications first
// GET /v1/notifications?limit=50
func (h *NotificationHandler) ListNotifications(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultNotificationLimit)))
	if err != nil || limit < 1 || limit > utils.MaxPageSize {
		limit = defaultNotificationLimit
	}

	notes, err := h.store.ListNotifications(c.Context(), userID, limit)
	if err != nil {
		return utils.ErrorResponse(c, err, "notification")
	}

	unread := 0
	for _, n := range notes {
		if !n.Read {
			unread++
		}
	}

	return c.JSON(fiber.Map{
		"notifications": notes,
		"unread":        unread,
	})
}

// MarkRead marks one of the user's notifications as read
// PUT /v1/notifications/:id/read
func (h *NotificationHandler) MarkRead(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	if err := h.store.MarkNotificationRead(c.Context(), userID, c.Params("id")); err != nil {
		return utils.ErrorResponse(c, err, "notification")
	}
	return utils.SuccessResponse(c, fiber.Map{"id": c.Params("id"), "read": true})
}

// DeadlineReminder runs one reminder sweep
type DeadlineReminder interface {
	SendDeadlineReminders(ctx context.Context) (*services.ReminderReport, error)
}

// CronHandler serves scheduler-triggered jobs
type CronHandler struct {
	reminders DeadlineReminder
}

func NewCronHandler(reminders DeadlineReminder) *CronHandler {
	return &CronHandler{reminders: reminders}
}

// DeadlineReminders sends filing deadline reminders
// GET /v1/cron/deadline-reminders
func (h *CronHandler) DeadlineReminders(c fiber.Ctx) error {
	report, err := h.reminders.SendDeadlineReminders(c.Context())
	if err != nil {
		return utils.ErrorResponse(c, err, "reminder")
	}
	return utils.SuccessResponse(c, report)
}
