package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/casedesk/case-service/internal/auth"
	"github.com/casedesk/case-service/internal/service"
	apperrors "github.com/casedesk/case-service/pkg/util/errorutil"
)

// QueueHandler exposes the assignment queue of the session institution.
type QueueHandler struct {
	queue       *service.QueueService
	assignments *service.AssignmentService
	settings    service.SettingsProvider
}

// NewQueueHandler constructs handler.
func NewQueueHandler(queue *service.QueueService, assignments *service.AssignmentService, settings service.SettingsProvider) *QueueHandler {
	return &QueueHandler{queue: queue, assignments: assignments, settings: settings}
}

// Stats GET /queue/stats.
func (h *QueueHandler) Stats(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	stats, err := h.queue.Stats(c.UserContext(), principal.InstitutionID)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{
		"data": stats,
		"meta": fiber.Map{
			"institution_id": principal.InstitutionID,
			"mode":           h.settings.Settings(principal.InstitutionID).QueueMode,
		},
	})
}

// AutoAssign POST /queue/auto-assign.
func (h *QueueHandler) AutoAssign(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	report, err := h.assignments.AutoAssign(c.UserContext(), principal.InstitutionID)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": report})
}
