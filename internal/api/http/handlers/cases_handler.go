package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/casedesk/case-service/internal/api/dto"
	"github.com/casedesk/case-service/internal/auth"
	"github.com/casedesk/case-service/internal/service"
	apperrors "github.com/casedesk/case-service/pkg/util/errorutil"
)

// CasesHandler serves merge and assignment endpoints.
type CasesHandler struct {
	merges      *service.MergeService
	assignments *service.AssignmentService
}

// NewCasesHandler constructs handler.
func NewCasesHandler(merges *service.MergeService, assignments *service.AssignmentService) *CasesHandler {
	return &CasesHandler{merges: merges, assignments: assignments}
}

// PreviewMerge GET /cases/merge?institutionId=.
func (h *CasesHandler) PreviewMerge(c *fiber.Ctx) error {
	raw := strings.TrimSpace(c.Query("institutionId"))
	institutionID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || institutionID <= 0 {
		return apperrors.NewFieldError("institutionId", "institutionId must be a positive integer")
	}
	preview, err := h.merges.Preview(c.UserContext(), institutionID)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": preview})
}

// ExecuteMerge POST /cases/merge.
func (h *CasesHandler) ExecuteMerge(c *fiber.Ctx) error {
	var req dto.MergeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.InstitutionID <= 0 {
		return apperrors.NewFieldError("institutionId", "institutionId must be a positive integer")
	}
	report, err := h.merges.Execute(c.UserContext(), req.InstitutionID, req.DryRun)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": report})
}

// AutoMerge POST /cases/auto-merge. Runs for the session institution.
func (h *CasesHandler) AutoMerge(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	report, err := h.merges.AutoMerge(c.UserContext(), principal.InstitutionID)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": report})
}

// Claim POST /cases/claim.
func (h *CasesHandler) Claim(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.ClaimRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	claimed, err := h.assignments.Claim(c.UserContext(), principal.Actor(), req.CaseID)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.NewCaseResponse(claimed)})
}

// BulkAssign POST /cases/bulk-assign.
func (h *CasesHandler) BulkAssign(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.BulkAssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	report, err := h.assignments.BulkAssign(c.UserContext(), principal.Actor(), req.CaseIDs, req.TargetUserID)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": report})
}
