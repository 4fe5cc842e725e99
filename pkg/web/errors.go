package web

import (
	"net/http"

	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// problem writes an RFC 7807 body. kind becomes the problem type.
func problem(c fiber.Ctx, status int, kind, detail string) error {
	body := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(body)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, http.StatusBadRequest, "validation_error", detail)
}

func unauthorized(c fiber.Ctx, detail string) error {
	return problem(c, http.StatusUnauthorized, "unauthorized", detail)
}

func notFound(c fiber.Ctx, detail string) error {
	return problem(c, http.StatusNotFound, "not_found", detail)
}

// handleServiceError maps service and persistence errors to problem responses.
// Order matters: the specific not-found kinds are checked before the generic one.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())
	case persistence.IsFlowNotFound(err):
		return problem(c, http.StatusNotFound, "flow_not_found", "flow not found")
	case persistence.IsSessionNotFound(err):
		return problem(c, http.StatusNotFound, "session_not_found", "chat session not found")
	case persistence.IsNotFound(err):
		return notFound(c, err.Error())
	case services.IsConflictError(err):
		return problem(c, http.StatusConflict, "conflict", err.Error())
	case services.IsQuotaError(err):
		return problem(c, http.StatusTooManyRequests, "quota_exceeded", "daily chat quota exceeded")
	default:
		body := problems.NewStatusProblem(http.StatusInternalServerError).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(http.StatusInternalServerError).JSON(body)
	}
}
