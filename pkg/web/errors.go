package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/asseto/signoff/pkg/engine"
	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError provides typed error handling for engine errors.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case engine.IsUnauthorized(err):
		problem := problems.NewStatusProblem(403).
			WithInstance(c.Path()).
			WithType("unauthorized").
			WithDetail("actor does not hold the step role")

		return c.Status(fiber.StatusForbidden).JSON(problem)

	case engine.IsStepNotActive(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("step_not_active").
			WithDetail("step has not been activated yet")

		return c.Status(fiber.StatusConflict).JSON(problem)

	case engine.IsStaleStep(err):
		// Expected under racing actors; the loser refreshes and sees the
		// settled outcome.
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("stale_step").
			WithDetail("step already decided")

		return c.Status(fiber.StatusConflict).JSON(problem)

	case engine.IsConflict(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case engine.IsValidation(err), isRoutingError(err):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("validation_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case persistence.IsDuplicateInstance(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("duplicate_instance").
			WithDetail("an approval chain is already in flight for this subject")

		return c.Status(fiber.StatusConflict).JSON(problem)

	case persistence.IsInstanceNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("instance_not_found").
			WithDetail("instance not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case persistence.IsStepNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("step_not_found").
			WithDetail("step not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	default:
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}

func isRoutingError(err error) bool {
	return errors.Is(err, models.ErrEmptyRoutingPlan) ||
		errors.Is(err, models.ErrInvalidSequence) ||
		errors.Is(err, models.ErrMissingRole) ||
		errors.Is(err, models.ErrDuplicateRole)
}
