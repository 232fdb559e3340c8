// Package web provides the HTTP handlers and REST API endpoints for the
// approval engine.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/asseto/signoff/pkg/engine"
	"github.com/asseto/signoff/pkg/models"
	"github.com/asseto/signoff/pkg/persistence"
	"github.com/asseto/signoff/pkg/roles"
)

type APIHandlers struct {
	engine    *engine.Engine
	directory roles.Directory
	validator *validator.Validate
}

func NewAPIHandlers(eng *engine.Engine, directory roles.Directory, validate *validator.Validate) *APIHandlers {
	return &APIHandlers{
		engine:    eng,
		directory: directory,
		validator: validate,
	}
}

func (h *APIHandlers) CreateInstance(c fiber.Ctx) error {
	var req CreateInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	// Schema-validate the routing document before the structural rules run.
	document := make([]any, 0, len(req.Routing))
	for _, step := range req.Routing {
		document = append(document, map[string]any{"sequence": step.Sequence, "role": step.Role})
	}

	if err := models.ValidateRoutingPlanDocument(document); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.CreateInstance(c.Context(), engine.CreateInstanceRequest{
		TenantID:     req.TenantID,
		SubjectRef:   req.SubjectRef,
		Kind:         req.Kind,
		DueDate:      req.DueDate,
		LeadTimeDays: req.LeadTimeDays,
		Routing:      models.RoutingPlan(req.Routing),
		Metadata:     req.Metadata,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) SubmitDecision(c fiber.Ctx) error {
	instanceID := c.Params("id")
	stepID := c.Params("stepID")

	if instanceID == "" || stepID == "" {
		return badRequest(c, "Instance ID and step ID are required")
	}

	var req SubmitDecisionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.SubmitDecision(c.Context(), engine.SubmitDecisionRequest{
		InstanceID: instanceID,
		StepID:     stepID,
		Action:     req.Action,
		Actor:      req.Actor,
		Notes:      req.Notes,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	view, err := h.engine.GetInstance(c.Context(), id)
	if err != nil {
		if persistence.IsInstanceNotFound(err) {
			return notFound(c, "Instance not found")
		}

		return internalError(c, err)
	}

	return c.JSON(view)
}

func (h *APIHandlers) GetHistory(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	view, err := h.engine.GetInstance(c.Context(), id)
	if err != nil {
		if persistence.IsInstanceNotFound(err) {
			return notFound(c, "Instance not found")
		}

		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"instance_id": view.ID,
		"history":     view.History,
	})
}

func (h *APIHandlers) ListInstances(c fiber.Ctx) error {
	opts, err := h.parseListInstancesOptions(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.engine.ListInstances(c.Context(), *opts)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"instances":     result.Instances,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  opts.Limit,
			"offset": opts.Offset,
		},
	})
}

func (h *APIHandlers) parseListInstancesOptions(c fiber.Ctx) (*persistence.ListInstancesOptions, error) {
	opts := &persistence.ListInstancesOptions{
		TenantID:   c.Query("tenant_id"),
		SubjectRef: c.Query("subject_ref"),
		SortBy:     c.Query("sort_by"),
		SortOrder:  c.Query("sort_order"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		opts.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		opts.Offset = offset
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.InstanceStatus(statusStr)
		opts.Status = &status
	}

	return opts, nil
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.engine.HealthCheck(c.Context())

	directoryCheck := "Role directory is healthy"
	dirOk := true

	if err := h.directory.HealthCheck(c.Context()); err != nil {
		directoryCheck = "Role directory is unhealthy: " + err.Error()
		dirOk = false
	}

	status := "unhealthy"
	message := "Signoff API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk && dirOk {
		status = "healthy"
		message = "Signoff API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository":     repositoryCheck,
			"role_directory": directoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
