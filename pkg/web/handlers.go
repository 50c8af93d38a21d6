// Package web provides the HTTP surface of the engine: the Fire API other
// features call to report events, plus thin workflow authoring and
// execution inspection endpoints. Engine semantics live behind it.
package web

import (
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/persistence"
	"github.com/clubflow/clubflow/pkg/registry"
	"github.com/clubflow/clubflow/pkg/workflow"
)

// FireRequest is the body of POST /events.
type FireRequest struct {
	TriggerType string         `json:"trigger_type" validate:"required"`
	Data        map[string]any `json:"data"`
}

// UpdateWorkflowRequest is the body of PATCH /workflows/:id. Nil fields are
// left untouched.
type UpdateWorkflowRequest struct {
	Name          *string              `json:"name,omitempty"`
	Description   *string              `json:"description,omitempty"`
	Kind          *models.WorkflowKind `json:"kind,omitempty"`
	Enabled       *bool                `json:"enabled,omitempty"`
	TriggerType   *string              `json:"trigger_type,omitempty"`
	TriggerConfig map[string]any       `json:"trigger_config,omitempty"`
	Steps         []*models.Step       `json:"steps,omitempty"`
	Owner         *string              `json:"owner,omitempty"`
}

// FireResponse summarizes what one fired event produced.
type FireResponse struct {
	Matched    int      `json:"matched"`
	Executions []string `json:"executions"`
	Enrolled   []string `json:"enrollments"`
	Failed     []string `json:"failed,omitempty"`
}

// APIHandlers carries the dependencies of the HTTP endpoints.
type APIHandlers struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	dispatcher  *workflow.Dispatcher
	validate    *validator.Validate
	now         func() time.Time
}

// NewAPIHandlers creates the endpoint set.
func NewAPIHandlers(
	logger *slog.Logger,
	store persistence.Persistence,
	reg *registry.Registry,
	dispatcher *workflow.Dispatcher,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		logger:      logger.With("module", "web"),
		persistence: store,
		registry:    reg,
		dispatcher:  dispatcher,
		validate:    validate,
		now:         time.Now,
	}
}

// Register mounts all routes on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)
	app.Post("/events", h.FireEvent)

	workflows := app.Group("/workflows")
	workflows.Get("/", h.GetWorkflows)
	workflows.Post("/", h.CreateWorkflow)
	workflows.Get("/:id", h.GetWorkflow)
	workflows.Patch("/:id", h.UpdateWorkflow)
	workflows.Delete("/:id", h.DeleteWorkflow)
	workflows.Get("/:id/executions", h.GetWorkflowExecutions)
	workflows.Get("/:id/enrollments", h.GetWorkflowEnrollments)

	app.Get("/executions/:id", h.GetExecution)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

// FireEvent is the integration point other features call to report that
// something happened. Dispatch outcomes per workflow are summarized in the
// response; per-workflow failures do not fail the request.
func (h *APIHandlers) FireEvent(c fiber.Ctx) error {
	var req FireRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	results, err := h.dispatcher.Fire(c.Context(), req.TriggerType, req.Data)
	if err != nil {
		return internalError(c, err)
	}

	response := FireResponse{
		Matched:    len(results),
		Executions: []string{},
		Enrolled:   []string{},
	}

	for _, result := range results {
		switch {
		case result.Err != nil:
			response.Failed = append(response.Failed, result.WorkflowID)
		case result.Execution != nil:
			response.Executions = append(response.Executions, result.Execution.ID)
		case result.Enrollment != nil:
			response.Enrolled = append(response.Enrolled, result.Enrollment.ID)
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(response)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.WorkflowRepository().GetAll(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	wf, err := h.persistence.WorkflowRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return storageError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var wf models.Workflow

	if err := c.Bind().JSON(&wf); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}

	now := h.now()
	wf.CreatedAt = now
	wf.UpdatedAt = now

	if err := h.validateWorkflow(&wf); err != nil {
		return badRequest(c, err.Error())
	}

	h.initialNextRun(&wf, now)

	if err := h.persistence.WorkflowRepository().Save(c.Context(), &wf); err != nil {
		return storageError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(wf)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	repo := h.persistence.WorkflowRepository()

	existing, err := repo.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return storageError(c, err)
	}

	var patch UpdateWorkflowRequest

	if err := c.Bind().JSON(&patch); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	applyPatch(existing, &patch)
	existing.UpdatedAt = h.now()

	if err := h.validateWorkflow(existing); err != nil {
		return badRequest(c, err.Error())
	}

	h.initialNextRun(existing, h.now())

	if err := repo.Save(c.Context(), existing); err != nil {
		return storageError(c, err)
	}

	return c.JSON(existing)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.persistence.WorkflowRepository().Delete(c.Context(), c.Params("id")); err != nil {
		return storageError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.persistence.WorkflowRepository().GetByID(c.Context(), id); err != nil {
		return storageError(c, err)
	}

	executions, err := h.persistence.ExecutionRepository().ExecutionsByWorkflow(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) GetWorkflowEnrollments(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.persistence.WorkflowRepository().GetByID(c.Context(), id); err != nil {
		return storageError(c, err)
	}

	enrollments, err := h.persistence.EnrollmentRepository().EnrollmentsByWorkflow(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"enrollments": enrollments})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	executions := h.persistence.ExecutionRepository()

	execution, err := executions.GetExecution(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotFound) {
			return notFound(c, "execution not found")
		}

		return internalError(c, err)
	}

	steps, err := executions.StepExecutionsByExecution(c.Context(), execution.ID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"execution":       execution,
		"step_executions": steps,
	})
}

// validateWorkflow checks the definition: struct tags, step wiring and the
// recurrence rule of time-based triggers. Step configs are checked against
// registered schemas where the step type is known to this process.
func (h *APIHandlers) validateWorkflow(wf *models.Workflow) error {
	return workflow.ValidateDefinition(h.validate, h.registry, wf)
}

// initialNextRun seeds next_run_at for time-based workflows so the
// scheduler picks them up. Event-triggered workflows carry none.
func (h *APIHandlers) initialNextRun(wf *models.Workflow, now time.Time) {
	if !wf.TriggerType.IsTimeBased() {
		wf.NextRunAt = nil

		return
	}

	next, err := wf.Recurrence().Next(now)
	if err != nil || next == nil {
		wf.NextRunAt = nil

		return
	}

	wf.NextRunAt = next
}

// applyPatch overlays the provided fields of a partial update.
func applyPatch(existing *models.Workflow, patch *UpdateWorkflowRequest) {
	if patch.Name != nil {
		existing.Name = *patch.Name
	}

	if patch.Description != nil {
		existing.Description = *patch.Description
	}

	if patch.Kind != nil {
		existing.Kind = *patch.Kind
	}

	if patch.Enabled != nil {
		existing.Enabled = *patch.Enabled
	}

	if patch.TriggerType != nil {
		existing.TriggerType = models.TriggerType(*patch.TriggerType)
	}

	if patch.TriggerConfig != nil {
		existing.TriggerConfig = patch.TriggerConfig
	}

	if patch.Steps != nil {
		existing.Steps = patch.Steps
	}

	if patch.Owner != nil {
		existing.Owner = *patch.Owner
	}
}
