// Package web provides HTTP handlers and REST API endpoints for coordination
// templates and runs.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/rouhapp/coordination/pkg/models"
	"github.com/rouhapp/coordination/pkg/services"
)

type APIHandlers struct {
	templateService *services.Template
	runService      *services.Run
	guard           *services.Guard
	validator       *validator.Validate
}

func NewAPIHandlers(
	templateService *services.Template,
	runService *services.Run,
	guard *services.Guard,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		templateService: templateService,
		runService:      runService,
		guard:           guard,
		validator:       validator,
	}
}

// RegisterRoutes mounts every API endpoint on the app. Participant-scoped
// routes go through token authentication; management routes do not.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	templates := app.Group("/templates")
	templates.Post("/", h.CreateTemplate)
	templates.Get("/", h.GetTemplates)
	templates.Get("/:id", h.GetTemplate)
	templates.Delete("/:id", h.DeleteTemplate)

	runs := app.Group("/runs")
	runs.Post("/", h.CreateRun)
	runs.Get("/:id", h.GetRun)
	runs.Post("/:id/start", h.StartRun)
	runs.Post("/:id/pause", h.PauseRun)
	runs.Post("/:id/resume", h.ResumeRun)
	runs.Post("/:id/cancel", h.CancelRun)
	runs.Post("/:id/complete", h.CompleteRun)
	runs.Get("/:id/history", h.GetRunHistory)
	runs.Get("/:id/participants", h.GetParticipants)
	runs.Post("/:id/participants", h.AddParticipant)
	runs.Delete("/:id/participants/:participantId", h.RemoveParticipant)
	runs.Post("/:id/links", h.GenerateAccessLinks)
	runs.Post("/:id/join", h.JoinRun)
	runs.Post("/:id/advance", h.AdvanceState, ParticipantAuth(h.guard))
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.runService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Coordination API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Coordination API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateTemplate(c fiber.Ctx) error {
	var template models.Template
	if err := c.Bind().JSON(&template); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	created, err := h.templateService.Create(c.Context(), &template)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	templates, err := h.templateService.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"templates":   templates,
		"total_count": len(templates),
	})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	template, err := h.templateService.FetchByID(c.Context(), id)
	if err != nil {
		if services.IsNotFoundError(err) {
			return notFound(c, "Template not found")
		}

		return internalError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) DeleteTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	err := h.templateService.Delete(c.Context(), id)
	if err != nil {
		if services.IsNotFoundError(err) {
			return notFound(c, "Template not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateRun(c fiber.Ctx) error {
	var req CreateRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	run, err := h.runService.Create(c.Context(), req.TemplateID, req.TenantID, req.InitiatorID, req.Participants, req.Metadata)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.runService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	return h.changeRunStatus(c, h.runService.Start)
}

func (h *APIHandlers) PauseRun(c fiber.Ctx) error {
	return h.changeRunStatus(c, h.runService.Pause)
}

func (h *APIHandlers) ResumeRun(c fiber.Ctx) error {
	return h.changeRunStatus(c, h.runService.Resume)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	return h.changeRunStatus(c, h.runService.Cancel)
}

func (h *APIHandlers) CompleteRun(c fiber.Ctx) error {
	return h.changeRunStatus(c, h.runService.Complete)
}

func (h *APIHandlers) changeRunStatus(
	c fiber.Ctx,
	change func(ctx context.Context, runID string) (*models.Run, error),
) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := change(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

// AdvanceState is the transition endpoint. The acting participant comes from
// the authenticated token, never from the request body.
func (h *APIHandlers) AdvanceState(c fiber.Ctx) error {
	id := c.Params("id")

	identity := identityFromLocals(c)
	if identity == nil {
		return unauthorized(c, "Access token is required")
	}

	var req AdvanceStateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	state, err := h.runService.AdvanceState(c.Context(), id, identity.ParticipantID, req.TargetState, req.SlotData, req.Metadata)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(state)
}

func (h *APIHandlers) GetRunHistory(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	history, err := h.runService.History(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"run_id":  id,
		"history": history,
	})
}

func (h *APIHandlers) GetParticipants(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	participants, err := h.runService.Participants(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	responses := make([]ParticipantResponse, 0, len(participants))
	for _, participant := range participants {
		responses = append(responses, TransformParticipantResponse(participant))
	}

	return c.JSON(fiber.Map{
		"run_id":       id,
		"participants": responses,
	})
}

func (h *APIHandlers) AddParticipant(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	var req AddParticipantRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	participant, err := h.runService.AddParticipant(c.Context(), id, services.ParticipantRequest{
		RoleName:  req.RoleName,
		AccountID: req.AccountID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformParticipantResponse(participant))
}

func (h *APIHandlers) RemoveParticipant(c fiber.Ctx) error {
	id := c.Params("id")
	participantID := c.Params("participantId")

	if id == "" || participantID == "" {
		return badRequest(c, "Run ID and participant ID are required")
	}

	err := h.runService.RemoveParticipant(c.Context(), id, participantID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// GenerateAccessLinks rotates participant tokens and returns fresh links.
// Every previous token for the matched participants stops working.
func (h *APIHandlers) GenerateAccessLinks(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	var req GenerateLinksRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	links, err := h.runService.GenerateAccessLinks(c.Context(), id, req.RoleName)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"run_id": id,
		"links":  links,
	})
}

// JoinRun resolves a guest participant by role, creating it on first visit.
// The same role link always lands on the same participant.
func (h *APIHandlers) JoinRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	var req JoinRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	participant, err := h.guard.ResolveByRoleName(c.Context(), id, req.RoleName)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(JoinRunResponse{
		Participant: TransformParticipantResponse(participant),
		Token:       participant.AccessToken,
	})
}
