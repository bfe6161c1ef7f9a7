package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/core/services"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/reviewd/backend/internal/transport/http/dto"
)

type AnalysisHandler struct {
	service ports.AnalysisService
	logger  *logger.Logger
}

func NewAnalysisHandler(service ports.AnalysisService, logger *logger.Logger) *AnalysisHandler {
	return &AnalysisHandler{service: service, logger: logger}
}

func (h *AnalysisHandler) Analyze(c *fiber.Ctx) error {
	var req dto.AnalyzeRequest
	if err := c.BodyParser(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			detail := fmt.Sprintf("%s must be %s, got %s", typeErr.Field, jsonKind(typeErr.Type), typeErr.Value)
			h.logger.Warnw("analyze_validation_failed", "details", []string{detail})
			return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{
				Error:   "validation failed",
				Details: []string{detail},
			})
		}
		h.logger.Warnw("analyze_body_parse_failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid request body",
		})
	}

	h.logger.Infow("analyze_request", "repo_url", req.RepoURL, "pr_number", req.PRNumber, "types", req.AnalysisTypes)
	task, err := h.service.Submit(c.UserContext(), req.ToInput())
	if err != nil {
		return h.fail(c, "analyze", "", err)
	}

	h.logger.Infow("analyze_accepted", "task_id", task.ID, "repo_url", task.RepoURL, "pr_number", task.PRNumber)
	return c.Status(fiber.StatusAccepted).JSON(dto.AnalyzeResponse{
		TaskID:  task.ID,
		Status:  task.Status,
		Message: "Analysis task created",
	})
}

func (h *AnalysisHandler) GetStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	task, err := h.service.GetTask(c.UserContext(), id)
	if err != nil {
		return h.fail(c, "task_status", id, err)
	}
	return c.JSON(dto.TaskToResponse(task, time.Now().UTC()))
}

// GetResults is the same document as GetStatus; it is kept as its own
// route for clients that only read results.
func (h *AnalysisHandler) GetResults(c *fiber.Ctx) error {
	return h.GetStatus(c)
}

func (h *AnalysisHandler) Cancel(c *fiber.Ctx) error {
	id := c.Params("id")
	h.logger.Infow("task_cancel_request", "task_id", id)
	task, err := h.service.CancelTask(c.UserContext(), id)
	if err != nil {
		return h.fail(c, "task_cancel", id, err)
	}
	h.logger.Infow("task_cancel_accepted", "task_id", id, "status", task.Status)
	return c.Status(fiber.StatusAccepted).JSON(dto.TaskToResponse(task, time.Now().UTC()))
}

func (h *AnalysisHandler) fail(c *fiber.Ctx, op, id string, err error) error {
	var verr *services.ValidationError
	var serr *services.StoreError
	switch {
	case errors.As(err, &verr):
		h.logger.Warnw(op+"_validation_failed", "details", verr.Details)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{
			Error:   "validation failed",
			Details: verr.Details,
		})
	case errors.Is(err, services.ErrTaskNotFound):
		h.logger.Warnw(op+"_not_found", "task_id", id)
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: "task not found",
		})
	case errors.Is(err, services.ErrTaskAlreadyTerminal):
		h.logger.Warnw(op+"_conflict", "task_id", id)
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error: "task already finished",
		})
	case errors.Is(err, services.ErrQueueFull), errors.Is(err, services.ErrQueueStopped):
		h.logger.Warnw(op+"_unavailable", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error: "analysis capacity exhausted, retry later",
		})
	case errors.As(err, &serr):
		h.logger.Errorw(op+"_store_unavailable", "task_id", id, "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error: "task store unavailable",
		})
	}
	h.logger.Errorw(op+"_failed", "task_id", id, "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
		Error: "internal server error",
	})
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "an integer"
	case reflect.Slice, reflect.Array:
		return "a list"
	default:
		return "a " + t.Kind().String()
	}
}
