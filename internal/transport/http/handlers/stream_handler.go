package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/core/services"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/reviewd/backend/internal/transport/http/dto"
)

// StreamHandler pushes the status document over a websocket whenever the
// task revision changes, and closes once the task is terminal.
type StreamHandler struct {
	service  ports.AnalysisService
	interval time.Duration
	logger   *logger.Logger
}

func NewStreamHandler(service ports.AnalysisService, interval time.Duration, logger *logger.Logger) *StreamHandler {
	if interval <= 0 {
		interval = time.Second
	}
	return &StreamHandler{service: service, interval: interval, logger: logger}
}

func (h *StreamHandler) Handle(c *websocket.Conn) {
	id := c.Params("id")
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The client never sends anything useful; reading only detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Infow("task_stream_open", "task_id", id)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	lastRevision := int64(-1)
	for {
		task, err := h.service.GetTask(ctx, id)
		switch {
		case errors.Is(err, services.ErrTaskNotFound):
			h.logger.Warnw("task_stream_not_found", "task_id", id)
			_ = c.WriteJSON(dto.ErrorResponse{Error: "task not found"})
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			h.logger.Warnw("task_stream_poll_failed", "task_id", id, "error", err)
		case task.Revision != lastRevision:
			lastRevision = task.Revision
			if err := c.WriteJSON(dto.TaskToResponse(task, time.Now().UTC())); err != nil {
				h.logger.Debugw("task_stream_write_failed", "task_id", id, "error", err)
				return
			}
			if task.Status.IsTerminal() {
				h.logger.Infow("task_stream_done", "task_id", id, "status", task.Status)
				return
			}
		}

		select {
		case <-ctx.Done():
			h.logger.Debugw("task_stream_client_gone", "task_id", id)
			return
		case <-ticker.C:
		}
	}
}
