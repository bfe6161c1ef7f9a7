package services

import (
	"context"
	"sync"
	"time"

	"github.com/reviewd/backend/internal/domain"
	"github.com/reviewd/backend/internal/infrastructure/logger"
)

type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// Pinger is any dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type TaskCounter interface {
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int64, error)
}

type ComponentHealth struct {
	Name      string      `json:"name"`
	State     HealthState `json:"state"`
	Critical  bool        `json:"critical"`
	Error     string      `json:"error,omitempty"`
	LatencyMS int64       `json:"latency_ms"`
}

type HealthReport struct {
	Status     HealthState                 `json:"status"`
	Components []ComponentHealth           `json:"components"`
	Tasks      map[domain.TaskStatus]int64 `json:"tasks,omitempty"`
	QueueDepth int                         `json:"queue_depth"`
	CheckedAt  time.Time                   `json:"checked_at"`
}

type healthCheck struct {
	name     string
	target   Pinger
	critical bool
}

// HealthService rolls component checks up into one state. A failing
// critical component makes the service unhealthy; any other failure only
// degrades it.
type HealthService struct {
	checks  []healthCheck
	tasks   TaskCounter
	depth   func() int
	timeout time.Duration
	logger  *logger.Logger
}

func NewHealthService(tasks TaskCounter, depth func() int, log *logger.Logger) *HealthService {
	return &HealthService{
		tasks:   tasks,
		depth:   depth,
		timeout: 3 * time.Second,
		logger:  log,
	}
}

// Register adds a component check. Nil targets are ignored.
func (h *HealthService) Register(name string, target Pinger, critical bool) {
	if target == nil {
		return
	}
	h.checks = append(h.checks, healthCheck{name: name, target: target, critical: critical})
}

func (h *HealthService) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	report := HealthReport{
		Status:     HealthHealthy,
		Components: make([]ComponentHealth, len(h.checks)),
		CheckedAt:  time.Now().UTC(),
	}

	var wg sync.WaitGroup
	for i, c := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := c.target.Ping(ctx)
			ch := ComponentHealth{
				Name:      c.name,
				State:     HealthHealthy,
				Critical:  c.critical,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				ch.Error = err.Error()
				ch.State = HealthDegraded
				if c.critical {
					ch.State = HealthUnhealthy
				}
			}
			report.Components[i] = ch
		}()
	}
	wg.Wait()

	for _, c := range report.Components {
		switch {
		case c.State == HealthUnhealthy:
			report.Status = HealthUnhealthy
		case c.State == HealthDegraded && report.Status == HealthHealthy:
			report.Status = HealthDegraded
		}
		if c.Error != "" {
			h.logger.Warnw("health_check_failed", "component", c.Name, "error", c.Error)
		}
	}

	if h.tasks != nil {
		if counts, err := h.tasks.CountByStatus(ctx); err == nil {
			report.Tasks = counts
		}
	}
	if h.depth != nil {
		report.QueueDepth = h.depth()
	}
	return report
}
