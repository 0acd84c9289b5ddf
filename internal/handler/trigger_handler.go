package handler

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/optoutly/removal-engine/internal/domain"
	"github.com/optoutly/removal-engine/internal/service"
)

// JobRunner is the entry point the scheduler trigger endpoint calls into.
type JobRunner interface {
	Run(ctx context.Context, jobName string, fn service.JobFunc) (*domain.JobRun, error)
}

// RunLogReader serves recent job run history for operators.
type RunLogReader interface {
	ListRecent(ctx context.Context, jobName string, limit int) ([]domain.JobRun, error)
}

type TriggerHandler struct {
	runner JobRunner
	jobs   map[string]service.JobFunc
	runs   RunLogReader
}

func NewTriggerHandler(runner JobRunner, jobs map[string]service.JobFunc, runs RunLogReader) (*TriggerHandler, error) {
	if runner == nil {
		return nil, fmt.Errorf("job runner is required")
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("at least one job is required")
	}

	return &TriggerHandler{runner: runner, jobs: jobs, runs: runs}, nil
}

// RegisterTriggerRoutes mounts the scheduler endpoints behind the shared
// secret. Cron is outside this service; each trigger is one stateless
// invocation.
func RegisterTriggerRoutes(router fiber.Router, secret string, runner JobRunner, jobs map[string]service.JobFunc, runs RunLogReader) error {
	h, err := NewTriggerHandler(runner, jobs, runs)
	if err != nil {
		return err
	}
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("scheduler secret is required")
	}

	v1 := router.Group("/v1", RequireSchedulerSecret(secret))
	v1.Post("/jobs/:job/run", h.TriggerJob)
	v1.Get("/jobs/runs", h.ListRuns)

	return nil
}

// RequireSchedulerSecret authenticates scheduler calls with a constant-time
// bearer token comparison.
func RequireSchedulerSecret(secret string) fiber.Handler {
	expected := []byte(secret)

	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}
		if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid scheduler credential")
		}
		return c.Next()
	}
}

type runResponse struct {
	ID         string `json:"id"`
	JobName    string `json:"jobName"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Metadata   string `json:"metadata,omitempty"`
	StartedAt  string `json:"startedAt"`
	DurationMS int64  `json:"durationMs"`
}

func (h *TriggerHandler) TriggerJob(c *fiber.Ctx) error {
	jobName := strings.ToLower(strings.TrimSpace(c.Params("job")))
	fn, ok := h.jobs[jobName]
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("unknown job %q", jobName))
	}

	run, err := h.runner.Run(c.Context(), jobName, fn)
	if err != nil && run == nil {
		return err
	}

	// A failed job still answers 200; the outcome lives in the run record.
	// The scheduler should not retry a run that already executed.
	return c.Status(fiber.StatusOK).JSON(toRunResponse(run))
}

func (h *TriggerHandler) ListRuns(c *fiber.Ctx) error {
	if h.runs == nil {
		return fiber.NewError(fiber.StatusNotFound, "run history is not available")
	}

	jobName := strings.ToLower(strings.TrimSpace(c.Query("job")))
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 100")
	}

	runs, err := h.runs.ListRecent(c.Context(), jobName, limit)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]runResponse, 0, len(runs))
	for i := range runs {
		data = append(data, toRunResponse(&runs[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func toRunResponse(run *domain.JobRun) runResponse {
	if run == nil {
		return runResponse{}
	}

	return runResponse{
		ID:         run.ID,
		JobName:    run.JobName,
		Status:     run.Status.String(),
		Message:    run.Message,
		Metadata:   run.Metadata,
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
		DurationMS: run.DurationMS,
	}
}
