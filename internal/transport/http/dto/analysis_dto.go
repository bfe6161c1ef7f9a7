package dto

import (
	"strings"
	"time"

	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
)

type AnalyzeRequest struct {
	RepoURL       string   `json:"repo_url"`
	PRNumber      int      `json:"pr_number"`
	GitHubToken   string   `json:"github_token,omitempty"`
	AnalysisTypes []string `json:"analysis_types,omitempty"`
	Priority      string   `json:"priority,omitempty"`
}

func (r *AnalyzeRequest) ToInput() ports.SubmitInput {
	types := make([]string, 0, len(r.AnalysisTypes))
	for _, t := range r.AnalysisTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			types = append(types, t)
		}
	}
	return ports.SubmitInput{
		RepoURL:       strings.TrimSpace(r.RepoURL),
		PRNumber:      r.PRNumber,
		GitHubToken:   strings.TrimSpace(r.GitHubToken),
		AnalysisTypes: types,
		Priority:      r.Priority,
	}
}

type AnalyzeResponse struct {
	TaskID  string            `json:"task_id"`
	Status  domain.TaskStatus `json:"status"`
	Message string            `json:"message"`
}

type Progress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

type SkippedUnit struct {
	File   string           `json:"file"`
	Agent  domain.AgentName `json:"agent"`
	Reason string           `json:"reason"`
}

// TaskStatusResponse is the polling document. Results may be partial while
// the task is processing; the summary appears once the task is terminal.
type TaskStatusResponse struct {
	TaskID          string                                            `json:"task_id"`
	Status          domain.TaskStatus                                 `json:"status"`
	Stage           string                                            `json:"stage"`
	Progress        Progress                                          `json:"progress"`
	Message         string                                            `json:"message"`
	RepoURL         string                                            `json:"repo_url"`
	PRNumber        int                                               `json:"pr_number"`
	AnalysisTypes   []domain.AgentName                                `json:"analysis_types"`
	Priority        string                                            `json:"priority"`
	CancelRequested bool                                              `json:"cancel_requested,omitempty"`
	ETASeconds      *int64                                            `json:"eta_seconds,omitempty"`
	PullRequest     *domain.PullRequestInfo                           `json:"pull_request,omitempty"`
	Results         map[string]map[domain.AgentName]domain.FindingSet `json:"results,omitempty"`
	Errors          []domain.TaskError                                `json:"errors,omitempty"`
	Skipped         []SkippedUnit                                     `json:"skipped,omitempty"`
	Summary         *domain.Summary                                   `json:"summary,omitempty"`
	CreatedAt       time.Time                                         `json:"created_at"`
	StartedAt       *time.Time                                        `json:"started_at,omitempty"`
	CompletedAt     *time.Time                                        `json:"completed_at,omitempty"`
}

func TaskToResponse(t *domain.Task, now time.Time) TaskStatusResponse {
	resp := TaskStatusResponse{
		TaskID: t.ID,
		Status: t.Status,
		Stage:  t.Stage(),
		Progress: Progress{
			Completed:  t.ProgressCompleted,
			Total:      t.ProgressTotal,
			Percentage: t.Percentage(),
		},
		Message:         t.Message,
		RepoURL:         t.RepoURL,
		PRNumber:        t.PRNumber,
		AnalysisTypes:   t.AnalysisTypes,
		Priority:        t.Priority,
		CancelRequested: t.CancelRequested,
		PullRequest:     t.PullRequest,
		CreatedAt:       t.CreatedAt,
		StartedAt:       t.StartedAt,
		CompletedAt:     t.CompletedAt,
	}
	if len(t.Results) > 0 {
		resp.Results = t.Results
	}
	if len(t.Errors) > 0 {
		resp.Errors = t.Errors
	}
	for _, u := range t.SkippedUnits() {
		resp.Skipped = append(resp.Skipped, SkippedUnit{File: u.File, Agent: u.Agent, Reason: u.Reason})
	}
	if eta, ok := t.ETA(now); ok {
		secs := int64(eta.Seconds())
		resp.ETASeconds = &secs
	}
	if t.Status.IsTerminal() {
		s := t.Summary()
		resp.Summary = &s
	}
	return resp
}

type CacheStatsResponse struct {
	ports.CacheStats
	HitRatePercent string `json:"hit_rate_percent"`
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
