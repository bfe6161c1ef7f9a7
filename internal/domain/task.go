package domain

import (
	"time"
)

// Task is one end-to-end review request for a pull request.
type Task struct {
	ID            string      `gorm:"type:varchar(36);primaryKey" json:"task_id"`
	RepoURL       string      `gorm:"type:text;not null" json:"repo_url"`
	PRNumber      int         `gorm:"not null" json:"pr_number"`
	AnalysisTypes []AgentName `gorm:"serializer:json;type:jsonb" json:"analysis_types"`
	Priority      string      `gorm:"type:varchar(16);default:'normal'" json:"priority"`

	Status   TaskStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Message  string     `gorm:"type:text" json:"message"`
	Revision int64      `gorm:"not null;default:0" json:"revision"`

	ProgressCompleted int `gorm:"not null;default:0" json:"progress_completed"`
	ProgressTotal     int `gorm:"not null;default:0" json:"progress_total"`

	// Results maps file path to agent to findings; partial until terminal.
	Results map[string]map[AgentName]FindingSet `gorm:"serializer:json;type:jsonb" json:"results"`
	Errors  []TaskError                         `gorm:"serializer:json;type:jsonb" json:"errors"`
	// Units is the per-unit ledger keyed by UnitKey.String().
	Units       map[string]UnitRecord `gorm:"serializer:json;type:jsonb" json:"units"`
	PullRequest *PullRequestInfo      `gorm:"serializer:json;type:jsonb" json:"pull_request,omitempty"`

	// GitHubToken is stored encrypted and never rendered.
	GitHubToken     string `gorm:"type:text" json:"-"`
	CancelRequested bool   `gorm:"not null;default:false" json:"cancel_requested"`

	AgentCalls int `gorm:"not null;default:0" json:"agent_calls"`
	CacheHits  int `gorm:"not null;default:0" json:"cache_hits"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (Task) TableName() string {
	return "analysis_tasks"
}

// TaskError is one entry of a task's error log. Unit is empty for
// task-level errors.
type TaskError struct {
	Unit    string    `json:"unit,omitempty"`
	File    string    `json:"file,omitempty"`
	Agent   AgentName `json:"agent,omitempty"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// UnitRecord is the ledger entry of one analysis unit.
type UnitRecord struct {
	File   string    `json:"file"`
	Agent  AgentName `json:"agent"`
	State  UnitState `json:"state"`
	Cached bool      `json:"cached,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// PullRequestInfo carries the pull request metadata captured at fetch time.
type PullRequestInfo struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	HeadSHA      string `json:"head_sha"`
	Additions    int    `json:"additions"`
	Deletions    int    `json:"deletions"`
	ChangedFiles int    `json:"changed_files"`
}

// NewTask builds a pending task for the given pull request.
func NewTask(id, repoURL string, prNumber int, types []AgentName, priority string, now time.Time) *Task {
	return &Task{
		ID:            id,
		RepoURL:       repoURL,
		PRNumber:      prNumber,
		AnalysisTypes: types,
		Priority:      priority,
		Status:        TaskStatusPending,
		Message:       "Task queued for analysis",
		Results:       map[string]map[AgentName]FindingSet{},
		Errors:        []TaskError{},
		Units:         map[string]UnitRecord{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy that shares no mutable state with t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	if t.AnalysisTypes != nil {
		out.AnalysisTypes = append([]AgentName(nil), t.AnalysisTypes...)
	}
	out.Results = make(map[string]map[AgentName]FindingSet, len(t.Results))
	for file, byAgent := range t.Results {
		m := make(map[AgentName]FindingSet, len(byAgent))
		for agent, fs := range byAgent {
			m[agent] = fs.Clone()
		}
		out.Results[file] = m
	}
	out.Errors = append(make([]TaskError, 0, len(t.Errors)), t.Errors...)
	out.Units = make(map[string]UnitRecord, len(t.Units))
	for k, u := range t.Units {
		out.Units[k] = u
	}
	if t.PullRequest != nil {
		pr := *t.PullRequest
		out.PullRequest = &pr
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		out.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		out.CompletedAt = &ts
	}
	return &out
}

// Percentage reports progress as 0-100.
func (t *Task) Percentage() int {
	if t.ProgressTotal == 0 {
		if t.Status.IsTerminal() {
			return 100
		}
		return 0
	}
	return t.ProgressCompleted * 100 / t.ProgressTotal
}

// Stage is a short human description of where the task is.
func (t *Task) Stage() string {
	switch t.Status {
	case TaskStatusPending:
		return "queued"
	case TaskStatusProcessing:
		if t.CancelRequested {
			return "cancelling"
		}
		if len(t.Units) == 0 {
			return "fetching_pull_request"
		}
		return "analyzing"
	case TaskStatusCompleted:
		return "completed"
	default:
		return "failed"
	}
}

// ETA estimates remaining time from the average unit duration so far.
// It returns false when there is not enough data.
func (t *Task) ETA(now time.Time) (time.Duration, bool) {
	if t.Status != TaskStatusProcessing || t.StartedAt == nil || t.ProgressCompleted == 0 || t.ProgressTotal == 0 {
		return 0, false
	}
	elapsed := now.Sub(*t.StartedAt)
	perUnit := elapsed / time.Duration(t.ProgressCompleted)
	remaining := t.ProgressTotal - t.ProgressCompleted
	return perUnit * time.Duration(remaining), true
}

// SkippedUnits lists skipped ledger entries in canonical order.
func (t *Task) SkippedUnits() []UnitRecord {
	var out []UnitRecord
	for _, key := range sortedUnitKeys(t.Units) {
		if u := t.Units[key]; u.State == UnitStateSkipped {
			out = append(out, u)
		}
	}
	return out
}
