package ports

import (
	"context"

	"github.com/reviewd/backend/internal/domain"
)

// AgentRequest is the input of one agent call.
type AgentRequest struct {
	FilePath string
	Content  string
	Language string
	Stats    domain.FileStats
	RepoURL  string
	PRNumber int
	PRTitle  string
}

// AgentResponse is the raw agent output before normalization.
type AgentResponse struct {
	Raw        string
	TokensUsed int
}

// Agent is one analysis capability. The set of agents is closed and
// registered at startup.
type Agent interface {
	Name() domain.AgentName
	Version() string
	Analyze(ctx context.Context, req AgentRequest) (AgentResponse, error)
	// RecoverFindings extracts findings heuristically from output that
	// failed schema validation.
	RecoverFindings(raw string) []domain.Finding
}

// LLMClient sends a single prompt to a model backend.
type LLMClient interface {
	Complete(ctx context.Context, system, prompt string) (text string, tokens int, err error)
}

type PullRequestFetcher interface {
	FetchPullRequest(ctx context.Context, repoURL string, prNumber int, token string) (*domain.PullRequest, error)
	Ping(ctx context.Context) error
}

type CacheStats struct {
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	LocalSize  int     `json:"local_entries"`
	SharedSize int64   `json:"shared_entries"`
	HitRate    float64 `json:"hit_rate"`
	SharedTier bool    `json:"shared_tier"`
	TTLSeconds float64 `json:"ttl_seconds"`
	MaxEntries int     `json:"max_entries"`
}

type ResultCache interface {
	// Get returns false on a miss. Version is checked by the fingerprint.
	Get(ctx context.Context, fingerprint string) (domain.FindingSet, bool)
	Put(ctx context.Context, fingerprint, path string, fs domain.FindingSet)
	Stats(ctx context.Context) CacheStats
}

type SubmitInput struct {
	RepoURL       string
	PRNumber      int
	GitHubToken   string
	AnalysisTypes []string
	Priority      string
}

type AnalysisService interface {
	Submit(ctx context.Context, in SubmitInput) (*domain.Task, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	CancelTask(ctx context.Context, id string) (*domain.Task, error)
}
