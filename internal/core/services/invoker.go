package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/reviewd/backend/internal/infrastructure/metrics"
	"github.com/reviewd/backend/pkg/utils/retry"
)

// AgentLookup resolves a registered agent by name.
type AgentLookup interface {
	Get(name domain.AgentName) (ports.Agent, error)
}

type InvokerConfig struct {
	CallTimeout         time.Duration
	Retry               retry.Policy
	MaxFileBytes        int64
	ValidatedConfidence float64
	RecoveredConfidence float64
}

// UnitInput is everything an agent needs to analyze one file.
type UnitInput struct {
	Unit     domain.UnitKey
	File     domain.FileChange
	RepoURL  string
	PRNumber int
	PRTitle  string
}

// AgentInvoker runs one analysis unit: cache lookup, bounded retries of the
// agent call, and normalization of whatever came back.
type AgentInvoker struct {
	agents     AgentLookup
	cache      ports.ResultCache
	cfg        InvokerConfig
	normalizer Normalizer
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewAgentInvoker(agents AgentLookup, cache ports.ResultCache, cfg InvokerConfig, log *logger.Logger, m *metrics.Metrics) *AgentInvoker {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 1 << 20
	}
	if cfg.ValidatedConfidence <= 0 {
		cfg.ValidatedConfidence = 0.8
	}
	if cfg.RecoveredConfidence <= 0 {
		cfg.RecoveredConfidence = 0.5
	}
	return &AgentInvoker{
		agents:     agents,
		cache:      cache,
		cfg:        cfg,
		normalizer: Normalizer{Validated: cfg.ValidatedConfidence, Recovered: cfg.RecoveredConfidence},
		logger:     log,
		metrics:    m,
	}
}

// Screen reports why a file cannot be analyzed, or "" when it can.
func (inv *AgentInvoker) Screen(f domain.FileChange) string {
	switch {
	case !domain.IsAnalyzablePath(f.Path):
		return "unsupported file type"
	case f.Size > inv.cfg.MaxFileBytes || int64(len(f.Content)) > inv.cfg.MaxFileBytes:
		return fmt.Sprintf("file exceeds %d bytes", inv.cfg.MaxFileBytes)
	case len(f.Content) == 0:
		return "empty file"
	case domain.IsBinary(f.Content):
		return "binary file"
	}
	return ""
}

// Invoke always returns a terminal outcome. Agent failures become failed
// outcomes; malformed output is recovered and marked degraded.
func (inv *AgentInvoker) Invoke(ctx context.Context, in UnitInput) domain.UnitOutcome {
	if reason := inv.Screen(in.File); reason != "" {
		return domain.Skipped(in.Unit, reason)
	}
	agent, err := inv.agents.Get(in.Unit.Agent)
	if err != nil {
		return domain.Failed(in.Unit, domain.ErrorKindScheduling, err.Error())
	}

	fp := domain.Fingerprint(agent.Name(), agent.Version(), in.File.Path, in.File.Content)
	if fs, ok := inv.cache.Get(ctx, fp); ok {
		return domain.Succeeded(in.Unit, fs, true)
	}

	language := domain.DetectLanguage(in.File.Path)
	content := string(in.File.Content)
	req := ports.AgentRequest{
		FilePath: in.File.Path,
		Content:  content,
		Language: language,
		Stats:    domain.BuildFileStats(content, language),
		RepoURL:  in.RepoURL,
		PRNumber: in.PRNumber,
		PRTitle:  in.PRTitle,
	}

	resp, attempts, err := retry.Do(ctx, inv.cfg.Retry, func(ctx context.Context, attempt int) retry.Result[ports.AgentResponse] {
		callCtx, cancel := context.WithTimeout(ctx, inv.cfg.CallTimeout)
		defer cancel()

		start := time.Now()
		resp, err := agent.Analyze(callCtx, req)
		switch {
		case err == nil:
			inv.metrics.ObserveAgentCall(string(agent.Name()), "ok", time.Since(start))
			return retry.Ok(resp)
		case ctx.Err() != nil:
			return retry.Fatal[ports.AgentResponse](ctx.Err())
		case isRetryable(err), errors.Is(callCtx.Err(), context.DeadlineExceeded):
			inv.metrics.ObserveAgentCall(string(agent.Name()), "retryable", time.Since(start))
			return retry.Retryable[ports.AgentResponse](err)
		default:
			inv.metrics.ObserveAgentCall(string(agent.Name()), "fatal", time.Since(start))
			return retry.Fatal[ports.AgentResponse](err)
		}
	}, func(attempt int, reason error, wait time.Duration) {
		inv.metrics.AgentRetried(string(agent.Name()))
		inv.logger.Warnw("agent_call_retry",
			"agent", agent.Name(),
			"file", in.File.Path,
			"attempt", attempt,
			"wait", wait,
			"error", reason,
		)
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.Failed(in.Unit, domain.ErrorKindInterrupted, "analysis interrupted: "+ctx.Err().Error())
		}
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			err = exhausted.Last
		}
		aerr := &AgentError{Agent: agent.Name(), Attempts: attempts, Err: err}
		inv.logger.Errorw("agent_call_failed", "agent", agent.Name(), "file", in.File.Path, "attempts", attempts, "error", err)
		return domain.Failed(in.Unit, aerr.Kind(), aerr.Error())
	}

	fs, merr := inv.normalizer.Normalize(agent, language, resp.Raw)
	if merr != nil {
		inv.logger.Warnw("agent_output_malformed",
			"agent", agent.Name(),
			"file", in.File.Path,
			"reason", merr.Reason,
			"recovered", len(fs.Findings),
		)
		// Degraded sets are never cached: the next request for the same
		// content calls the agent again instead of pinning a recovered
		// result for the whole TTL.
		return domain.Succeeded(in.Unit, fs, false)
	}
	inv.cache.Put(ctx, fp, in.File.Path, fs)
	return domain.Succeeded(in.Unit, fs, false)
}

func isRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}
