package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/reviewd/backend/pkg/utils/retry"
	"golang.org/x/sync/errgroup"
)

const (
	defaultAPIURL = "https://api.github.com"
	filesPerPage  = 100
)

type Config struct {
	APIURL       string
	Token        string
	Timeout      time.Duration
	MaxFiles     int
	Concurrency  int
	MaxFileBytes int64
	Retry        retry.Policy
}

// Client fetches pull request files over the GitHub REST API.
type Client struct {
	token       string
	apiURL      string
	httpCli     *http.Client
	maxFiles    int
	concurrency int
	maxBytes    int64
	policy      retry.Policy
	log         *logger.Logger
}

func NewClient(cfg Config, log *logger.Logger) *Client {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		token:       cfg.Token,
		apiURL:      apiURL,
		httpCli:     &http.Client{Timeout: timeout},
		maxFiles:    max(cfg.MaxFiles, 1),
		concurrency: max(cfg.Concurrency, 1),
		maxBytes:    max(cfg.MaxFileBytes, 1),
		policy:      cfg.Retry,
		log:         log,
	}
}

var _ ports.PullRequestFetcher = (*Client)(nil)

type prResponse struct {
	Title string `json:"title"`
	User  struct {
		Login string `json:"login"`
	} `json:"user"`
	Head struct {
		SHA string `json:"sha"`
	} `json:"head"`
	Additions    int `json:"additions"`
	Deletions    int `json:"deletions"`
	ChangedFiles int `json:"changed_files"`
}

type prFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch"`
}

// FetchPullRequest returns the changed files of a pull request with their
// content at the head commit. Removed files are dropped. Content is read
// up to the configured ceiling plus one byte so callers can detect
// oversized files without downloading them in full. Errors are
// *domain.FetchError.
func (c *Client) FetchPullRequest(ctx context.Context, repoURL string, prNumber int, token string) (*domain.PullRequest, error) {
	owner, repo, err := domain.ParseRepoURL(repoURL)
	if err != nil {
		return nil, domain.NewFetchError(domain.FetchInvalidURL, 0, "%v", err)
	}
	if token == "" {
		token = c.token
	}

	var meta prResponse
	if err := c.getJSON(ctx, token, fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, prNumber), &meta); err != nil {
		return nil, err
	}

	files, err := c.listFiles(ctx, token, owner, repo, prNumber)
	if err != nil {
		return nil, err
	}

	changes := make([]domain.FileChange, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, f := range files {
		changes[i] = domain.FileChange{
			Path:      f.Filename,
			Status:    f.Status,
			Additions: f.Additions,
			Deletions: f.Deletions,
			Patch:     f.Patch,
		}
		if !domain.IsAnalyzablePath(f.Filename) {
			continue
		}
		g.Go(func() error {
			content, size, err := c.getContent(gctx, token, owner, repo, f.Filename, meta.Head.SHA)
			if err != nil {
				return err
			}
			changes[i].Content = content
			changes[i].Size = size
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.log.Infow("github_fetch_ok",
		"repo", owner+"/"+repo,
		"pr_number", prNumber,
		"files", len(changes),
		"head_sha", meta.Head.SHA,
	)
	return &domain.PullRequest{
		Info: domain.PullRequestInfo{
			Title:        meta.Title,
			Author:       meta.User.Login,
			HeadSHA:      meta.Head.SHA,
			Additions:    meta.Additions,
			Deletions:    meta.Deletions,
			ChangedFiles: meta.ChangedFiles,
		},
		Files: changes,
	}, nil
}

func (c *Client) listFiles(ctx context.Context, token, owner, repo string, prNumber int) ([]prFile, error) {
	var out []prFile
	for page := 1; len(out) < c.maxFiles; page++ {
		var batch []prFile
		path := fmt.Sprintf("/repos/%s/%s/pulls/%d/files?per_page=%d&page=%d", owner, repo, prNumber, filesPerPage, page)
		if err := c.getJSON(ctx, token, path, &batch); err != nil {
			return nil, err
		}
		for _, f := range batch {
			if f.Status == "removed" {
				continue
			}
			out = append(out, f)
		}
		if len(batch) < filesPerPage {
			break
		}
	}
	if len(out) > c.maxFiles {
		c.log.Warnw("github_fetch_truncated", "repo", owner+"/"+repo, "pr_number", prNumber, "max_files", c.maxFiles)
		out = out[:c.maxFiles]
	}
	return out, nil
}

func (c *Client) getContent(ctx context.Context, token, owner, repo, path, ref string) ([]byte, int64, error) {
	escaped := make([]string, 0)
	for _, seg := range strings.Split(path, "/") {
		escaped = append(escaped, url.PathEscape(seg))
	}
	endpoint := fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", owner, repo, strings.Join(escaped, "/"), url.QueryEscape(ref))

	var content []byte
	var size int64
	err := c.do(ctx, token, endpoint, "application/vnd.github.raw", func(resp *http.Response) error {
		if resp.StatusCode == http.StatusNotFound {
			c.log.Warnw("github_content_missing", "path", path, "ref", ref)
			return nil
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
		if err != nil {
			return domain.NewFetchError(domain.FetchUnavailable, 0, "reading %s: %v", path, err)
		}
		content = body
		size = resp.ContentLength
		if size < int64(len(body)) {
			size = int64(len(body))
		}
		return nil
	})
	return content, size, err
}

func (c *Client) getJSON(ctx context.Context, token, endpoint string, out interface{}) error {
	return c.do(ctx, token, endpoint, "application/vnd.github.v3+json", func(resp *http.Response) error {
		if resp.StatusCode == http.StatusNotFound {
			return domain.NewFetchError(domain.FetchNotFound, resp.StatusCode, "%s not found", endpoint)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.NewFetchError(domain.FetchUnavailable, resp.StatusCode, "parsing response: %v", err)
		}
		return nil
	})
}

// do issues a GET and hands 2xx and 404 responses to handle. Other statuses
// are classified; unavailable responses are retried.
func (c *Client) do(ctx context.Context, token, endpoint, accept string, handle func(*http.Response) error) error {
	_, _, err := retry.Do(ctx, c.policy, func(ctx context.Context, attempt int) retry.Result[struct{}] {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+endpoint, nil)
		if err != nil {
			return retry.Fatal[struct{}](domain.NewFetchError(domain.FetchInvalidURL, 0, "creating request: %v", err))
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("Accept", accept)
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.httpCli.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Fatal[struct{}](ctx.Err())
			}
			return retry.Retryable[struct{}](domain.NewFetchError(domain.FetchUnavailable, 0, "request failed: %v", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 == 2 || resp.StatusCode == http.StatusNotFound {
			if err := handle(resp); err != nil {
				return retry.Fatal[struct{}](err)
			}
			return retry.Ok(struct{}{})
		}

		ferr := classify(resp)
		if ferr.Kind == domain.FetchUnavailable {
			return retry.Retryable[struct{}](ferr)
		}
		return retry.Fatal[struct{}](ferr)
	}, func(attempt int, reason error, wait time.Duration) {
		c.log.Warnw("github_request_retry", "endpoint", endpoint, "attempt", attempt, "wait", wait, "error", reason)
	})
	if err == nil {
		return nil
	}
	var ferr *domain.FetchError
	if errors.As(err, &ferr) {
		return ferr
	}
	return domain.NewFetchError(domain.FetchUnavailable, 0, "%v", err)
}

func classify(resp *http.Response) *domain.FetchError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	msg := strings.TrimSpace(string(body))
	var apiErr struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, isRateLimited(resp):
		return domain.NewFetchError(domain.FetchRateLimited, resp.StatusCode, "GitHub API rate limit exceeded%s", resetHint(resp))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return domain.NewFetchError(domain.FetchAuth, resp.StatusCode, "authentication failed: %s", msg)
	case resp.StatusCode >= 500:
		return domain.NewFetchError(domain.FetchUnavailable, resp.StatusCode, "GitHub API error (status %d)", resp.StatusCode)
	default:
		return domain.NewFetchError(domain.FetchUnavailable, resp.StatusCode, "GitHub API error (status %d): %s", resp.StatusCode, msg)
	}
}

func isRateLimited(resp *http.Response) bool {
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"
}

func resetHint(resp *http.Response) string {
	reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return ""
	}
	return fmt.Sprintf(" (resets at %s)", time.Unix(reset, 0).UTC().Format(time.RFC3339))
}

// Ping checks API reachability with the service token.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Resources struct {
			Core struct {
				Remaining int `json:"remaining"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := c.getJSON(ctx, c.token, "/rate_limit", &out); err != nil {
		return err
	}
	if out.Resources.Core.Remaining == 0 {
		return domain.NewFetchError(domain.FetchRateLimited, 0, "no API calls remaining")
	}
	return nil
}
