package agents

import (
	"context"
	"testing"

	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	system, prompt string
	reply          string
}

func (c *recordingClient) Complete(_ context.Context, system, prompt string) (string, int, error) {
	c.system, c.prompt = system, prompt
	return c.reply, 42, nil
}

func TestAnalyzeBuildsPrompt(t *testing.T) {
	client := &recordingClient{reply: `{"issues":[]}`}
	agent := NewSecurityAgent(client, "v3")

	resp, err := agent.Analyze(context.Background(), ports.AgentRequest{
		FilePath: "app/db.py",
		Content:  "cursor.execute(q % user)",
		Language: "python",
		RepoURL:  "https://github.com/acme/widgets",
		PRNumber: 42,
		PRTitle:  "Add search",
		Stats:    domain.FileStats{TotalLines: 1, NonEmptyLines: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, `{"issues":[]}`, resp.Raw)
	assert.Equal(t, 42, resp.TokensUsed)
	assert.Contains(t, client.system, `"issues"`)
	assert.Contains(t, client.prompt, "app/db.py")
	assert.Contains(t, client.prompt, "cursor.execute(q % user)")
	assert.Contains(t, client.prompt, "pull request #42: Add search")
	assert.Equal(t, domain.AgentSecurity, agent.Name())
	assert.Equal(t, "v3", agent.Version())
}

func TestRecoverFindings(t *testing.T) {
	cases := []struct {
		agent    ports.Agent
		raw      string
		kind     string
		line     int
		severity domain.Severity
	}{
		{NewStyleAgent(nil, "v1"), "Line 12 is too long (140 chars)", "line_length", 12, domain.SeverityMedium},
		{NewBugAgent(nil, "v1"), "On line 7 there is an infinite loop", "infinite_loop", 7, domain.SeverityCritical},
		{NewSecurityAgent(nil, "v1"), "line 3: possible SQL injection via string formatting", "sql_injection", 3, domain.SeverityCritical},
		{NewSecurityAgent(nil, "v1"), "line 9 renders user input, cross-site scripting", "xss", 9, domain.SeverityHigh},
		{NewPerformanceAgent(nil, "v1"), "line 20 runs a query in a loop (N+1)", "n_plus_one", 20, domain.SeverityHigh},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			got := tc.agent.RecoverFindings(tc.raw)
			require.NotEmpty(t, got)
			assert.Equal(t, tc.kind, got[0].Type)
			assert.Equal(t, tc.line, got[0].Line)
			assert.Equal(t, tc.severity, got[0].Severity)
		})
	}

	assert.Empty(t, NewBugAgent(nil, "v1").RecoverFindings("nothing to see here"))
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(&recordingClient{}, "v1")

	all, err := r.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, domain.AllAgents, all)

	some, err := r.Resolve([]string{"performance", "bug", "bug"})
	require.NoError(t, err)
	assert.Equal(t, []domain.AgentName{domain.AgentBug, domain.AgentPerformance}, some)

	_, err = r.Resolve([]string{"lint"})
	assert.Error(t, err)

	partial := NewRegistryOf(NewStyleAgent(nil, "v1"))
	_, err = partial.Resolve([]string{"bug"})
	assert.Error(t, err)
	_, err = partial.Get(domain.AgentBug)
	assert.Error(t, err)
}
