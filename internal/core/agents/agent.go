// Package agents holds the closed set of analysis agents. Each agent turns
// one file into a prompt for the model backend and knows how to salvage
// findings from replies that are not valid JSON.
package agents

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
)

// outputSchema is appended to every system prompt.
const outputSchema = `Respond with JSON only, in this shape:
{
  "issues": [
    {
      "type": "short_snake_case_category",
      "line": 15,
      "severity": "critical|high|medium|low",
      "description": "what is wrong and why it matters",
      "suggestion": "how to fix it",
      "code_snippet": "offending code",
      "fixed_code": "corrected code",
      "confidence_score": 0.85
    }
  ]
}
Return {"issues": []} when nothing is found.`

type recoveryPattern struct {
	re          *regexp.Regexp
	kind        string
	description string
	severity    domain.Severity
}

func pattern(expr, kind, description string, severity domain.Severity) recoveryPattern {
	return recoveryPattern{
		re:          regexp.MustCompile(`(?i)` + expr),
		kind:        kind,
		description: description,
		severity:    severity,
	}
}

type promptAgent struct {
	name     domain.AgentName
	version  string
	focus    string
	system   string
	patterns []recoveryPattern
	client   ports.LLMClient
}

var _ ports.Agent = (*promptAgent)(nil)

func (a *promptAgent) Name() domain.AgentName { return a.name }

func (a *promptAgent) Version() string { return a.version }

func (a *promptAgent) Analyze(ctx context.Context, req ports.AgentRequest) (ports.AgentResponse, error) {
	text, tokens, err := a.client.Complete(ctx, a.system+"\n\n"+outputSchema, a.prompt(req))
	if err != nil {
		return ports.AgentResponse{}, err
	}
	return ports.AgentResponse{Raw: text, TokensUsed: tokens}, nil
}

func (a *promptAgent) prompt(req ports.AgentRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Perform a %s review of the following %s code.\n\n", a.focus, req.Language)
	fmt.Fprintf(&b, "Repository: %s (pull request #%d", req.RepoURL, req.PRNumber)
	if req.PRTitle != "" {
		fmt.Fprintf(&b, ": %s", req.PRTitle)
	}
	b.WriteString(")\n")
	fmt.Fprintf(&b, "File: %s\nLanguage: %s\n", req.FilePath, req.Language)
	fmt.Fprintf(&b, "Lines: %d total, %d non-empty, %d comments, %d longer than 120 chars, nesting depth %d\n\n",
		req.Stats.TotalLines, req.Stats.NonEmptyLines, req.Stats.CommentLines, req.Stats.LongLines, req.Stats.NestingDepth)
	fmt.Fprintf(&b, "```%s\n%s\n```\n", req.Language, req.Content)
	return b.String()
}

// RecoverFindings scans free text for "line N ... <keyword>" mentions.
func (a *promptAgent) RecoverFindings(raw string) []domain.Finding {
	var out []domain.Finding
	for _, p := range a.patterns {
		for _, m := range p.re.FindAllStringSubmatch(raw, -1) {
			line := 0
			if len(m) > 1 && m[1] != "" {
				line, _ = strconv.Atoi(m[1])
			}
			out = append(out, domain.Finding{
				Type:        p.kind,
				Line:        line,
				Severity:    p.severity,
				Description: p.description + " (auto-detected)",
			})
		}
	}
	return out
}
