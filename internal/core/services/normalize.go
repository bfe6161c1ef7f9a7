package services

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
)

type rawIssue struct {
	Type        string   `json:"type"`
	Line        *int     `json:"line"`
	Severity    string   `json:"severity"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion"`
	CodeSnippet string   `json:"code_snippet"`
	FixedCode   string   `json:"fixed_code"`
	Confidence  *float64 `json:"confidence_score"`
}

type rawReply struct {
	Issues *[]rawIssue `json:"issues"`
}

// Normalizer turns raw agent output into a FindingSet. Its result depends
// only on its inputs.
type Normalizer struct {
	Validated float64
	Recovered float64
}

// Normalize validates raw against the issues schema. Output that fails
// validation is repaired or mined with the agent's recovery patterns; the
// result is then marked degraded and the returned error describes why.
func (n Normalizer) Normalize(agent ports.Agent, language, raw string) (domain.FindingSet, *MalformedOutputError) {
	fs := domain.FindingSet{
		Agent:        agent.Name(),
		AgentVersion: agent.Version(),
		Language:     language,
		Findings:     []domain.Finding{},
		Confidence:   n.Validated,
	}

	body := extractJSON(raw)
	issues, dropped, err := decodeIssues(body)
	if err == nil && dropped == 0 {
		fs.Findings = n.toFindings(issues, agent.Name(), n.Validated)
		return fs, nil
	}

	var reason string
	switch {
	case err == nil:
		reason = "some issues did not match the schema"
		fs.Findings = n.toFindings(issues, agent.Name(), n.Recovered)
	default:
		reason = err.Error()
		if repaired, rerr := jsonrepair.JSONRepair(body); rerr == nil {
			if issues, _, derr := decodeIssues(repaired); derr == nil {
				fs.Findings = n.toFindings(issues, agent.Name(), n.Recovered)
				reason += " (repaired)"
				break
			}
		}
		for _, f := range agent.RecoverFindings(raw) {
			f.Confidence = n.Recovered
			fs.Findings = append(fs.Findings, f)
		}
		reason += " (pattern recovery)"
	}

	fs.Degraded = true
	fs.Confidence = n.Recovered
	return fs, &MalformedOutputError{Agent: agent.Name(), Reason: reason}
}

func (n Normalizer) toFindings(issues []rawIssue, agent domain.AgentName, ceiling float64) []domain.Finding {
	out := make([]domain.Finding, 0, len(issues))
	for _, is := range issues {
		f := domain.Finding{
			Type:        strings.TrimSpace(is.Type),
			Severity:    domain.ParseSeverity(is.Severity),
			Description: strings.TrimSpace(is.Description),
			Suggestion:  is.Suggestion,
			CodeSnippet: is.CodeSnippet,
			FixedCode:   is.FixedCode,
			Confidence:  ceiling,
		}
		if f.Type == "" {
			f.Type = string(agent)
		}
		if is.Line != nil && *is.Line > 0 {
			f.Line = *is.Line
		}
		if is.Confidence != nil && *is.Confidence >= 0 && *is.Confidence < ceiling {
			f.Confidence = *is.Confidence
		}
		out = append(out, f)
	}
	return out
}

type schemaError string

func (e schemaError) Error() string { return string(e) }

// decodeIssues decodes body as exactly one JSON object. Unknown fields are
// ignored; trailing data is not. Issues without a description are dropped
// and counted.
func decodeIssues(body string) ([]rawIssue, int, error) {
	if strings.TrimSpace(body) == "" {
		return nil, 0, schemaError("empty output")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	var reply rawReply
	if err := dec.Decode(&reply); err != nil {
		return nil, 0, schemaError("invalid JSON: " + err.Error())
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, 0, schemaError("trailing data after JSON object")
	}
	if reply.Issues == nil {
		return nil, 0, schemaError(`missing "issues" array`)
	}
	kept := make([]rawIssue, 0, len(*reply.Issues))
	dropped := 0
	for _, is := range *reply.Issues {
		if strings.TrimSpace(is.Description) == "" {
			dropped++
			continue
		}
		kept = append(kept, is)
	}
	return kept, dropped, nil
}

// extractJSON strips markdown fences and surrounding prose, returning the
// outermost object.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	if start >= 0 {
		return s[start:]
	}
	return s
}
