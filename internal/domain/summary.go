package domain

import "fmt"

type Summary struct {
	TotalFiles     int            `json:"total_files"`
	TotalIssues    int            `json:"total_issues"`
	Severity       SeverityCounts `json:"severity"`
	SkippedUnits   int            `json:"skipped_units"`
	FailedUnits    int            `json:"failed_units"`
	DegradedUnits  int            `json:"degraded_units"`
	AgentCalls     int            `json:"api_calls_made"`
	CacheHits      int            `json:"api_calls_cached"`
	CacheHitRate   string         `json:"cache_hit_rate"`
	PerAgentIssues map[string]int `json:"per_agent_issues"`
}

// Summary aggregates the merged results. It depends only on merged state,
// so it is independent of completion order.
func (t *Task) Summary() Summary {
	s := Summary{
		TotalFiles:     len(t.Results),
		AgentCalls:     t.AgentCalls,
		CacheHits:      t.CacheHits,
		PerAgentIssues: map[string]int{},
	}
	for _, byAgent := range t.Results {
		for agent, fs := range byAgent {
			for _, f := range fs.Findings {
				s.Severity.Add(f.Severity)
			}
			s.PerAgentIssues[string(agent)] += len(fs.Findings)
			if fs.Degraded {
				s.DegradedUnits++
			}
		}
	}
	for _, u := range t.Units {
		switch u.State {
		case UnitStateSkipped:
			s.SkippedUnits++
		case UnitStateFailed:
			s.FailedUnits++
		}
	}
	s.TotalIssues = s.Severity.Total()
	calls := t.AgentCalls + t.CacheHits
	if calls < 1 {
		calls = 1
	}
	s.CacheHitRate = fmt.Sprintf("%.1f%%", float64(t.CacheHits)/float64(calls)*100)
	return s
}
