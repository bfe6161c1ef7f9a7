package agents

import (
	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
)

func NewPerformanceAgent(client ports.LLMClient, version string) ports.Agent {
	return &promptAgent{
		name:    domain.AgentPerformance,
		version: version,
		focus:   "performance",
		system: "You are a performance reviewer. Report algorithmic complexity problems, needless allocation, " +
			"blocking I/O on hot paths, N+1 queries, poor data structure choices and leaks.",
		patterns: []recoveryPattern{
			pattern(`line (\d+).*(?:O\(n[²2]\)|nested.*loop)`, "nested_loop", "Nested loop performance issue", domain.SeverityHigh),
			pattern(`line (\d+).*inefficient.*algorithm`, "inefficient_algorithm", "Inefficient algorithm", domain.SeverityMedium),
			pattern(`line (\d+).*memory.*leak`, "memory_leak", "Memory leak", domain.SeverityHigh),
			pattern(`line (\d+).*(?:blocking.*I/O|synchronous.*call)`, "blocking_io", "Blocking I/O operation", domain.SeverityMedium),
			pattern(`line (\d+).*string.*concatenation.*loop`, "string_concat_in_loop", "String concatenation in loop", domain.SeverityMedium),
			pattern(`line (\d+).*redundant.*computation`, "redundant_computation", "Redundant computation", domain.SeverityLow),
			pattern(`line (\d+).*(?:cache.*miss|inefficient.*cache)`, "cache_inefficiency", "Cache inefficiency", domain.SeverityMedium),
			pattern(`line (\d+).*(?:database.*N\+1|query.*loop)`, "n_plus_one", "Database N+1 query problem", domain.SeverityHigh),
			pattern(`line (\d+).*large.*object.*creation`, "object_churn", "Excessive object creation", domain.SeverityMedium),
			pattern(`line (\d+).*inefficient.*data.*structure`, "data_structure", "Inefficient data structure", domain.SeverityMedium),
		},
		client: client,
	}
}
