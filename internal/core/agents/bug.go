package agents

import (
	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
)

func NewBugAgent(client ports.LLMClient, version string) ports.Agent {
	return &promptAgent{
		name:    domain.AgentBug,
		version: version,
		focus:   "correctness",
		system: "You are a bug hunter. Report logic errors, nil or null dereferences, off-by-one and bounds errors, " +
			"unhandled errors, resource leaks, concurrency hazards and unreachable code.",
		patterns: []recoveryPattern{
			pattern(`line (\d+).*null.*pointer`, "null_pointer", "Potential null pointer exception", domain.SeverityHigh),
			pattern(`line (\d+).*index.*bound`, "index_out_of_bounds", "Array index out of bounds", domain.SeverityHigh),
			pattern(`line (\d+).*exception.*unhandled`, "unhandled_exception", "Unhandled exception", domain.SeverityMedium),
			pattern(`line (\d+).*infinite.*loop`, "infinite_loop", "Potential infinite loop", domain.SeverityCritical),
			pattern(`line (\d+).*resource.*leak`, "resource_leak", "Resource leak", domain.SeverityHigh),
			pattern(`line (\d+).*race.*condition`, "race_condition", "Race condition", domain.SeverityHigh),
			pattern(`line (\d+).*dead.*code`, "dead_code", "Dead code detected", domain.SeverityMedium),
		},
		client: client,
	}
}
