package agents

import (
	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
)

func NewStyleAgent(client ports.LLMClient, version string) ports.Agent {
	return &promptAgent{
		name:    domain.AgentStyle,
		version: version,
		focus:   "style and readability",
		system: "You are a code style reviewer. Report formatting, naming, structure, " +
			"documentation and idiom issues that hurt maintainability. Do not report bugs or vulnerabilities.",
		patterns: []recoveryPattern{
			pattern(`line (\d+).*too long`, "line_length", "Line length violation", domain.SeverityMedium),
			pattern(`line (\d+).*indentation`, "indentation", "Indentation issue", domain.SeverityLow),
			pattern(`line (\d+).*naming`, "naming", "Naming convention violation", domain.SeverityMedium),
			pattern(`line (\d+).*whitespace`, "whitespace", "Whitespace issue", domain.SeverityLow),
		},
		client: client,
	}
}
