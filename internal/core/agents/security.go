package agents

import (
	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
)

func NewSecurityAgent(client ports.LLMClient, version string) ports.Agent {
	return &promptAgent{
		name:    domain.AgentSecurity,
		version: version,
		focus:   "security",
		system: "You are an application security reviewer. Report injection, XSS, hardcoded secrets, path traversal, " +
			"weak cryptography, unsafe deserialization, broken authentication or access control and data exposure.",
		patterns: []recoveryPattern{
			pattern(`line (\d+).*sql.*injection`, "sql_injection", "SQL Injection vulnerability", domain.SeverityCritical),
			pattern(`line (\d+).*(?:xss|cross.*site.*script)`, "xss", "Cross-Site Scripting risk", domain.SeverityHigh),
			pattern(`line (\d+).*(?:hardcoded.*secret|api.*key)`, "hardcoded_secret", "Hardcoded credentials", domain.SeverityCritical),
			pattern(`line (\d+).*command.*injection`, "command_injection", "Command injection vulnerability", domain.SeverityCritical),
			pattern(`line (\d+).*path.*traversal`, "path_traversal", "Path traversal vulnerability", domain.SeverityHigh),
			pattern(`line (\d+).*insecure.*crypto`, "weak_crypto", "Weak cryptographic implementation", domain.SeverityHigh),
			pattern(`line (\d+).*unsafe.*deserializ`, "unsafe_deserialization", "Unsafe deserialization", domain.SeverityHigh),
			pattern(`line (\d+).*auth.*bypass`, "auth_bypass", "Authentication bypass", domain.SeverityCritical),
			pattern(`line (\d+).*access.*control`, "access_control", "Access control violation", domain.SeverityHigh),
			pattern(`line (\d+).*information.*disclosure`, "information_disclosure", "Information disclosure", domain.SeverityMedium),
		},
		client: client,
	}
}
