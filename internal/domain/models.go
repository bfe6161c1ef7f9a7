package domain

// ==================== ENUMS ====================

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further mutation is allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

type AgentName string

const (
	AgentStyle       AgentName = "style"
	AgentBug         AgentName = "bug"
	AgentSecurity    AgentName = "security"
	AgentPerformance AgentName = "performance"
)

// AllAgents is the closed set of analysis agents, in dispatch order.
var AllAgents = []AgentName{AgentStyle, AgentBug, AgentSecurity, AgentPerformance}

func ParseAgentName(s string) (AgentName, bool) {
	for _, a := range AllAgents {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

type UnitState string

const (
	UnitStateQueued    UnitState = "queued"
	UnitStateRunning   UnitState = "running"
	UnitStateSucceeded UnitState = "succeeded"
	UnitStateFailed    UnitState = "failed"
	UnitStateSkipped   UnitState = "skipped"
)

func (s UnitState) IsTerminal() bool {
	return s == UnitStateSucceeded || s == UnitStateFailed || s == UnitStateSkipped
}

type ErrorKind string

const (
	ErrorKindValidation      ErrorKind = "validation"
	ErrorKindFetch           ErrorKind = "fetch"
	ErrorKindAgent           ErrorKind = "agent_error"
	ErrorKindMalformedOutput ErrorKind = "malformed_output"
	ErrorKindCancelled       ErrorKind = "cancelled"
	ErrorKindStore           ErrorKind = "store_error"
	ErrorKindInterrupted     ErrorKind = "interrupted"
	ErrorKindScheduling      ErrorKind = "scheduling"
	ErrorKindInternal        ErrorKind = "internal"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity maps free-form severity text onto the known levels.
// Unknown values become medium.
func ParseSeverity(s string) Severity {
	switch Severity(normalizeWord(s)) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}
