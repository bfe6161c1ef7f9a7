package domain

// Finding is a single issue reported by an agent.
type Finding struct {
	Type        string   `json:"type"`
	Line        int      `json:"line,omitempty"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
	CodeSnippet string   `json:"code_snippet,omitempty"`
	FixedCode   string   `json:"fixed_code,omitempty"`
	Confidence  float64  `json:"confidence"`
}

// FindingSet is the normalized output of one agent analyzing one file.
// It must be a pure function of the agent output so that cache writes of
// the same fingerprint converge on equal values.
type FindingSet struct {
	Agent        AgentName `json:"agent"`
	AgentVersion string    `json:"agent_version"`
	Language     string    `json:"language,omitempty"`
	Findings     []Finding `json:"findings"`
	Confidence   float64   `json:"confidence"`
	// Degraded marks output that failed schema validation and was
	// recovered heuristically.
	Degraded bool `json:"degraded,omitempty"`
}

type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

func (c *SeverityCounts) Add(s Severity) {
	switch s {
	case SeverityCritical:
		c.Critical++
	case SeverityHigh:
		c.High++
	case SeverityLow:
		c.Low++
	default:
		c.Medium++
	}
}

func (c SeverityCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low
}

func (fs FindingSet) Counts() SeverityCounts {
	var c SeverityCounts
	for _, f := range fs.Findings {
		c.Add(f.Severity)
	}
	return c
}

// Clone returns a deep copy.
func (fs FindingSet) Clone() FindingSet {
	out := fs
	if fs.Findings != nil {
		out.Findings = make([]Finding, len(fs.Findings))
		copy(out.Findings, fs.Findings)
	}
	return out
}
