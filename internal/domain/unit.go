package domain

import (
	"sort"
	"strings"
)

// UnitKey identifies an analysis unit: one agent over one file.
type UnitKey struct {
	File  string
	Agent AgentName
}

func (k UnitKey) String() string {
	return k.File + "#" + string(k.Agent)
}

func (k UnitKey) Less(o UnitKey) bool {
	if k.File != o.File {
		return k.File < o.File
	}
	return k.Agent < o.Agent
}

// UnitOutcome is the terminal result of one unit, as merged into a task.
type UnitOutcome struct {
	Unit     UnitKey
	State    UnitState
	Findings *FindingSet
	ErrKind  ErrorKind
	Message  string
	Cached   bool
}

func Succeeded(unit UnitKey, fs FindingSet, cached bool) UnitOutcome {
	return UnitOutcome{Unit: unit, State: UnitStateSucceeded, Findings: &fs, Cached: cached}
}

func Failed(unit UnitKey, kind ErrorKind, msg string) UnitOutcome {
	return UnitOutcome{Unit: unit, State: UnitStateFailed, ErrKind: kind, Message: msg}
}

func Skipped(unit UnitKey, reason string) UnitOutcome {
	return UnitOutcome{Unit: unit, State: UnitStateSkipped, Message: reason}
}

// PlanUnits expands files x agents in canonical order.
func PlanUnits(files []string, agents []AgentName) []UnitKey {
	units := make([]UnitKey, 0, len(files)*len(agents))
	for _, f := range files {
		for _, a := range agents {
			units = append(units, UnitKey{File: f, Agent: a})
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Less(units[j]) })
	return units
}

func sortedUnitKeys(units map[string]UnitRecord) []string {
	keys := make([]string, 0, len(units))
	for k := range units {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := units[keys[i]], units[keys[j]]
		return UnitKey{a.File, a.Agent}.Less(UnitKey{b.File, b.Agent})
	})
	return keys
}

func normalizeWord(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
