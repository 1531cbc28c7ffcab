package models

import (
	"strings"
)

// DefaultAgents maps analyst initials to full names
var DefaultAgents = map[string]string{
	"AV": "Alex Vangelos",
	"DN": "Dan North",
	"HF": "Hailey Flame",
	"HD": "Hamish Duff",
	"ZH": "Zoe Hart",
	"ZC": "Zein Checri",
	"WV": "Will Vangelos",
}

// AgentDirectory resolves analyst initials to names
type AgentDirectory struct {
	names map[string]string
}

// NewAgentDirectory builds a directory. A nil or empty map selects DefaultAgents.
func NewAgentDirectory(names map[string]string) *AgentDirectory {
	if len(names) == 0 {
		names = DefaultAgents
	}
	d := &AgentDirectory{names: make(map[string]string, len(names))}
	for k, v := range names {
		d.names[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return d
}

// FullName returns the name for the initials, or the initials themselves
// when unknown.
func (d *AgentDirectory) FullName(initials string) string {
	if name, ok := d.names[strings.ToUpper(strings.TrimSpace(initials))]; ok {
		return name
	}
	return initials
}
