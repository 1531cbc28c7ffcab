package models

import (
	"strings"
	"unicode"
)

// Target is one line of a target list: a project name and the analyst
// initials marked against it, e.g. "The Good Samaritan" (HD & ZH).
type Target struct {
	Name   string   `json:"name"`
	Agents []string `json:"agents"`
}

// ParseTargetList reads a pasted target list. It only serves display
// purposes; the raw text is what gets sent to the model.
func ParseTargetList(text string) []Target {
	var targets []Target
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		name := line
		var agents []string
		if open := strings.LastIndex(line, "("); open >= 0 && strings.HasSuffix(line, ")") {
			agents = splitInitials(line[open+1 : len(line)-1])
			name = strings.TrimSpace(line[:open])
		}

		name = strings.Trim(name, "\"'“”‘’ ")
		if name == "" {
			continue
		}
		targets = append(targets, Target{Name: name, Agents: agents})
	}
	return targets
}

func splitInitials(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '&' || r == ',' || r == '/' || r == ';' || unicode.IsSpace(r)
	})
	var out []string
	for _, f := range fields {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f == "" || f == "AND" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
