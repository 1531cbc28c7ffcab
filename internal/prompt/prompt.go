// Package prompt holds the instructions sent to the extraction model and the
// schemas its answers are checked against.
package prompt

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

//go:embed assets/projects_system.txt
var defaultProjectsSystem string

//go:embed assets/contacts_system.txt
var defaultContactsSystem string

//go:embed assets/projects_schema.json
var projectsSchema string

//go:embed assets/contacts_schema.json
var contactsSchema string

// Overrides points at files replacing the embedded system prompts
type Overrides struct {
	ProjectsPath string
	ContactsPath string
}

// Set is the pair of system prompts used for a run
type Set struct {
	Projects string
	Contacts string
}

// Load returns the embedded prompts, replaced by override files where given.
// An unreadable override falls back to the embedded prompt.
func Load(o Overrides, logger *slog.Logger) Set {
	return Set{
		Projects: readOverride(o.ProjectsPath, defaultProjectsSystem, logger),
		Contacts: readOverride(o.ContactsPath, defaultContactsSystem, logger),
	}
}

// Default returns the embedded prompts
func Default() Set {
	return Set{Projects: defaultProjectsSystem, Contacts: defaultContactsSystem}
}

func readOverride(path, fallback string, logger *slog.Logger) string {
	if path == "" {
		return fallback
	}
	content, err := os.ReadFile(path)
	if err != nil || strings.TrimSpace(string(content)) == "" {
		if logger != nil {
			logger.Warn("prompt override not usable, using embedded prompt", "path", path, "error", err)
		}
		return fallback
	}
	return string(content)
}

// ProjectsUser builds the user message for project extraction
func ProjectsUser(issueDate, targetList, pdfText string) string {
	return fmt.Sprintf(`Here is the Issue Date: %s.
Here is the Target List of interest:
%s

Here is the raw PDF Text content:
%s
`, issueDate, targetList, pdfText)
}

// ContactsUser builds the user message for contact indexing
func ContactsUser(targetList, pdfText string) string {
	return fmt.Sprintf(`Here is the Target List of projects to focus on:
%s

Here is the raw PDF Text content:
%s
`, targetList, pdfText)
}

// ProjectsSchema is the JSON Schema of the project extraction answer
func ProjectsSchema() string { return projectsSchema }

// ContactsSchema is the JSON Schema of the contact indexing answer
func ContactsSchema() string { return contactsSchema }
