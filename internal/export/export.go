// Package export renders batches for spreadsheets and other tools.
package export

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/foxzi/gridline/internal/models"
)

// TSVContentType is the media type of TSV output
const TSVContentType = "text/tab-separated-values; charset=utf-8"

// Headers are the TSV column titles in order
var Headers = []string{
	"Issue Date", "Project Name", "Primary Agent", "Secondary Agents", "Type", "Status",
	"Start Date", "Primary Company", "Additional Companies", "City Locations", "Country Locations",
	"Distributor", "Director", "Producers", "Showrunner", "Search URL",
}

// Row returns the TSV cells of one project
func Row(p models.Project) []string {
	cells := []string{
		p.IssueDate,
		p.ProjectName,
		p.PrimaryAgent,
		p.SecondaryAgents,
		p.Type,
		p.Status,
		p.StartDate,
		p.PrimaryCompany,
		strings.Join(p.AdditionalCompanies, "; "),
		strings.Join(p.CityLocations, "; "),
		strings.Join(p.CountryLocations, "/ "),
		p.Distributor,
		strings.Join(p.Director, "; "),
		strings.Join(p.Producers, "; "),
		strings.Join(p.Showrunner, "; "),
		p.SearchURL,
	}
	for i, c := range cells {
		cells[i] = strings.ReplaceAll(c, "\t", " ")
	}
	return cells
}

// TSV renders the header line followed by one line per project.
// No projects yields an empty string.
func TSV(projects []models.Project) string {
	if len(projects) == 0 {
		return ""
	}

	lines := make([]string, 0, len(projects)+1)
	lines = append(lines, strings.Join(Headers, "\t"))
	for _, p := range projects {
		lines = append(lines, strings.Join(Row(p), "\t"))
	}
	return strings.Join(lines, "\n")
}

// WriteTSV writes TSV(projects) to w
func WriteTSV(w io.Writer, projects []models.Project) error {
	_, err := io.WriteString(w, TSV(projects))
	return err
}

// WriteJSON writes v as indented JSON
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// FileName suggests a download name for a batch's TSV, e.g.
// gridline-2026-03-05-1a2b3c4d.tsv
func FileName(b *models.Batch) string {
	name := "gridline"
	if t, err := time.Parse(models.IssueDateLayout, b.IssueDate); err == nil {
		name += "-" + t.Format("2006-01-02")
	}
	if id := b.ID; id != "" {
		if len(id) > 8 {
			id = id[:8]
		}
		name += "-" + id
	}
	return name + ".tsv"
}
