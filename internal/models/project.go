package models

// Project is one production listing as returned by the project extraction call.
// Fields are passed through from the model response untouched, apart from
// null values being replaced by empty strings and slices.
type Project struct {
	IssueDate           string   `json:"issueDate"`
	ProjectName         string   `json:"projectName"`
	PrimaryAgent        string   `json:"primaryAgent"`
	SecondaryAgents     string   `json:"secondaryAgents"` // semicolon separated
	Type                string   `json:"type"`
	Status              string   `json:"status"`
	StartDate           string   `json:"startDate"`
	PrimaryCompany      string   `json:"primaryCompany"`
	AdditionalCompanies []string `json:"additionalCompanies"`
	CityLocations       []string `json:"cityLocations"`
	CountryLocations    []string `json:"countryLocations"`
	Distributor         string   `json:"distributor"`
	Director            []string `json:"director"`
	Producers           []string `json:"producers"`
	Showrunner          []string `json:"showrunner"`
	SearchURL           string   `json:"searchUrl"`
}

// Companies returns the primary company followed by the additional ones,
// skipping empty names.
func (p *Project) Companies() []string {
	var out []string
	if p.PrimaryCompany != "" {
		out = append(out, p.PrimaryCompany)
	}
	for _, c := range p.AdditionalCompanies {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// IsFilm reports whether the project type reads as a film
func (p *Project) IsFilm() bool {
	return containsFold(p.Type, "film")
}

// SecondaryAgentList splits the semicolon separated secondary agents field.
func (p *Project) SecondaryAgentList() []string {
	return splitInitials(p.SecondaryAgents)
}

// NormalizeProjects replaces null slices with empty ones so that every
// project serializes the same way regardless of what the model omitted.
func NormalizeProjects(projects []Project) []Project {
	if projects == nil {
		return []Project{}
	}
	for i := range projects {
		p := &projects[i]
		p.AdditionalCompanies = nonNil(p.AdditionalCompanies)
		p.CityLocations = nonNil(p.CityLocations)
		p.CountryLocations = nonNil(p.CountryLocations)
		p.Director = nonNil(p.Director)
		p.Producers = nonNil(p.Producers)
		p.Showrunner = nonNil(p.Showrunner)
	}
	return projects
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
