package knowledge

import "fmt"

type Severity string

const (
	SeverityNone   Severity = "None"
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// Severities lists every severity in ascending order.
var Severities = []Severity{SeverityNone, SeverityLow, SeverityMedium, SeverityHigh}

func (s Severity) Valid() bool {
	switch s {
	case SeverityNone, SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Record is one knowledge base entry. Records are shared between requests and
// must be treated as read-only.
type Record struct {
	ID                string   `yaml:"id"                json:"id"`
	Plant             string   `yaml:"plant"             json:"plant"`
	Disease           string   `yaml:"disease"           json:"disease"`
	ScientificName    *string  `yaml:"scientificName"    json:"scientificName"`
	Severity          Severity `yaml:"severity"          json:"severity"`
	Description       string   `yaml:"description"       json:"description"`
	Symptoms          []string `yaml:"symptoms"          json:"symptoms"`
	Causes            []string `yaml:"causes"            json:"causes"`
	Solutions         []string `yaml:"solutions"         json:"solutions"`
	Prevention        []string `yaml:"prevention"        json:"prevention"`
	TreatmentProducts []string `yaml:"treatmentProducts" json:"treatmentProducts"`
}

// Healthy reports whether the record describes a plant without disease.
func (r *Record) Healthy() bool {
	return r.Severity == SeverityNone
}

type Solutions struct {
	Disease           string   `json:"disease"`
	Plant             string   `json:"plant"`
	Solutions         []string `json:"solutions"`
	Prevention        []string `json:"prevention"`
	TreatmentProducts []string `json:"treatmentProducts"`
}

type DiseaseSummary struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
}

type PlantSummary struct {
	Name              string           `json:"name"`
	SupportedDiseases int              `json:"supportedDiseases"`
	Diseases          []DiseaseSummary `json:"diseases"`
}

type Statistics struct {
	TotalDiseases        int              `json:"totalDiseases"`
	TotalPlants          int              `json:"totalPlants"`
	SeverityDistribution map[Severity]int `json:"severityDistribution"`
	SupportedPlants      []string         `json:"supportedPlants"`
	DatabaseVersion      string           `json:"databaseVersion"`
	LastUpdated          string           `json:"lastUpdated"`
}
