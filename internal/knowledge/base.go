// Package knowledge holds the static disease knowledge base. It is loaded
// once at start from YAML and is read-only afterwards, so a *Base is safe for
// concurrent use without locking.
package knowledge

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agrobuddy/backend/internal/label"
)

//go:embed diseases.yaml
var defaultDocument []byte

type document struct {
	Version  string   `yaml:"version"`
	Diseases []Record `yaml:"diseases"`
}

type Base struct {
	version  string
	loadedAt time.Time
	records  []*Record
	byID     map[string]*Record
	plants   []string
}

// Default returns the knowledge base compiled into the binary.
func Default() (*Base, error) {
	return Parse(defaultDocument)
}

// MustDefault is Default for tests and static initialization.
func MustDefault() *Base {
	kb, err := Default()
	if err != nil {
		panic(err)
	}
	return kb
}

// Load reads the knowledge base from path, or the built-in one when path is
// empty.
func Load(path string) (*Base, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge base: %w", err)
	}

	kb, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return kb, nil
}

func Parse(data []byte) (*Base, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge base: %w", err)
	}

	return New(doc.Version, doc.Diseases)
}

// New validates records and builds the lookup indexes. The records are copied.
func New(version string, records []Record) (*Base, error) {
	if version == "" {
		return nil, errors.New("knowledge base version is required")
	}
	if len(records) == 0 {
		return nil, errors.New("knowledge base has no diseases")
	}

	kb := &Base{
		version:  version,
		loadedAt: time.Now().UTC(),
		records:  make([]*Record, 0, len(records)),
		byID:     make(map[string]*Record, len(records)),
	}

	seenPlant := make(map[string]bool)
	for i := range records {
		r := records[i]
		if err := validate(&r); err != nil {
			return nil, fmt.Errorf("disease #%d: %w", i+1, err)
		}
		if _, dup := kb.byID[r.ID]; dup {
			return nil, fmt.Errorf("disease #%d: duplicate id %q", i+1, r.ID)
		}

		r.Symptoms = nonNil(r.Symptoms)
		r.Causes = nonNil(r.Causes)
		r.Solutions = nonNil(r.Solutions)
		r.Prevention = nonNil(r.Prevention)
		r.TreatmentProducts = nonNil(r.TreatmentProducts)

		kb.records = append(kb.records, &r)
		kb.byID[r.ID] = &r

		if !seenPlant[r.Plant] {
			seenPlant[r.Plant] = true
			kb.plants = append(kb.plants, r.Plant)
		}
	}

	return kb, nil
}

func validate(r *Record) error {
	if !label.IsCanonical(r.ID) {
		return fmt.Errorf("id %q is not a canonical <plant>_<condition> identifier", r.ID)
	}
	if r.Plant == "" || r.Disease == "" {
		return fmt.Errorf("%s: plant and disease are required", r.ID)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%s: unknown severity %q", r.ID, r.Severity)
	}
	if len(r.Solutions) == 0 || len(r.Prevention) == 0 {
		return fmt.Errorf("%s: solutions and prevention must not be empty", r.ID)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (kb *Base) Version() string {
	return kb.version
}

func (kb *Base) Len() int {
	return len(kb.records)
}

// Get returns the record for a canonical id. A miss is an ordinary outcome.
func (kb *Base) Get(id string) (*Record, bool) {
	r, ok := kb.byID[id]
	return r, ok
}

// IDs returns the canonical ids in declaration order.
func (kb *Base) IDs() []string {
	ids := make([]string, len(kb.records))
	for i, r := range kb.records {
		ids[i] = r.ID
	}
	return ids
}

func (kb *Base) Records() []*Record {
	out := make([]*Record, len(kb.records))
	copy(out, kb.records)
	return out
}

func (kb *Base) Solutions(id string) (*Solutions, bool) {
	r, ok := kb.byID[id]
	if !ok {
		return nil, false
	}

	return &Solutions{
		Disease:           r.Disease,
		Plant:             r.Plant,
		Solutions:         r.Solutions,
		Prevention:        r.Prevention,
		TreatmentProducts: r.TreatmentProducts,
	}, true
}

// Plants lists the distinct plants in first-seen order with their diseases.
func (kb *Base) Plants() []PlantSummary {
	summaries := make([]PlantSummary, 0, len(kb.plants))
	index := make(map[string]int, len(kb.plants))

	for _, name := range kb.plants {
		index[name] = len(summaries)
		summaries = append(summaries, PlantSummary{Name: name, Diseases: []DiseaseSummary{}})
	}

	for _, r := range kb.records {
		s := &summaries[index[r.Plant]]
		s.Diseases = append(s.Diseases, DiseaseSummary{
			ID:       r.ID,
			Name:     r.Disease,
			Severity: r.Severity,
		})
		s.SupportedDiseases++
	}

	return summaries
}

func (kb *Base) Statistics() Statistics {
	distribution := make(map[Severity]int)
	for _, r := range kb.records {
		distribution[r.Severity]++
	}

	plants := make([]string, len(kb.plants))
	copy(plants, kb.plants)

	return Statistics{
		TotalDiseases:        len(kb.records),
		TotalPlants:          len(kb.plants),
		SeverityDistribution: distribution,
		SupportedPlants:      plants,
		DatabaseVersion:      kb.version,
		LastUpdated:          kb.loadedAt.Format(time.RFC3339),
	}
}
