package knowledge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrobuddy/backend/internal/label"
)

func TestDefault_Loads(t *testing.T) {
	kb, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", kb.Version())
	assert.Equal(t, 15, kb.Len())

	for _, id := range kb.IDs() {
		assert.True(t, label.IsCanonical(id), id)
		assert.Equal(t, id, label.Normalize(id))
	}
}

func TestGet(t *testing.T) {
	kb := MustDefault()

	r, ok := kb.Get("tomato_early_blight")
	require.True(t, ok)
	assert.Equal(t, "Tomato", r.Plant)
	assert.Equal(t, "Early Blight", r.Disease)
	assert.Equal(t, SeverityMedium, r.Severity)
	require.NotNil(t, r.ScientificName)
	assert.Equal(t, "Alternaria solani", *r.ScientificName)
	assert.Len(t, r.Symptoms, 5)
	assert.Len(t, r.Solutions, 7)

	_, ok = kb.Get("Tomato___Early_blight")
	assert.False(t, ok, "lookup is by canonical id only")

	_, ok = kb.Get("unknown_plant_unknown_disease")
	assert.False(t, ok)
}

func TestGet_HealthyRecord(t *testing.T) {
	kb := MustDefault()

	r, ok := kb.Get("potato_healthy")
	require.True(t, ok)
	assert.True(t, r.Healthy())
	assert.Nil(t, r.ScientificName)
	assert.Empty(t, r.Symptoms)
	assert.Empty(t, r.Causes)
	assert.Empty(t, r.TreatmentProducts)
	assert.NotEmpty(t, r.Solutions)
	assert.NotEmpty(t, r.Prevention)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scientificName":null`)
	assert.Contains(t, string(data), `"symptoms":[]`)
	assert.Contains(t, string(data), `"treatmentProducts":[]`)
}

func TestSolutions(t *testing.T) {
	kb := MustDefault()

	s, ok := kb.Solutions("potato_late_blight")
	require.True(t, ok)
	assert.Equal(t, "Late Blight", s.Disease)
	assert.Equal(t, "Potato", s.Plant)
	assert.Contains(t, s.TreatmentProducts, "Mandipropamid")

	_, ok = kb.Solutions("rose_black_spot")
	assert.False(t, ok)
}

func TestPlants(t *testing.T) {
	kb := MustDefault()

	plants := kb.Plants()
	names := make([]string, len(plants))
	for i, p := range plants {
		names[i] = p.Name
		assert.Equal(t, len(p.Diseases), p.SupportedDiseases)
	}

	assert.Equal(t, []string{"Tomato", "Potato", "Apple", "Grape", "Corn (maize)", "Pepper (bell)"}, names)
	assert.Equal(t, 6, plants[0].SupportedDiseases)
	assert.Equal(t, DiseaseSummary{ID: "tomato_early_blight", Name: "Early Blight", Severity: SeverityMedium}, plants[0].Diseases[0])
	assert.Equal(t, 3, plants[1].SupportedDiseases)
}

func TestStatistics(t *testing.T) {
	kb := MustDefault()

	stats := kb.Statistics()
	assert.Equal(t, 15, stats.TotalDiseases)
	assert.Equal(t, 6, stats.TotalPlants)
	assert.Equal(t, "1.0.0", stats.DatabaseVersion)
	assert.NotEmpty(t, stats.LastUpdated)

	total := 0
	for _, n := range stats.SeverityDistribution {
		total += n
	}
	assert.Equal(t, stats.TotalDiseases, total)
	assert.Equal(t, 3, stats.SeverityDistribution[SeverityNone])
	assert.Equal(t, 4, stats.SeverityDistribution[SeverityHigh])
	assert.Zero(t, stats.SeverityDistribution[SeverityLow])
}

func TestNew_Validation(t *testing.T) {
	valid := func() Record {
		return Record{
			ID:         "rose_black_spot",
			Plant:      "Rose",
			Disease:    "Black Spot",
			Severity:   SeverityLow,
			Solutions:  []string{"Remove infected leaves"},
			Prevention: []string{"Water at the base"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *Record)
		wantErr string
	}{
		{"non_canonical_id", func(r *Record) { r.ID = "Rose___Black_Spot" }, "not a canonical"},
		{"single_word_id", func(r *Record) { r.ID = "rose" }, "not a canonical"},
		{"missing_plant", func(r *Record) { r.Plant = "" }, "plant and disease are required"},
		{"bad_severity", func(r *Record) { r.Severity = "Critical" }, "unknown severity"},
		{"no_solutions", func(r *Record) { r.Solutions = nil }, "must not be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)

			_, err := New("1", []Record{r})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("duplicate_id", func(t *testing.T) {
		_, err := New("1", []Record{valid(), valid()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate id")
	})

	t.Run("nil_lists_become_empty", func(t *testing.T) {
		kb, err := New("1", []Record{valid()})
		require.NoError(t, err)

		r, _ := kb.Get("rose_black_spot")
		assert.NotNil(t, r.Symptoms)
		assert.NotNil(t, r.TreatmentProducts)
	})

	t.Run("missing_version", func(t *testing.T) {
		_, err := New("", []Record{valid()})
		assert.Error(t, err)
	})
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 2.0.0
diseases:
  - id: rose_black_spot
    plant: Rose
    disease: Black Spot
    scientificName: Diplocarpon rosae
    severity: Low
    description: Fungal leaf spot.
    symptoms: [Black spots]
    causes: [Wet foliage]
    solutions: [Remove infected leaves]
    prevention: [Water at the base]
    treatmentProducts: [Sulfur]
`), 0o600))

	kb, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", kb.Version())
	assert.Equal(t, []string{"rose_black_spot"}, kb.IDs())
}

func TestLoad_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1.0.0\ndiseases:\n  - id: rose_black_spot\n    colour: red\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colour")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
