package diagnosis

import "fmt"

// UnknownDiseaseError is returned when the top prediction normalizes to an id
// the knowledge base does not contain.
type UnknownDiseaseError struct {
	DiseaseID string
	RawLabel  string
}

func (e *UnknownDiseaseError) Error() string {
	return fmt.Sprintf("disease information not found for %q (predicted %q)", e.DiseaseID, e.RawLabel)
}
