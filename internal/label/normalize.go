// Package label maps the loosely formatted class labels emitted by
// predictors onto the canonical disease identifiers used as knowledge base
// keys.
package label

import (
	"regexp"
	"strings"
)

// whitespaceRun matches the same characters as \s in JavaScript: RE2's \s is
// ASCII only, so vertical tab, NEL, BOM and the Unicode separators are added.
var whitespaceRun = regexp.MustCompile(`[\s\v\p{Z}\x{85}\x{FEFF}]+`)

// Normalize lowercases raw, replaces every whitespace run with a single
// underscore and collapses every "___" group into "_". The triple-underscore
// pass repeats until none is left, so Normalize(Normalize(x)) == Normalize(x)
// for every input.
//
//	Normalize("Tomato___Early_Blight") == "tomato_early_blight"
//	Normalize("tomato early blight")   == "tomato_early_blight"
func Normalize(raw string) string {
	s := strings.ToLower(raw)
	s = whitespaceRun.ReplaceAllString(s, "_")
	for strings.Contains(s, "___") {
		s = strings.ReplaceAll(s, "___", "_")
	}
	return s
}

var canonical = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)+$`)

// IsCanonical reports whether id has the <plant>_<condition> shape of a
// knowledge base key and is a fixed point of Normalize.
func IsCanonical(id string) bool {
	return canonical.MatchString(id) && Normalize(id) == id
}
