// Package gquery guards user-derived fragments that end up interpolated into
// SPARQL or Cypher text. Labels and IRIs cannot always be bound as query
// parameters, so anything spliced into query text is validated here first.
package gquery

import (
	"fmt"
	"regexp"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
)

// InjectionCheckResult contains the result of an injection check on a value
// destined for query text.
type InjectionCheckResult struct {
	Detected    bool   // True if an injection pattern was detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	FieldName   string // Name of the field that failed the check
	FieldValue  string // The value that was checked
}

// labelPattern matches identifiers safe to use as a graph node label. The
// first character must be a letter; the rest may add digits and underscores.
var labelPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// iriPattern is a conservative shape for absolute IRIs. It rejects angle
// brackets, whitespace and quotes, which is what matters when the IRI is
// wrapped in <...> inside SPARQL text.
var iriPattern = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://[^\s<>"{}|\\^` + "`" + `]+$`)

// CheckFragment uses libinjection to detect injection patterns in a value
// that will be interpolated into query text. Returns nil when the value is
// clean.
func CheckFragment(fieldName, value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if isSQLi {
		return &InjectionCheckResult{
			Detected:    true,
			Fingerprint: string(fingerprint),
			FieldName:   fieldName,
			FieldValue:  value,
		}
	}
	return nil
}

// ValidateLabel checks that a string is usable as a node label in Cypher
// text. Labels cannot be bound as parameters, so they must be shape-checked
// before splicing.
func ValidateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("label must not be empty: %w", apperrors.ErrValidation)
	}
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("label %q contains characters not allowed in a node label: %w",
			label, apperrors.ErrValidation)
	}
	if result := CheckFragment("label", label); result != nil {
		return fmt.Errorf("label %q rejected (fingerprint %s): %w",
			label, result.Fingerprint, apperrors.ErrValidation)
	}
	return nil
}

// ValidateIRI checks that a string is a well-formed absolute IRI safe to
// wrap in angle brackets inside SPARQL text.
func ValidateIRI(iri string) error {
	if iri == "" {
		return fmt.Errorf("IRI must not be empty: %w", apperrors.ErrValidation)
	}
	if !iriPattern.MatchString(iri) {
		return fmt.Errorf("IRI %q is not a valid absolute IRI: %w", iri, apperrors.ErrValidation)
	}
	return nil
}

// EscapeStringLiteral makes a value safe to embed as a quoted string inside
// SPARQL text. Prefer parameter binding; this exists for the few positions
// SPARQL has no binding for.
func EscapeStringLiteral(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return r.Replace(s)
}
