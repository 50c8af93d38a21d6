// Package template renders {{dot.path}} merge fields against a run context.
//
// This is flat substitution only: no conditionals, no loops. Authored
// content stays auditable because every placeholder is a plain path.
package template

import (
	"fmt"
	"strings"

	"github.com/clubflow/clubflow/pkg/models"
)

const (
	openMarker  = "{{"
	closeMarker = "}}"
)

// Render substitutes every {{ path }} placeholder in the template with the
// value resolved from the context. Whitespace inside the braces is
// tolerated. Missing paths and non-mapping intermediates render as the
// empty string, never an error.
func Render(tmpl string, rc *models.Context) string {
	if !strings.Contains(tmpl, openMarker) {
		return tmpl
	}

	var out strings.Builder

	out.Grow(len(tmpl))

	rest := tmpl

	for {
		start := strings.Index(rest, openMarker)
		if start == -1 {
			out.WriteString(rest)

			break
		}

		end := strings.Index(rest[start:], closeMarker)
		if end == -1 {
			// Unterminated placeholder, emit verbatim.
			out.WriteString(rest)

			break
		}

		out.WriteString(rest[:start])

		path := strings.TrimSpace(rest[start+len(openMarker) : start+end])
		out.WriteString(resolve(path, rc))

		rest = rest[start+end+len(closeMarker):]
	}

	return out.String()
}

func resolve(path string, rc *models.Context) string {
	if path == "" || rc == nil {
		return ""
	}

	value, ok := rc.Lookup(path)
	if !ok || value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case float64:
		// Trim the trailing ".000000" fmt would add for whole numbers.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}

		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
