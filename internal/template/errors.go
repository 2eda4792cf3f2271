package template

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no template exists for the requested slug.
var ErrNotFound = errors.New("template not found")

// MissingVariableError reports required variables absent from a render
// context. Rendering does not proceed partially: either every required
// variable is present or nothing is rendered.
type MissingVariableError struct {
	Slug  string
	Names []string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("template %q: missing required variables: %s", e.Slug, strings.Join(e.Names, ", "))
}
