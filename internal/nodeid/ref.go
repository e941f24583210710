package nodeid

import (
	"fmt"
	"regexp"
	"strings"
)

// segmentRegex matches a single reference segment.
var segmentRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Ref identifies a node by its prototype and instance name.
type Ref struct {
	Prototype string
	Name      string
}

// New validates both segments and returns the reference.
func New(prototype, name string) (Ref, error) {
	if err := validateSegment(prototype); err != nil {
		return Ref{}, fmt.Errorf("invalid prototype: %w", err)
	}
	if err := validateSegment(name); err != nil {
		return Ref{}, fmt.Errorf("invalid name: %w", err)
	}
	return Ref{Prototype: prototype, Name: name}, nil
}

// Parse reads a reference from its canonical `prototype.name` form.
func Parse(raw string) (Ref, error) {
	if raw == "" {
		return Ref{}, fmt.Errorf("reference cannot be empty")
	}
	prototype, name, ok := strings.Cut(raw, ".")
	if !ok {
		return Ref{}, fmt.Errorf("reference %q must have the form prototype.name", raw)
	}
	if strings.Contains(name, ".") {
		return Ref{}, fmt.Errorf("reference %q has more than two segments", raw)
	}
	return New(prototype, name)
}

// String returns the canonical form.
func (r Ref) String() string {
	return r.Prototype + "." + r.Name
}

func validateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("segment cannot be empty")
	}
	if s == "-" {
		return fmt.Errorf("invalid segment name: %q", s)
	}
	if !segmentRegex.MatchString(s) {
		return fmt.Errorf("invalid segment format: %q", s)
	}
	return nil
}
