// Package nest defines the tenant identifier: the sole isolation
// boundary for every persisted artifact in the system.
package nest

import (
	"fmt"
	"regexp"
)

// maxIDLength bounds a nest id.
const maxIDLength = 64

var idPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ID is an opaque tenant identifier: lowercase alphanumeric plus `-_`,
// at most 64 characters.
type ID string

// Validate checks the id against the format invariant.
func (id ID) Validate() error {
	s := string(id)
	if s == "" {
		return fmt.Errorf("nest id must not be empty")
	}
	if len(s) > maxIDLength {
		return fmt.Errorf("nest id exceeds %d characters", maxIDLength)
	}
	if !idPattern.MatchString(s) {
		return fmt.Errorf("nest id %q must be lowercase alphanumeric plus '-_'", s)
	}
	return nil
}

func (id ID) String() string { return string(id) }
