// Package checkresult defines the typed output of a single probe
// execution.
package checkresult

import (
	"time"

	"github.com/guardant/sentinel/internal/domain/servicedef"
)

// Result is emitted per probe execution.
type Result struct {
	ServiceID     string
	NestID        string
	Status        servicedef.Status
	Message       string
	ResponseTime  time.Duration // zero means "not applicable"
	HasResponse   bool
	Timestamp     time.Time
	CheckDuration time.Duration
	Attempt       int
	Metadata      map[string]any
}
