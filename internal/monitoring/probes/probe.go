// Package probes implements one Prober per service type. Grounded on
// the teacher's "no class hierarchy for network clients" convention
// (internal/app's provider clients each implement one small interface,
// dispatched by a map keyed on a type tag rather than type-switched
// inheritance) — here applied to monitoring probes: a closed set of
// probe kinds behind one contract, dispatched by tag.
package probes

import (
	"context"
	"time"

	"github.com/guardant/sentinel/internal/domain/checkresult"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
)

// Prober executes one check against a descriptor. Implementations:
//   - MUST respect deadline and abandon in-progress I/O once it elapses
//   - MUST NOT mutate desc
//   - MUST classify the outcome into up/down/degraded/unknown in the
//     returned Result, with a human-readable message
//   - MUST NOT retry internally — that is the engine's job
//   - return a non-nil error only for a transport-class failure (the
//     engine may retry those); a semantic failure (e.g. assertion
//     violated) is reported as Result{Status: down} with a nil error
type Prober interface {
	Type() servicedef.Type
	Check(ctx context.Context, desc registry.Descriptor, deadline time.Time) (checkresult.Result, error)
}

// result is a small helper so every prober builds a Result the same way.
func result(desc registry.Descriptor, status servicedef.Status, message string, rt time.Duration, hasResponse bool, meta map[string]any) checkresult.Result {
	return checkresult.Result{
		ServiceID:    desc.ID,
		NestID:       desc.NestID,
		Status:       status,
		Message:      message,
		ResponseTime: rt,
		HasResponse:  hasResponse,
		Timestamp:    time.Now(),
		Metadata:     meta,
	}
}
