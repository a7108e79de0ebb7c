package probes

import (
	"context"
	"fmt"
	"time"

	"github.com/guardant/sentinel/internal/domain/checkresult"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
)

// HeartbeatProbe does not dial out: it checks that an external system
// has pushed a heartbeat recently enough. LastSeen supplies the most
// recent push timestamp for a service id (a zero time means no
// heartbeat has ever been received; with LastSeen unset the probe
// reports unknown).
type HeartbeatProbe struct {
	LastSeen func(serviceID string) time.Time
}

func (HeartbeatProbe) Type() servicedef.Type { return servicedef.TypeHeartbeat }

func (p HeartbeatProbe) Check(_ context.Context, desc registry.Descriptor, _ time.Time) (checkresult.Result, error) {
	cfg := desc.Heartbeat
	if cfg == nil || cfg.ExpectedInterval <= 0 {
		return result(desc, servicedef.StatusUnknown, "missing heartbeat config", 0, false, nil), nil
	}
	if p.LastSeen == nil {
		return result(desc, servicedef.StatusUnknown, "no heartbeat source configured", 0, false, nil), nil
	}

	last := p.LastSeen(desc.ID)
	if last.IsZero() {
		return result(desc, servicedef.StatusDown, "no heartbeat ever received", 0, false, nil), nil
	}

	age := time.Since(last)
	threshold := cfg.ExpectedInterval + cfg.Tolerance
	meta := map[string]any{"last_seen": last, "age_seconds": age.Seconds()}

	if age <= threshold {
		return result(desc, servicedef.StatusUp, fmt.Sprintf("last heartbeat %s ago, within %s", age.Round(time.Second), threshold), 0, false, meta), nil
	}
	return result(desc, servicedef.StatusDown, fmt.Sprintf("last heartbeat %s ago, exceeds %s", age.Round(time.Second), threshold), 0, false, meta), nil
}
