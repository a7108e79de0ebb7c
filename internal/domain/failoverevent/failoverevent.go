// Package failoverevent defines the immutable, append-only record of a
// triggered failover.
package failoverevent

import (
	"time"

	"github.com/guardant/sentinel/internal/domain/failoverrule"
)

// Status is the failover event's state machine position.
type Status string

const (
	StatusTriggered  Status = "triggered"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRecovering Status = "recovering"
	StatusRecovered  Status = "recovered"
)

// Event is an immutable record of one source→target transition.
// References to rule/source/target are ids, never pointers, following
// an arena-and-index style so the event log stays free of cycles.
type Event struct {
	ID               string
	Timestamp        time.Time
	RuleID           string
	SourceEndpointID string
	TargetEndpointID string
	Status           Status
	Conditions       []failoverrule.TriggerCondition
	AffectedConnections int
	Duration         time.Duration
	HasDuration      bool
	RecoveredAt      time.Time
	HasRecoveredAt   bool
}
