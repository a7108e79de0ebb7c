// Package failoverrule defines a rule that triggers and recovers
// failovers across endpoints.
package failoverrule

import "time"

// ConditionMetric names the rolling-metric source a trigger condition
// compares against.
type ConditionMetric string

const (
	MetricResponseTime ConditionMetric = "response_time"
	MetricErrorRate    ConditionMetric = "error_rate"
	MetricAvailability ConditionMetric = "availability"
	MetricCustom       ConditionMetric = "custom"
)

// Operator compares a metric's current value against Threshold.
type Operator string

const (
	OpGreaterThan Operator = ">"
	OpLessThan    Operator = "<"
	OpGreaterEq   Operator = ">="
	OpLessEq      Operator = "<="
	OpEqual       Operator = "=="
)

// TriggerCondition is one condition that must hold for a failover to
// fire; all of a rule's conditions must hold simultaneously.
type TriggerCondition struct {
	Metric    ConditionMetric
	Operator  Operator
	Threshold float64
}

// SelectionMode picks the failover target among healthy candidates.
type SelectionMode string

const (
	SelectHighestPriority SelectionMode = "highest_priority"
	SelectLowestLoad      SelectionMode = "lowest_load"
	SelectRandom          SelectionMode = "random"
	SelectClosestRegion   SelectionMode = "closest_region"
	SelectRoundRobin      SelectionMode = "round_robin"
	SelectCustom          SelectionMode = "custom"
)

// StrategyType is the failover execution strategy.
type StrategyType string

const (
	StrategyImmediate           StrategyType = "immediate"
	StrategyGradual             StrategyType = "gradual"
	StrategyBlueGreen           StrategyType = "blue_green"
	StrategyCanary              StrategyType = "canary"
	StrategyWeightedRoundRobin  StrategyType = "weighted_round_robin"
)

// FailoverStrategy configures how traffic moves from source to target.
type FailoverStrategy struct {
	Type          StrategyType
	Selection     SelectionMode
	Steps         int           // GRADUAL: number of ramp steps, default 5
	DrainTimeout  time.Duration // GRADUAL: total drain time, split across Steps
}

// RecoveryType selects automatic vs manual recovery.
type RecoveryType string

const (
	RecoveryAutomatic RecoveryType = "automatic"
	RecoveryManual    RecoveryType = "manual"
)

// RecoveryStrategy configures how a recovered source ramps traffic back.
type RecoveryStrategy struct {
	Type                     RecoveryType
	ConsecutiveSuccessRequired int
	RecoveryDelay            time.Duration
	InitialPercentage        int
	IncrementPercentage      int
	IncrementInterval        time.Duration
}

// Rule is a failover rule evaluated against every endpoint whose name
// matches ServicePattern.
type Rule struct {
	ID               string
	Name             string
	ServicePattern   string // regex over endpoint name
	TriggerConditions []TriggerCondition
	FailoverStrategy FailoverStrategy
	RecoveryStrategy RecoveryStrategy
	CooldownPeriod   time.Duration
	Priority         int
	Enabled          bool
}
