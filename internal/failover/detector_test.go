package failover

import (
	"testing"
	"time"

	"github.com/guardant/sentinel/internal/domain/failoverrule"
)

func TestConditionsHoldRequiresAllConditions(t *testing.T) {
	w := newRollingWindow(time.Minute)
	now := time.Now()
	for i := 0; i < 10; i++ {
		w.Add(Sample{At: now, Success: i < 8, ResponseTime: 50 * time.Millisecond})
	}

	conditions := []failoverrule.TriggerCondition{
		{Metric: failoverrule.MetricErrorRate, Operator: failoverrule.OpGreaterEq, Threshold: 0.1},
		{Metric: failoverrule.MetricAvailability, Operator: failoverrule.OpLessThan, Threshold: 0.5},
	}
	if conditionsHold(conditions, w) {
		t.Fatal("expected conditions not to hold since availability is 0.8, not < 0.5")
	}

	singleCondition := conditions[:1]
	if !conditionsHold(singleCondition, w) {
		t.Fatal("expected the error-rate-only condition to hold")
	}
}

func TestConditionsHoldEmptyConditionsNeverTrigger(t *testing.T) {
	w := newRollingWindow(time.Minute)
	if conditionsHold(nil, w) {
		t.Fatal("a rule with no conditions must never trigger")
	}
}

func TestConditionHoldsResponseTimeUsesMilliseconds(t *testing.T) {
	w := newRollingWindow(time.Minute)
	w.Add(Sample{At: time.Now(), Success: true, ResponseTime: 500 * time.Millisecond})

	c := failoverrule.TriggerCondition{Metric: failoverrule.MetricResponseTime, Operator: failoverrule.OpGreaterThan, Threshold: 400}
	if !conditionHolds(c, w) {
		t.Fatal("expected 500ms > 400ms threshold to hold")
	}
}

func TestConditionHoldsCustomMetricNeverHolds(t *testing.T) {
	w := newRollingWindow(time.Minute)
	w.Add(Sample{At: time.Now(), Success: false})

	c := failoverrule.TriggerCondition{Metric: failoverrule.MetricCustom, Operator: failoverrule.OpGreaterThan, Threshold: 0}
	if conditionHolds(c, w) {
		t.Fatal("a custom metric with no scoring source must never hold")
	}
}

func TestCompareOperators(t *testing.T) {
	cases := []struct {
		op   failoverrule.Operator
		a, b float64
		want bool
	}{
		{failoverrule.OpGreaterThan, 2, 1, true},
		{failoverrule.OpLessThan, 1, 2, true},
		{failoverrule.OpGreaterEq, 1, 1, true},
		{failoverrule.OpLessEq, 1, 1, true},
		{failoverrule.OpEqual, 1, 1, true},
		{failoverrule.OpEqual, 1, 2, false},
	}
	for _, c := range cases {
		if got := compare(c.a, c.op, c.b); got != c.want {
			t.Fatalf("compare(%v, %q, %v) = %v, want %v", c.a, c.op, c.b, got, c.want)
		}
	}
}
