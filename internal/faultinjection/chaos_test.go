package faultinjection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jules-labs/eventcore/internal/storage"
)

func TestRunExperimentHypothesisHoldsOnStableMetric(t *testing.T) {
	engine := NewEngine()
	exp := Experiment{
		Name:       "always_healthy",
		Hypothesis: "a metric that never dips stays within threshold for the whole window",
		SteadyState: []Metric{
			{Name: "uptime", Query: func(context.Context) (float64, error) { return 1, nil }, Threshold: Threshold{Operator: ">=", Value: 1}},
		},
		Method:     []Action{{Target: "noop", Execute: func(context.Context) error { return nil }}},
		Rollback:   []Action{{Target: "noop", Execute: func(context.Context) error { return nil }}},
		Validation: []Assertion{{Metric: "uptime", Condition: func(v float64) bool { return v >= 1 }}},
		Duration:   1100 * time.Millisecond,
	}

	result, err := engine.RunExperiment(context.Background(), exp)
	require.NoError(t, err)
	require.True(t, result.SteadyStateValid)
	require.True(t, result.HypothesisHeld)
	require.Empty(t, result.Violations)
	require.Len(t, engine.Results(), 1)
}

func TestRunExperimentAbortsWhenSteadyStateAlreadyViolated(t *testing.T) {
	engine := NewEngine()
	exp := Experiment{
		Name: "already_broken",
		SteadyState: []Metric{
			{Name: "uptime", Query: func(context.Context) (float64, error) { return 0, nil }, Threshold: Threshold{Operator: ">=", Value: 1}},
		},
		Duration: 100 * time.Millisecond,
	}

	result, err := engine.RunExperiment(context.Background(), exp)
	require.Error(t, err)
	require.False(t, result.SteadyStateValid)
	require.NotEmpty(t, result.Violations)
}

func TestRunExperimentRecordsErrorEventsFromFailingMethodAction(t *testing.T) {
	engine := NewEngine()
	exp := Experiment{
		Name: "method_fails",
		SteadyState: []Metric{
			{Name: "uptime", Query: func(context.Context) (float64, error) { return 1, nil }, Threshold: Threshold{Operator: ">=", Value: 1}},
		},
		Method: []Action{{Target: "faulty", Execute: func(context.Context) error { return errors.New("injection failed") }}},
		Duration: 1100 * time.Millisecond,
	}

	result, err := engine.RunExperiment(context.Background(), exp)
	require.NoError(t, err)
	require.Len(t, result.ErrorEvents, 1)
	require.Equal(t, "faulty", result.ErrorEvents[0].Component)
}

// TestBackendTimeoutExperimentRecoversAfterFaultClears exercises
// BackendTimeoutExperiment against a real SQLite backend routed through
// an actual gobreaker-backed CircuitBreaker. The fault is cleared
// concurrently partway through the observation window (rather than
// waiting for the engine's own end-of-run rollback) so the final
// observation reflects a healthy probe.
func TestBackendTimeoutExperimentRecoversAfterFaultClears(t *testing.T) {
	backend, err := storage.NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	require.NoError(t, backend.Initialize(context.Background()))
	defer backend.Close()

	breaker := storage.NewCircuitBreaker("test-backend")
	exp := BackendTimeoutExperiment(backend, breaker, "probe-aggregate")
	exp.Duration = 2200 * time.Millisecond

	go func() {
		time.Sleep(1100 * time.Millisecond)
		_ = exp.Rollback[0].Execute(context.Background())
	}()

	engine := NewEngine()
	result, err := engine.RunExperiment(context.Background(), exp)
	require.NoError(t, err)
	require.True(t, result.SteadyStateValid)
	require.True(t, result.HypothesisHeld, "the probe should recover once the fault clears mid-window")
}
