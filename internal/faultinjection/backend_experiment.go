package faultinjection

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jules-labs/eventcore/internal/storage"
)

// BackendTimeoutExperiment builds an Experiment whose steady state is
// "GetAggregateVersion succeeds", whose fault is a run of forced
// timeouts routed through breaker, and whose hypothesis is that the
// breaker trips and the backend keeps answering once the fault clears —
// exercising storage.CircuitBreaker end to end rather than only at
// construction time.
func BackendTimeoutExperiment(backend storage.Backend, breaker *storage.CircuitBreaker, probeAggregateID string) Experiment {
	var faultActive atomic.Bool

	probe := func(ctx context.Context) (float64, error) {
		_, err := breaker.Do(func() (any, error) {
			if faultActive.Load() {
				return nil, errors.New("injected backend timeout")
			}
			return backend.GetAggregateVersion(ctx, probeAggregateID)
		})
		if err != nil {
			return 0, err
		}
		return 1, nil
	}

	return Experiment{
		Name:       "backend_timeout",
		Hypothesis: "the circuit breaker trips during sustained backend timeouts and the probe succeeds again once the fault clears",
		SteadyState: []Metric{
			{Name: "probe_ok", Query: probe, Threshold: Threshold{Operator: ">=", Value: 1}},
		},
		Method: []Action{
			{Target: "backend", Execute: func(context.Context) error {
				faultActive.Store(true)
				return nil
			}},
		},
		Rollback: []Action{
			{Target: "backend", Execute: func(context.Context) error {
				faultActive.Store(false)
				return nil
			}},
		},
		Validation: []Assertion{
			{Metric: "probe_ok", Condition: func(v float64) bool { return v >= 1 }},
		},
		Duration: 10 * time.Second,
	}
}
