// Package faultinjection runs controlled fault-injection experiments
// against the storage backend to validate that its circuit breaker and
// retry policy behave the way the core's resilience design assumes.
package faultinjection

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Experiment describes one fault-injection run: a steady-state baseline,
// a method that injects the fault, a rollback that removes it, and
// assertions checked against the final observed metric values.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	Duration    time.Duration
}

// Metric is a measurable system property sampled once per second during
// the observation window.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Action is a fault injection or recovery step.
type Action struct {
	Target  string
	Execute func(context.Context) error
}

// Assertion checks a metric's final observed value.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
}

// Result captures one experiment's execution data.
type Result struct {
	ExperimentName   string
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
	HypothesisHeld   bool
	SteadyStateValid bool
	Violations       []MetricViolation
	Observations     map[string][]DataPoint
	ErrorEvents      []ErrorEvent
	MTTR             *time.Duration
}

type MetricViolation struct {
	MetricName string
	Expected   float64
	Actual     float64
	Timestamp  time.Time
}

type DataPoint struct {
	Timestamp time.Time
	Value     float64
}

type ErrorEvent struct {
	Timestamp time.Time
	Error     string
	Component string
}

// Engine runs registered experiments and retains their results.
type Engine struct {
	tracer      trace.Tracer
	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

// NewEngine builds an empty fault-injection engine.
func NewEngine() *Engine {
	return &Engine{tracer: otel.Tracer("eventcore/faultinjection")}
}

// RegisterExperiment adds exp to the suite.
func (e *Engine) RegisterExperiment(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

// Experiments returns every registered experiment.
func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.experiments
}

// Results returns every experiment result recorded so far.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results
}

// RunExperiment validates the steady state, injects the fault, observes
// for exp.Duration sampling every second, rolls back, then validates the
// assertions against the final observed values.
func (e *Engine) RunExperiment(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "faultinjection.run_experiment", trace.WithAttributes(attribute.String("experiment.name", exp.Name)))
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
	}

	span.AddEvent("validating_steady_state")
	if valid, violations := e.validateSteadyState(ctx, exp.SteadyState); !valid {
		result.SteadyStateValid = false
		result.Violations = violations
		return result, errors.New("steady state invalid - aborting experiment")
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_fault")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: time.Now(), Error: err.Error(), Component: action.Target})
			span.RecordError(err)
		}
	}

	span.AddEvent("observing")
	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	var recoveryStart time.Time
	recovered := false

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

observe:
	for {
		select {
		case <-observationCtx.Done():
			break observe
		case <-ticker.C:
			for _, metric := range exp.SteadyState {
				value, err := metric.Query(ctx)
				if err != nil {
					result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: time.Now(), Error: err.Error(), Component: metric.Name})
					continue
				}
				result.Observations[metric.Name] = append(result.Observations[metric.Name], DataPoint{Timestamp: time.Now(), Value: value})

				if !evaluateThreshold(value, metric.Threshold) {
					if recoveryStart.IsZero() {
						recoveryStart = time.Now()
					}
					result.Violations = append(result.Violations, MetricViolation{MetricName: metric.Name, Expected: metric.Threshold.Value, Actual: value, Timestamp: time.Now()})
				} else if !recoveryStart.IsZero() && !recovered {
					mttr := time.Since(recoveryStart)
					result.MTTR = &mttr
					recovered = true
				}
			}
		}
	}

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
		}
	}

	span.AddEvent("validating_assertions")
	result.HypothesisHeld = validateAssertions(exp.Validation, result)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(attribute.Bool("hypothesis_held", result.HypothesisHeld), attribute.Int("violations", len(result.Violations)))
	return result, nil
}

func (e *Engine) validateSteadyState(ctx context.Context, metrics []Metric) (bool, []MetricViolation) {
	var violations []MetricViolation
	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			violations = append(violations, MetricViolation{MetricName: metric.Name, Expected: metric.Threshold.Value, Actual: -1, Timestamp: time.Now()})
			continue
		}
		if !evaluateThreshold(value, metric.Threshold) {
			violations = append(violations, MetricViolation{MetricName: metric.Name, Expected: metric.Threshold.Value, Actual: value, Timestamp: time.Now()})
		}
	}
	return len(violations) == 0, violations
}

func evaluateThreshold(value float64, threshold Threshold) bool {
	switch threshold.Operator {
	case ">":
		return value > threshold.Value
	case "<":
		return value < threshold.Value
	case ">=":
		return value >= threshold.Value
	case "<=":
		return value <= threshold.Value
	case "==":
		return value == threshold.Value
	default:
		return false
	}
}

func validateAssertions(assertions []Assertion, result *Result) bool {
	for _, assertion := range assertions {
		observations, ok := result.Observations[assertion.Metric]
		if !ok || len(observations) == 0 {
			return false
		}
		final := observations[len(observations)-1].Value
		if !assertion.Condition(final) {
			return false
		}
	}
	return true
}
