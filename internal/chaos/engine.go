// internal/chaos/engine.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Experiment checks that the system returns to its steady state after a
// fault is injected and the trigger runs against it.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Probe
	Method      []Action
	// Trigger exercises the system while faults are armed. Its error is
	// recorded, not treated as a failure of the experiment.
	Trigger  func(context.Context) error
	Rollback []Action
}

// Probe is one steady-state check; a nil error means the property holds.
type Probe struct {
	Name  string
	Check func(context.Context) error
}

// Action injects or removes a fault.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Result captures one experiment run.
type Result struct {
	ExperimentName   string        `json:"experiment_name"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	Duration         time.Duration `json:"duration"`
	HypothesisHeld   bool          `json:"hypothesis_held"`
	SteadyStateValid bool          `json:"steady_state_valid"`
	TriggerError     string        `json:"trigger_error,omitempty"`
	Violations       []string      `json:"violations"`
	ErrorEvents      []ErrorEvent  `json:"error_events"`
}

// Engine runs experiments and keeps their results.
type Engine struct {
	tracer  trace.Tracer
	mu      sync.Mutex
	results []Result
}

func NewEngine() *Engine {
	return &Engine{tracer: otel.Tracer("libranexus-lending/chaos")}
}

// Run executes exp. It returns an error only when the steady state does not
// hold before any fault is injected.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{ExperimentName: exp.Name, StartTime: time.Now()}

	span.AddEvent("validating_steady_state")
	if violations := probe(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		return result, errors.New("steady state invalid, aborting experiment")
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: time.Now(), Error: err.Error(), Component: action.Target})
			span.RecordError(err)
		}
	}

	if exp.Trigger != nil {
		span.AddEvent("triggering")
		if err := exp.Trigger(ctx); err != nil {
			result.TriggerError = err.Error()
		}
	}

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: time.Now(), Error: err.Error(), Component: action.Target})
			span.RecordError(err)
		}
	}

	span.AddEvent("validating_steady_state_after")
	result.Violations = probe(ctx, exp.SteadyState)
	result.HypothesisHeld = len(result.Violations) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

// Results returns every completed run in order.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

func probe(ctx context.Context, probes []Probe) []string {
	var violations []string
	for _, p := range probes {
		if err := p.Check(ctx); err != nil {
			violations = append(violations, fmt.Sprintf("%s: %v", p.Name, err))
		}
	}
	return violations
}

// WriteResult prints a human-readable summary of r.
func WriteResult(w io.Writer, exp Experiment, r *Result) {
	fmt.Fprintf(w, "🔬 %s\n", exp.Name)
	fmt.Fprintf(w, "💡 Hypothesis: %s\n", exp.Hypothesis)
	if r.TriggerError != "" {
		fmt.Fprintf(w, "   trigger failed as injected: %s\n", r.TriggerError)
	}
	if r.HypothesisHeld {
		fmt.Fprintf(w, "✅ Hypothesis held\n")
	} else {
		fmt.Fprintf(w, "❌ Hypothesis violated\n")
	}
	for _, v := range r.Violations {
		fmt.Fprintf(w, "   - %s\n", v)
	}
	fmt.Fprintf(w, "📊 Duration: %s\n", r.Duration)
}
