// Package shutdown closes bus components in phases when the process is asked
// to stop.
//
// A process wiring an EventBus owns several things that must stop in order:
// the bus (which unregisters handlers and closes its transport), then the
// telemetry pipeline that should see the last spans and events.
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.Register("eventbus", shutdown.PhaseBus, func(ctx context.Context) error {
//	    return eb.Close()
//	})
//	coord.Register("tracing", shutdown.PhaseTracing, provider.Shutdown)
//
//	ctx, stop := coord.NotifyContext(context.Background())
//	defer stop()
//	<-ctx.Done()
//	coord.ShutdownWithTimeout(0)
//
// Phases run in ascending order. Steps within a phase run concurrently.
package shutdown

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyShutdown is returned by every Shutdown call after the first.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates the context expired before all phases ran.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrStepFailed indicates one or more steps returned an error.
	ErrStepFailed = errors.New("one or more shutdown steps failed")
)

// Phases used by the eventbus command. Lower runs first: the bus and its
// transport, then the traffic event exporter, then the trace provider.
const (
	PhaseBus     = 10
	PhaseEvents  = 20
	PhaseTracing = 30
)

// Func stops one component.
type Func func(ctx context.Context) error

// StepResult records how one step went.
type StepResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a complete shutdown.
type Result struct {
	TotalDuration time.Duration
	Steps         []StepResult
	Err           error
}

// Failed returns the names of steps that returned an error.
func (r *Result) Failed() []string {
	var failed []string
	for _, s := range r.Steps {
		if s.Err != nil {
			failed = append(failed, s.Name)
		}
	}
	return failed
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds ShutdownWithTimeout(0). Default: 10 seconds
	Timeout time.Duration

	// ContinueOnError runs later phases after a failed step. Default: true
	ContinueOnError bool

	// OnStep is called as each step finishes.
	OnStep func(StepResult)
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		ContinueOnError: true,
	}
}

type step struct {
	name  string
	phase int
	fn    Func
}
