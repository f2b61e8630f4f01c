package shutdown

import (
	"context"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Coordinator runs registered steps once, phase by phase.
type Coordinator struct {
	config Config

	mu     sync.Mutex
	steps  []step
	once   sync.Once
	done   chan struct{}
	result *Result
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Coordinator{
		config: cfg,
		done:   make(chan struct{}),
	}
}

// Register adds a step to a phase.
func (c *Coordinator) Register(name string, phase int, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step{name: name, phase: phase, fn: fn})
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM.
func (c *Coordinator) NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// Shutdown runs every phase. Only the first call does any work.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	ran := false
	c.once.Do(func() {
		ran = true
		c.result = c.run(ctx)
		close(c.done)
	})
	if !ran {
		return ErrAlreadyShutdown
	}
	return c.result.Err
}

// ShutdownWithTimeout runs Shutdown bounded by timeout, or by the configured
// timeout when zero.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// Done is closed when shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Result returns the shutdown outcome, or nil before Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) *Result {
	start := time.Now()
	c.mu.Lock()
	steps := append([]step(nil), c.steps...)
	c.mu.Unlock()

	sort.SliceStable(steps, func(i, j int) bool { return steps[i].phase < steps[j].phase })

	res := &Result{}
	for _, group := range groupByPhase(steps) {
		if ctx.Err() != nil {
			res.Err = ErrTimeout
			break
		}
		results := c.runPhase(ctx, group)
		res.Steps = append(res.Steps, results...)

		failed := false
		for _, r := range results {
			if r.Err != nil {
				failed = true
			}
		}
		if failed {
			res.Err = ErrStepFailed
			if !c.config.ContinueOnError {
				break
			}
		}
	}
	res.TotalDuration = time.Since(start)
	return res
}

func (c *Coordinator) runPhase(ctx context.Context, group []step) []StepResult {
	results := make([]StepResult, len(group))
	var wg sync.WaitGroup
	for i, s := range group {
		wg.Add(1)
		go func(i int, s step) {
			defer wg.Done()
			begin := time.Now()
			err := s.fn(ctx)
			results[i] = StepResult{Name: s.name, Phase: s.phase, Duration: time.Since(begin), Err: err}
			if c.config.OnStep != nil {
				c.config.OnStep(results[i])
			}
		}(i, s)
	}
	wg.Wait()
	return results
}

// groupByPhase splits phase-sorted steps into runs of equal phase.
func groupByPhase(steps []step) [][]step {
	var groups [][]step
	for i := 0; i < len(steps); {
		j := i
		for j < len(steps) && steps[j].phase == steps[i].phase {
			j++
		}
		groups = append(groups, steps[i:j])
		i = j
	}
	return groups
}
