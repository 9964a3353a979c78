package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"gumshoe/internal/execute"
	"gumshoe/internal/plugin"
)

const defaultTaskTimeout = 120 * time.Second

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	// Workers is the maximum number of concurrently running tasks.
	Workers int

	// DefaultTimeout applies to tasks with TimeoutSeconds == 0.
	DefaultTimeout time.Duration
}

// Pool dispatches tasks to plugins with bounded concurrency. Dispatch
// follows submission order; completion order is whatever finishes first.
type Pool struct {
	registry *plugin.Registry
	runner   execute.Runner
	cfg      PoolConfig
	logger   *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// NewPool creates a pool over the given registry and process runner.
func NewPool(registry *plugin.Registry, runner execute.Runner, cfg PoolConfig, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTaskTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{registry: registry, runner: runner, cfg: cfg, logger: logger}
}

// Stats returns a copy of the accumulated counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Run submits tasks and returns a channel that yields each task's outcome
// as it completes. The channel closes after every submitted task has
// reached a terminal status. Cancelling ctx cancels running tasks (their
// processes are killed) and marks never-started tasks cancelled; already
// yielded outcomes stay intact so a resumable snapshot can be persisted.
func (p *Pool) Run(ctx context.Context, tasks []Task) <-chan Outcome {
	out := make(chan Outcome, len(tasks))

	p.mu.Lock()
	p.stats.Submitted += len(tasks)
	p.mu.Unlock()

	go func() {
		defer close(out)

		sem := semaphore.NewWeighted(int64(p.cfg.Workers))
		var wg sync.WaitGroup

		for _, task := range tasks {
			if ctx.Err() != nil {
				out <- p.cancelPending(task, ctx)
				continue
			}

			// Pre-flight rejection happens before a worker slot is
			// consumed: unknown plugin, category mismatch, missing tools.
			pl, err := p.preflight(task)
			if err != nil {
				out <- p.reject(task, err)
				continue
			}

			// Acquire in submission order so dispatch is FIFO while the
			// bound holds. Acquire fails only when ctx is done.
			if err := sem.Acquire(ctx, 1); err != nil {
				out <- p.cancelPending(task, ctx)
				continue
			}

			wg.Add(1)
			go func(task Task) {
				defer wg.Done()
				defer sem.Release(1)
				out <- p.execute(ctx, pl, task)
			}(task)
		}

		wg.Wait()
	}()

	return out
}

// preflight validates a task against the registry and tool availability.
func (p *Pool) preflight(task Task) (plugin.Plugin, error) {
	pl, ok := p.registry.Get(task.PluginID)
	if !ok {
		return nil, fmt.Errorf("unknown plugin %q", task.PluginID)
	}
	d := pl.Descriptor()
	if !d.SupportsCategory(task.Category) {
		return nil, fmt.Errorf("plugin %s does not support category %q", d.ID, task.Category)
	}

	var missing []string
	for _, tool := range d.RequiredTools {
		if err := p.runner.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return nil, &ToolUnavailableError{PluginID: d.ID, Missing: missing}
	}
	return pl, nil
}

func (p *Pool) reject(task Task, err error) Outcome {
	task.Status = StatusFailed
	task.FailureReason = err.Error()
	task.FinishedAt = time.Now()

	p.mu.Lock()
	var unavailable *ToolUnavailableError
	if errors.As(err, &unavailable) {
		p.stats.Unavailable++
	}
	p.stats.Failed++
	p.mu.Unlock()

	p.logger.Warn("task rejected",
		zap.String("task_id", task.ID),
		zap.String("plugin", task.PluginID),
		zap.Error(err))
	return Outcome{Task: task, Err: err}
}

// cancelPending terminates a task that never started. Both the global
// deadline and a kill mark it cancelled; timed_out is reserved for a
// task's own timeout.
func (p *Pool) cancelPending(task Task, ctx context.Context) Outcome {
	task.FinishedAt = time.Now()
	task.Status = StatusCancelled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		task.FailureReason = "investigation timeout before start"
	} else {
		task.FailureReason = "cancelled before start"
	}
	p.count(task.Status)
	return Outcome{Task: task, Err: ctx.Err()}
}

// execute runs one task inside a worker slot.
func (p *Pool) execute(ctx context.Context, pl plugin.Plugin, task Task) Outcome {
	task.Status = StatusRunning
	task.StartedAt = time.Now()

	cmd, err := pl.BuildInvocation(task.Target, task.Category, task.Parameters)
	if err != nil {
		task.Status = StatusFailed
		task.FailureReason = err.Error()
		task.FinishedAt = time.Now()
		p.count(StatusFailed)
		p.logger.Warn("invocation rejected",
			zap.String("task_id", task.ID),
			zap.String("plugin", task.PluginID),
			zap.Error(err))
		return Outcome{Task: task, Err: err}
	}

	timeout := p.cfg.DefaultTimeout
	if task.TimeoutSeconds > 0 {
		timeout = time.Duration(task.TimeoutSeconds) * time.Second
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p.logger.Info("task started",
		zap.String("task_id", task.ID),
		zap.String("plugin", task.PluginID),
		zap.String("target", task.Target),
		zap.Duration("timeout", timeout))

	res, runErr := p.runner.Run(taskCtx, cmd)
	task.FinishedAt = time.Now()

	switch {
	case runErr == nil && taskCtx.Err() == nil && res.ExitCode == 0:
		parsed := pl.ParseOutput(res.Stdout, task.Target, task.Category)
		task.Status = StatusSucceeded
		p.countWithDuration(StatusSucceeded, res.Duration)
		p.logger.Info("task succeeded",
			zap.String("task_id", task.ID),
			zap.String("plugin", task.PluginID),
			zap.Duration("duration", res.Duration),
			zap.Bool("parse_incomplete", parsed.Incomplete))
		return Outcome{Task: task, Result: &PluginResult{
			RawOutput:  res.Stdout,
			Structured: parsed,
			Duration:   res.Duration,
		}}

	case taskCtx.Err() != nil:
		// The process group is already dead. The task's own timeout
		// marks it timed_out; a dying parent context (global timeout or
		// kill) marks it cancelled.
		if ctx.Err() == nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			task.Status = StatusTimedOut
			task.FailureReason = fmt.Sprintf("timed out after %s", timeout)
		} else {
			task.Status = StatusCancelled
			task.FailureReason = "cancelled"
		}
		p.count(task.Status)
		p.logger.Warn("task terminated",
			zap.String("task_id", task.ID),
			zap.String("plugin", task.PluginID),
			zap.String("status", string(task.Status)))
		return Outcome{Task: task, Err: taskCtx.Err()}

	case runErr != nil:
		task.Status = StatusFailed
		task.FailureReason = runErr.Error()
		p.count(StatusFailed)
		p.logger.Error("task execution failed",
			zap.String("task_id", task.ID),
			zap.String("plugin", task.PluginID),
			zap.Error(runErr))
		return Outcome{Task: task, Err: runErr}

	default:
		// Tool ran and exited non-zero. Failed, never retried here.
		task.Status = StatusFailed
		task.FailureReason = fmt.Sprintf("exit code %d", res.ExitCode)
		p.countWithDuration(StatusFailed, res.Duration)
		p.logger.Warn("task failed",
			zap.String("task_id", task.ID),
			zap.String("plugin", task.PluginID),
			zap.Int("exit_code", res.ExitCode))
		return Outcome{Task: task, Err: fmt.Errorf("%s: exit code %d", task.PluginID, res.ExitCode)}
	}
}

func (p *Pool) count(s Status) {
	p.countWithDuration(s, 0)
}

func (p *Pool) countWithDuration(s Status, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch s {
	case StatusSucceeded:
		p.stats.Succeeded++
	case StatusFailed:
		p.stats.Failed++
	case StatusTimedOut:
		p.stats.TimedOut++
	case StatusCancelled:
		p.stats.Cancelled++
	}
	p.stats.TotalExecution += d
}
