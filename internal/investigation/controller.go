// Package investigation drives one end-to-end run: it wires a target,
// category, and profile into seed tasks, loops the scheduler and
// intelligence engine until chaining converges, and hands every round's
// state to the state manager.
package investigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gumshoe/internal/config"
	"gumshoe/internal/execute"
	"gumshoe/internal/intel"
	"gumshoe/internal/plugin"
	"gumshoe/internal/schedule"
	"gumshoe/internal/state"
)

// Options identify what to investigate and how.
type Options struct {
	Target      string
	Category    string
	ProfileName string
	Profile     config.Profile
}

// Controller owns the investigation loop. The in-memory state is mutated
// only between scheduling rounds, never concurrently by in-flight tasks.
type Controller struct {
	registry *plugin.Registry
	runner   execute.Runner
	states   *state.Manager
	logger   *zap.Logger
	opts     Options

	pool   *schedule.Pool
	engine *intel.Engine
	state  *state.InvestigationState
}

// New assembles a controller from its collaborators.
func New(registry *plugin.Registry, runner execute.Runner, states *state.Manager, logger *zap.Logger, opts Options) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		registry: registry,
		runner:   runner,
		states:   states,
		logger:   logger,
		opts:     opts,
	}
	c.pool = schedule.NewPool(registry, runner, schedule.PoolConfig{
		Workers:        opts.Profile.ParallelWorkers,
		DefaultTimeout: time.Duration(opts.Profile.TimeoutSeconds) * time.Second,
	}, logger)
	c.engine = intel.NewEngine(registry, intel.Config{
		Category:       opts.Category,
		MaxDepth:       opts.Profile.ScanDepth,
		Aggressiveness: opts.Profile.Aggressiveness,
		EnableChaining: opts.Profile.EnableChaining,
	}, logger)
	return c
}

// Start begins a fresh investigation and runs it to a terminal status.
func (c *Controller) Start(ctx context.Context) (*state.InvestigationState, error) {
	seeds, err := c.seedTasks()
	if err != nil {
		return nil, err
	}

	c.state = state.NewInvestigationState(c.opts.Target, c.opts.Category, c.opts.ProfileName)
	if err := c.states.AcquireLease(c.state.InvestigationID); err != nil {
		return nil, err
	}

	c.logger.Info("investigation started",
		zap.String("investigation_id", c.state.InvestigationID),
		zap.String("target", c.opts.Target),
		zap.String("category", c.opts.Category),
		zap.String("profile", c.opts.ProfileName),
		zap.Int("seed_tasks", len(seeds)))

	return c.run(ctx, seeds)
}

// Resume reloads a persisted investigation and re-submits only the tasks
// that were pending or running at snapshot time. Artifacts that survived
// the snapshot are never re-derived.
func (c *Controller) Resume(ctx context.Context, investigationID string) (*state.InvestigationState, error) {
	st, err := c.states.Load(investigationID)
	if err != nil {
		return nil, err
	}
	if st.Status == state.StatusCompleted {
		return nil, fmt.Errorf("investigation %s already completed", investigationID)
	}
	if err := c.states.AcquireLease(investigationID); err != nil {
		return nil, err
	}

	c.state = st
	c.engine.Restore(st.Artifacts, st.ChainKeys, st.ChainDepthReached)

	pending := st.ResumableTasks()
	for _, t := range pending {
		st.UpsertTask(t)
	}
	st.Status = state.StatusRunning

	c.logger.Info("investigation resumed",
		zap.String("investigation_id", investigationID),
		zap.Int("requeued_tasks", len(pending)),
		zap.Int("artifacts", len(st.Artifacts)))

	return c.run(ctx, pending)
}

// seedTasks builds the initial task set from the profile's tool list for
// the category.
func (c *Controller) seedTasks() ([]schedule.Task, error) {
	pluginIDs := c.opts.Profile.Tools[c.opts.Category]
	if len(pluginIDs) == 0 {
		return nil, fmt.Errorf("no tools configured for category %q", c.opts.Category)
	}

	var seeds []schedule.Task
	for _, id := range pluginIDs {
		pl, ok := c.registry.Get(id)
		if !ok {
			c.logger.Warn("profile names unregistered plugin", zap.String("plugin", id))
			continue
		}
		if !pl.Descriptor().SupportsCategory(c.opts.Category) {
			continue
		}
		task := schedule.NewTask(id, c.opts.Target, c.opts.Category, 0)
		task.TimeoutSeconds = c.opts.Profile.TimeoutSeconds
		seeds = append(seeds, task)
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no registered plugin supports category %q", c.opts.Category)
	}
	return seeds, nil
}

// run executes scheduling rounds until chaining converges, the global
// timeout fires, or the context is killed. A snapshot is written after
// every round and once more at the end.
func (c *Controller) run(ctx context.Context, tasks []schedule.Task) (*state.InvestigationState, error) {
	defer func() {
		if c.state.Status.Terminal() {
			if err := c.states.ReleaseLease(c.state.InvestigationID); err != nil {
				c.logger.Warn("lease release failed", zap.Error(err))
			}
		}
	}()

	if c.opts.Profile.GlobalTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx,
			time.Duration(c.opts.Profile.GlobalTimeoutSeconds)*time.Second)
		defer cancel()
	}

	round := 0
	for len(tasks) > 0 {
		round++
		c.logger.Info("scheduling round",
			zap.Int("round", round),
			zap.Int("tasks", len(tasks)))

		var next []schedule.Task
		for out := range c.pool.Run(ctx, tasks) {
			c.state.UpsertTask(out.Task)

			_, chained := c.engine.Ingest(out)
			for _, t := range chained {
				t.TimeoutSeconds = c.opts.Profile.TimeoutSeconds
				next = append(next, t)
			}

			if retry, ok := c.retryTask(out); ok {
				next = append(next, retry)
			}
		}

		// Queued follow-ups go into the snapshot as pending so a crash
		// between rounds leaves them resumable.
		for _, t := range next {
			c.state.UpsertTask(t)
		}
		c.syncState()
		if err := c.states.Snapshot(c.state); err != nil {
			c.state.Status = state.StatusFailed
			return c.state, err
		}

		if ctx.Err() != nil {
			return c.finish(ctx)
		}
		tasks = next
	}

	c.state.Status = state.StatusCompleted
	if err := c.states.Snapshot(c.state); err != nil {
		return c.state, err
	}
	c.logger.Info("investigation completed",
		zap.String("investigation_id", c.state.InvestigationID),
		zap.Int("tasks", len(c.state.Tasks)),
		zap.Int("artifacts", len(c.state.Artifacts)),
		zap.Int("depth_reached", c.state.ChainDepthReached))
	return c.state, nil
}

// retryTask decides whether a failed task is re-submitted. Invalid
// targets and missing tools never retry; everything else retries until
// the profile's attempt cap.
func (c *Controller) retryTask(out schedule.Outcome) (schedule.Task, bool) {
	if out.Task.Status != schedule.StatusFailed {
		return schedule.Task{}, false
	}
	var invalidTarget *plugin.InvalidTargetError
	var unavailable *schedule.ToolUnavailableError
	if errors.As(out.Err, &invalidTarget) || errors.As(out.Err, &unavailable) {
		return schedule.Task{}, false
	}
	retry := out.Task.Retry()
	if retry.AttemptCount >= c.opts.Profile.MaxAttempts {
		return schedule.Task{}, false
	}
	c.logger.Info("retrying task",
		zap.String("plugin", retry.PluginID),
		zap.String("target", retry.Target),
		zap.Int("attempt", retry.AttemptCount))
	return retry, true
}

// finish closes out an interrupted run: a kill leaves a resumable killed
// snapshot, a global timeout marks the run failed.
func (c *Controller) finish(ctx context.Context) (*state.InvestigationState, error) {
	cause := ctx.Err()
	if errors.Is(cause, context.DeadlineExceeded) {
		c.state.Status = state.StatusFailed
	} else {
		c.state.Status = state.StatusKilled
	}

	c.syncState()
	if err := c.states.Snapshot(c.state); err != nil {
		return c.state, err
	}
	c.logger.Warn("investigation interrupted",
		zap.String("investigation_id", c.state.InvestigationID),
		zap.String("status", string(c.state.Status)),
		zap.NamedError("cause", cause))
	return c.state, cause
}

// syncState copies engine and pool results into the snapshot between
// rounds.
func (c *Controller) syncState() {
	c.state.Artifacts = c.engine.ArtifactMap()
	c.state.ChainKeys = c.engine.ChainKeys()
	c.state.ChainDepthReached = c.engine.DepthReached()
	c.state.Stats = c.pool.Stats()
}
