package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gumshoe/internal/execute"
	"gumshoe/internal/plugin"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubPlugin satisfies plugin.Plugin with canned behavior.
type stubPlugin struct {
	desc     plugin.Descriptor
	buildErr error
	parsed   *plugin.ParsedData
}

func (s *stubPlugin) Descriptor() plugin.Descriptor { return s.desc }

func (s *stubPlugin) BuildInvocation(target, category string, params map[string]string) (execute.Command, error) {
	if s.buildErr != nil {
		return execute.Command{}, s.buildErr
	}
	return execute.Command{Binary: "stub-tool", Arguments: []string{target}}, nil
}

func (s *stubPlugin) ParseOutput(raw, target, category string) *plugin.ParsedData {
	if s.parsed != nil {
		return s.parsed
	}
	return &plugin.ParsedData{Target: target, Category: category}
}

// fakeRunner simulates process execution and records peak concurrency.
type fakeRunner struct {
	missing  map[string]bool
	delay    time.Duration
	exitCode int
	stdout   string

	current int32
	peak    int32
}

func (f *fakeRunner) LookPath(binary string) error {
	if f.missing[binary] {
		return fmt.Errorf("binary %s not found in PATH", binary)
	}
	return nil
}

func (f *fakeRunner) Run(ctx context.Context, cmd execute.Command) (*execute.Result, error) {
	cur := atomic.AddInt32(&f.current, 1)
	defer atomic.AddInt32(&f.current, -1)
	for {
		peak := atomic.LoadInt32(&f.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&f.peak, peak, cur) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return &execute.Result{Killed: true}, ctx.Err()
		}
	}
	return &execute.Result{Stdout: f.stdout, ExitCode: f.exitCode, Duration: f.delay}, nil
}

func newTestRegistry(t *testing.T, plugins ...*stubPlugin) *plugin.Registry {
	t.Helper()
	r := plugin.NewRegistry()
	for _, p := range plugins {
		require.NoError(t, r.Register(p))
	}
	return r
}

func websitePlugin(id string) *stubPlugin {
	return &stubPlugin{desc: plugin.Descriptor{
		ID:            id,
		Categories:    []string{plugin.CategoryWebsite},
		RequiredTools: []string{"stub-tool"},
		Produces:      []string{plugin.TypeDomain},
	}}
}

func collect(ch <-chan Outcome) []Outcome {
	var out []Outcome
	for o := range ch {
		out = append(out, o)
	}
	return out
}

func TestPoolRunsAllTasks(t *testing.T) {
	registry := newTestRegistry(t, websitePlugin("alpha"))
	runner := &fakeRunner{stdout: "ok"}
	pool := NewPool(registry, runner, PoolConfig{Workers: 4}, nil)

	tasks := []Task{
		NewTask("alpha", "example.com", plugin.CategoryWebsite, 0),
		NewTask("alpha", "example.org", plugin.CategoryWebsite, 0),
		NewTask("alpha", "example.net", plugin.CategoryWebsite, 0),
	}

	outcomes := collect(pool.Run(context.Background(), tasks))
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.Equal(t, StatusSucceeded, o.Task.Status)
		require.NotNil(t, o.Result)
		assert.Equal(t, "ok", o.Result.RawOutput)
		assert.NoError(t, o.Err)
		assert.False(t, o.Task.FinishedAt.IsZero())
	}

	stats := pool.Stats()
	assert.Equal(t, 3, stats.Submitted)
	assert.Equal(t, 3, stats.Succeeded)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	registry := newTestRegistry(t, websitePlugin("alpha"))
	runner := &fakeRunner{delay: 30 * time.Millisecond}
	pool := NewPool(registry, runner, PoolConfig{Workers: 2}, nil)

	var tasks []Task
	for i := 0; i < 8; i++ {
		tasks = append(tasks, NewTask("alpha", fmt.Sprintf("host%d.example.com", i), plugin.CategoryWebsite, 0))
	}

	outcomes := collect(pool.Run(context.Background(), tasks))
	require.Len(t, outcomes, 8)
	assert.LessOrEqual(t, atomic.LoadInt32(&runner.peak), int32(2),
		"worker bound exceeded")
}

func TestPoolTaskTimeout(t *testing.T) {
	registry := newTestRegistry(t, websitePlugin("alpha"))
	runner := &fakeRunner{delay: time.Second}
	pool := NewPool(registry, runner, PoolConfig{Workers: 1, DefaultTimeout: 30 * time.Millisecond}, nil)

	tasks := []Task{NewTask("alpha", "slow.example.com", plugin.CategoryWebsite, 0)}
	outcomes := collect(pool.Run(context.Background(), tasks))

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusTimedOut, outcomes[0].Task.Status)
	assert.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
	assert.Equal(t, 1, pool.Stats().TimedOut)
}

func TestPoolKillMarksCancelled(t *testing.T) {
	registry := newTestRegistry(t, websitePlugin("alpha"))
	runner := &fakeRunner{delay: time.Second}
	pool := NewPool(registry, runner, PoolConfig{Workers: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	tasks := []Task{
		NewTask("alpha", "a.example.com", plugin.CategoryWebsite, 0),
		NewTask("alpha", "b.example.com", plugin.CategoryWebsite, 0),
		NewTask("alpha", "c.example.com", plugin.CategoryWebsite, 0),
	}

	ch := pool.Run(ctx, tasks)
	time.Sleep(20 * time.Millisecond)
	cancel()

	outcomes := collect(ch)
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.Equal(t, StatusCancelled, o.Task.Status, "task %s", o.Task.Target)
	}
}

func TestPoolGlobalDeadlineCancelsTasks(t *testing.T) {
	registry := newTestRegistry(t, websitePlugin("alpha"))
	runner := &fakeRunner{delay: time.Second}
	pool := NewPool(registry, runner, PoolConfig{Workers: 1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	tasks := []Task{
		NewTask("alpha", "a.example.com", plugin.CategoryWebsite, 0),
		NewTask("alpha", "b.example.com", plugin.CategoryWebsite, 0),
	}

	// Global deadline cancels both the in-flight and the queued task;
	// timed_out is reserved for a task's own timeout.
	outcomes := collect(pool.Run(ctx, tasks))
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, StatusCancelled, o.Task.Status)
	}
}

func TestPoolRejectsUnknownPlugin(t *testing.T) {
	registry := newTestRegistry(t, websitePlugin("alpha"))
	pool := NewPool(registry, &fakeRunner{}, PoolConfig{}, nil)

	tasks := []Task{NewTask("ghost", "example.com", plugin.CategoryWebsite, 0)}
	outcomes := collect(pool.Run(context.Background(), tasks))

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusFailed, outcomes[0].Task.Status)
	assert.Contains(t, outcomes[0].Task.FailureReason, "unknown plugin")
}

func TestPoolRejectsCategoryMismatch(t *testing.T) {
	registry := newTestRegistry(t, websitePlugin("alpha"))
	pool := NewPool(registry, &fakeRunner{}, PoolConfig{}, nil)

	tasks := []Task{NewTask("alpha", "example.com", plugin.CategoryPeople, 0)}
	outcomes := collect(pool.Run(context.Background(), tasks))

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusFailed, outcomes[0].Task.Status)
	assert.Contains(t, outcomes[0].Task.FailureReason, "does not support category")
}

func TestPoolRejectsMissingTools(t *testing.T) {
	registry := newTestRegistry(t, websitePlugin("alpha"))
	runner := &fakeRunner{missing: map[string]bool{"stub-tool": true}}
	pool := NewPool(registry, runner, PoolConfig{}, nil)

	tasks := []Task{NewTask("alpha", "example.com", plugin.CategoryWebsite, 0)}
	outcomes := collect(pool.Run(context.Background(), tasks))

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusFailed, outcomes[0].Task.Status)

	var unavailable *ToolUnavailableError
	require.ErrorAs(t, outcomes[0].Err, &unavailable)
	assert.Equal(t, []string{"stub-tool"}, unavailable.Missing)
	assert.Equal(t, 1, pool.Stats().Unavailable)
}

func TestPoolNonZeroExitIsFailure(t *testing.T) {
	registry := newTestRegistry(t, websitePlugin("alpha"))
	runner := &fakeRunner{exitCode: 2}
	pool := NewPool(registry, runner, PoolConfig{}, nil)

	tasks := []Task{NewTask("alpha", "example.com", plugin.CategoryWebsite, 0)}
	outcomes := collect(pool.Run(context.Background(), tasks))

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusFailed, outcomes[0].Task.Status)
	assert.Equal(t, "exit code 2", outcomes[0].Task.FailureReason)
	assert.Nil(t, outcomes[0].Result)
}

func TestPoolInvalidTargetNotMasked(t *testing.T) {
	p := websitePlugin("alpha")
	p.buildErr = &plugin.InvalidTargetError{
		PluginID: "alpha", Target: "///", Category: plugin.CategoryWebsite, Reason: "not a hostname",
	}
	registry := newTestRegistry(t, p)
	pool := NewPool(registry, &fakeRunner{}, PoolConfig{}, nil)

	tasks := []Task{NewTask("alpha", "///", plugin.CategoryWebsite, 0)}
	outcomes := collect(pool.Run(context.Background(), tasks))

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusFailed, outcomes[0].Task.Status)
	var invalid *plugin.InvalidTargetError
	assert.ErrorAs(t, outcomes[0].Err, &invalid)
}

func TestTaskRetryBumpsAttempt(t *testing.T) {
	orig := NewTask("alpha", "example.com", plugin.CategoryWebsite, 2)
	orig.Parameters = map[string]string{"ports": "80,443"}
	orig.TimeoutSeconds = 60
	orig.Status = StatusFailed

	retry := orig.Retry()
	assert.NotEqual(t, orig.ID, retry.ID)
	assert.Equal(t, StatusPending, retry.Status)
	assert.Equal(t, 1, retry.AttemptCount)
	assert.Equal(t, orig.Parameters, retry.Parameters)
	assert.Equal(t, orig.Depth, retry.Depth)
	assert.Equal(t, orig.TimeoutSeconds, retry.TimeoutSeconds)
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusSucceeded, StatusFailed, StatusTimedOut, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if StatusPending.Terminal() || StatusRunning.Terminal() {
		t.Error("pending and running must not be terminal")
	}
}

func TestStatsAdd(t *testing.T) {
	a := Stats{Submitted: 2, Succeeded: 1, Failed: 1, TotalExecution: time.Second}
	b := Stats{Submitted: 3, TimedOut: 2, Cancelled: 1, TotalExecution: 2 * time.Second}
	a.Add(b)

	want := Stats{Submitted: 5, Succeeded: 1, Failed: 1, TimedOut: 2, Cancelled: 1, TotalExecution: 3 * time.Second}
	if a != want {
		t.Errorf("Add mismatch: got %+v want %+v", a, want)
	}
}
