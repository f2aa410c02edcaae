package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

type supervisorFixture struct {
	*repoFixture
	inbox    *mockInbox
	runner   *scriptedRunner
	notifier *mockNotifier
	sup      *Supervisor
}

func newSupervisorFixture(t *testing.T, grace time.Duration, mandates ...*domain.Mandate) *supervisorFixture {
	t.Helper()
	rf := newRepoFixture(t)
	for _, m := range mandates {
		require.NoError(t, rf.store.UpsertMandate(context.Background(), m))
	}
	inbox := newMockInbox()
	runner := &scriptedRunner{errs: make(map[string]error), panics: make(map[string]bool)}
	notifier := &mockNotifier{ch: make(chan string, 4)}
	sup := NewSupervisor(rf.repo, inbox, runner, notifier, nil, SupervisorConfig{
		GracePeriod:   grace,
		RetryInterval: 10 * time.Millisecond,
	})
	return &supervisorFixture{repoFixture: rf, inbox: inbox, runner: runner, notifier: notifier, sup: sup}
}

func fastMandate(id string) *domain.Mandate {
	m := testMandate(id)
	m.PollInterval = 10 * time.Millisecond
	return m
}

func (f *supervisorFixture) run(t *testing.T) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sup.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("supervisor did not return")
		}
	}
}

func statesByMandate(statuses []domain.WorkerStatus) map[string]domain.WorkerState {
	out := make(map[string]domain.WorkerState, len(statuses))
	for _, s := range statuses {
		out[s.MandateID] = s.State
	}
	return out
}

func TestSupervisor_StartsOneWorkerPerEnabledMandate(t *testing.T) {
	disabled := fastMandate("off")
	disabled.Enabled = false
	f := newSupervisorFixture(t, time.Second, fastMandate("b"), fastMandate("a"), disabled)

	stop := f.run(t)
	require.Eventually(t, func() bool { return len(f.sup.Status()) == 2 }, time.Second, 5*time.Millisecond)

	statuses := f.sup.Status()
	assert.Equal(t, "a", statuses[0].MandateID)
	assert.Equal(t, "b", statuses[1].MandateID)

	stop()
	for _, s := range f.sup.Status() {
		assert.Equal(t, domain.WorkerStopped, s.State)
		assert.False(t, s.Unresponsive)
	}
}

func TestSupervisor_WaitsForStore(t *testing.T) {
	f := newSupervisorFixture(t, time.Second, fastMandate("a"))
	f.store.SetUnavailable(true)
	f.repo.cfg.Cooldown = 0

	stop := f.run(t)
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, f.sup.Status())

	f.store.SetUnavailable(false)
	assert.Eventually(t, func() bool { return len(f.sup.Status()) == 1 }, time.Second, 5*time.Millisecond)
	stop()
}

func TestSupervisor_NotificationReconcilesWorkers(t *testing.T) {
	f := newSupervisorFixture(t, time.Second, fastMandate("a"))
	stop := f.run(t)
	require.Eventually(t, func() bool { return len(f.sup.Status()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.store.UpsertMandate(context.Background(), fastMandate("b")))
	off := fastMandate("a")
	off.Enabled = false
	require.NoError(t, f.store.UpsertMandate(context.Background(), off))
	f.notifier.ch <- driven.AllMandates

	assert.Eventually(t, func() bool {
		states := statesByMandate(f.sup.Status())
		return states["a"] == domain.WorkerStopped && states["b"] != "" && states["b"] != domain.WorkerStopped
	}, time.Second, 5*time.Millisecond)
	stop()
}

func TestSupervisor_MandateFailureIsIsolated(t *testing.T) {
	f := newSupervisorFixture(t, time.Second, fastMandate("a"), fastMandate("b"))
	f.runner.panics["a.pdf"] = true
	f.inbox.add("a.pdf")

	stop := f.run(t)
	assert.Eventually(t, func() bool {
		total := 0
		for _, s := range f.sup.Status() {
			total += s.Quarantined + s.Processed
		}
		return total >= 1 && len(f.sup.Status()) == 2
	}, time.Second, 5*time.Millisecond)
	stop()

	for _, s := range f.sup.Status() {
		assert.Equal(t, domain.WorkerStopped, s.State)
	}
}

func TestSupervisor_ReportsUnresponsiveWorker(t *testing.T) {
	f := newSupervisorFixture(t, 20*time.Millisecond, fastMandate("a"))
	f.runner.block = make(chan struct{})
	defer close(f.runner.block)
	f.inbox.add("stuck.pdf")

	stop := f.run(t)
	require.Eventually(t, func() bool {
		states := statesByMandate(f.sup.Status())
		return states["a"] == domain.WorkerProcessing
	}, time.Second, 5*time.Millisecond)
	stop()

	statuses := f.sup.Status()
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Unresponsive)
	assert.Equal(t, domain.WorkerProcessing, statuses[0].State)
}
