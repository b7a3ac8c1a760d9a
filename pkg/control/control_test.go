package control

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/warren-core/pkg/bus"
	"github.com/cuemby/warren-core/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlane(t *testing.T) (*Plane, *bus.Bus) {
	t.Helper()
	b := bus.New()
	require.NoError(t, b.Start())
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return New(b, l), b
}

func noopStop(ctx context.Context) error { return nil }

func TestStartRespectsDependencyOrder(t *testing.T) {
	p, _ := newTestPlane(t)

	var mu sync.Mutex
	var started []string
	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			started = append(started, name)
			mu.Unlock()
			return nil
		}
	}

	require.NoError(t, p.Register(Descriptor{Name: "bus", StartFn: record("bus"), StopFn: noopStop}))
	require.NoError(t, p.Register(Descriptor{Name: "clarity", StartFn: record("clarity"), StopFn: noopStop, Dependencies: []string{"bus"}}))
	require.NoError(t, p.Register(Descriptor{Name: "governance", StartFn: record("governance"), StopFn: noopStop, Dependencies: []string{"bus", "clarity"}}))

	require.NoError(t, p.Start(context.Background()))

	indexOf := func(name string) int {
		for i, n := range started {
			if n == name {
				return i
			}
		}
		return -1
	}
	assert.True(t, indexOf("bus") < indexOf("clarity"))
	assert.True(t, indexOf("clarity") < indexOf("governance"))
}

func TestStartFailsOnDependencyCycle(t *testing.T) {
	p, _ := newTestPlane(t)
	require.NoError(t, p.Register(Descriptor{Name: "a", StartFn: noopStop, Dependencies: []string{"b"}}))
	require.NoError(t, p.Register(Descriptor{Name: "b", StartFn: noopStop, Dependencies: []string{"a"}}))

	err := p.Start(context.Background())
	assert.Error(t, err)
}

func TestStartFailsOnUnregisteredDependency(t *testing.T) {
	p, _ := newTestPlane(t)
	require.NoError(t, p.Register(Descriptor{Name: "a", StartFn: noopStop, Dependencies: []string{"ghost"}}))

	err := p.Start(context.Background())
	assert.Error(t, err)
}

func TestCriticalKernelStartFailureAbortsStart(t *testing.T) {
	p, _ := newTestPlane(t)
	failing := func(ctx context.Context) error { return assertErr }
	require.NoError(t, p.Register(Descriptor{Name: "must-run", StartFn: failing, Critical: true}))

	err := p.Start(context.Background())
	assert.Error(t, err)
}

var assertErr = contextErr("boom")

type contextErr string

func (e contextErr) Error() string { return string(e) }

func TestNonCriticalFailureDoesNotAbortStart(t *testing.T) {
	p, _ := newTestPlane(t)
	failing := func(ctx context.Context) error { return assertErr }
	ok := func(ctx context.Context) error { return nil }

	require.NoError(t, p.Register(Descriptor{Name: "flaky", StartFn: failing, Critical: false}))
	require.NoError(t, p.Register(Descriptor{Name: "stable", StartFn: ok, Critical: true}))

	require.NoError(t, p.Start(context.Background()))

	status := p.GetStatus()
	assert.Equal(t, StateFailed, status.Kernels["flaky"].State)
	assert.Equal(t, StateRunning, status.Kernels["stable"].State)
}

func TestGetStatusCountsRunningAndFailed(t *testing.T) {
	p, _ := newTestPlane(t)
	require.NoError(t, p.Register(Descriptor{Name: "a", StartFn: noopStop}))
	require.NoError(t, p.Register(Descriptor{Name: "b", StartFn: noopStop}))
	require.NoError(t, p.Start(context.Background()))

	status := p.GetStatus()
	assert.Equal(t, 2, status.TotalKernels)
	assert.Equal(t, 2, status.RunningKernels)
	assert.Equal(t, 0, status.FailedKernels)
}

func TestReportFailureRestartsCriticalKernelAndRecovers(t *testing.T) {
	b := bus.New()
	require.NoError(t, b.Start())
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	defer l.Close()

	p := NewWithRestartPolicy(b, l, 5*time.Millisecond, 20*time.Millisecond, 5)

	var attempts int
	var mu sync.Mutex
	startFn := func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 2 {
			return assertErr
		}
		return nil
	}
	require.NoError(t, p.Register(Descriptor{Name: "flaky", StartFn: startFn, Critical: true}))
	require.NoError(t, p.Start(context.Background()))

	p.ReportFailure(context.Background(), "flaky")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status := p.GetStatus()
		if status.Kernels["flaky"].State == StateRunning {
			mu.Lock()
			gotAttempts := attempts
			mu.Unlock()
			assert.GreaterOrEqual(t, gotAttempts, 2)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("kernel did not recover within deadline")
}

func TestRestartExhaustionDegradesSystem(t *testing.T) {
	b := bus.New()
	require.NoError(t, b.Start())
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	defer l.Close()

	p := NewWithRestartPolicy(b, l, 2*time.Millisecond, 5*time.Millisecond, 2)
	alwaysFail := func(ctx context.Context) error { return assertErr }
	require.NoError(t, p.Register(Descriptor{Name: "doomed", StartFn: func(ctx context.Context) error { return nil }, Critical: true}))
	require.NoError(t, p.Start(context.Background()))

	p.kernels["doomed"].desc.StartFn = alwaysFail
	p.ReportFailure(context.Background(), "doomed")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.RLock()
		state := p.systemState
		p.mu.RUnlock()
		if state == SystemDegraded {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("system did not degrade within deadline")
}
