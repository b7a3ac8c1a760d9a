package boot

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/cuemby/warren-core/pkg/ledger"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *ledger.Log {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRunExecutesStagesInOrder(t *testing.T) {
	p := New(newTestLedger(t))
	var order []string
	record := func(name string) func() error {
		return func() error { order = append(order, name); return nil }
	}

	require.NoError(t, p.AddStep(&Step{Name: "verify-invariants", Stage: types.StageVerification, ExecuteFn: record("verify-invariants")}))
	require.NoError(t, p.AddStep(&Step{Name: "init-bus", Stage: types.StageCoreInit, ExecuteFn: record("init-bus")}))
	require.NoError(t, p.AddStep(&Step{Name: "start-clarity", Stage: types.StageKernelInit, ExecuteFn: record("start-clarity")}))

	report, err := p.Run("boot-1")
	require.NoError(t, err)
	assert.Equal(t, "success", report.Status)
	assert.Equal(t, []string{"init-bus", "start-clarity", "verify-invariants"}, order)
}

func TestWithinStageDependencyOrder(t *testing.T) {
	p := New(newTestLedger(t))
	var order []string
	record := func(name string) func() error {
		return func() error { order = append(order, name); return nil }
	}

	require.NoError(t, p.AddStep(&Step{Name: "start-governance", Stage: types.StageKernelInit, ExecuteFn: record("start-governance"), Dependencies: []string{"start-clarity"}}))
	require.NoError(t, p.AddStep(&Step{Name: "start-clarity", Stage: types.StageKernelInit, ExecuteFn: record("start-clarity")}))

	_, err := p.Run("boot-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"start-clarity", "start-governance"}, order)
}

func TestCriticalStepFailureAbortsPipeline(t *testing.T) {
	p := New(newTestLedger(t))
	var ranAfter bool

	require.NoError(t, p.AddStep(&Step{
		Name:      "must-succeed",
		Stage:     types.StageCoreInit,
		ExecuteFn: func() error { return errors.New("boom") },
		Critical:  true,
	}))
	require.NoError(t, p.AddStep(&Step{
		Name:      "later-step",
		Stage:     types.StageKernelInit,
		ExecuteFn: func() error { ranAfter = true; return nil },
	}))

	report, err := p.Run("boot-2")
	assert.Error(t, err)
	assert.Equal(t, "failed", report.Status)
	assert.Equal(t, "must-succeed", report.FailedStep)
	assert.False(t, ranAfter, "no step after an aborted critical failure should run")
}

func TestNonCriticalFailureContinuesPipeline(t *testing.T) {
	p := New(newTestLedger(t))
	var ranAfter bool

	require.NoError(t, p.AddStep(&Step{
		Name:      "optional-metrics",
		Stage:     types.StageCoreInit,
		ExecuteFn: func() error { return errors.New("boom") },
		Critical:  false,
	}))
	require.NoError(t, p.AddStep(&Step{
		Name:      "later-step",
		Stage:     types.StageKernelInit,
		ExecuteFn: func() error { ranAfter = true; return nil },
	}))

	report, err := p.Run("boot-3")
	require.NoError(t, err)
	assert.Equal(t, "success", report.Status)
	assert.Equal(t, 1, report.StepsFailed)
	assert.True(t, ranAfter)
}

func TestVerifyFnMustPassForSuccess(t *testing.T) {
	p := New(newTestLedger(t))
	require.NoError(t, p.AddStep(&Step{
		Name:      "checked",
		Stage:     types.StageCoreInit,
		ExecuteFn: func() error { return nil },
		VerifyFn:  func() bool { return false },
		Critical:  true,
	}))

	report, err := p.Run("boot-4")
	assert.Error(t, err)
	assert.Equal(t, 1, report.StepsFailed)
	status, ok := p.StepStatus("checked")
	require.True(t, ok)
	assert.Equal(t, types.BootStepFailed, status)
}

func TestRunRecordsBootStartAndComplete(t *testing.T) {
	l := newTestLedger(t)
	p := New(l)
	require.NoError(t, p.AddStep(&Step{Name: "s1", Stage: types.StageCoreInit, ExecuteFn: func() error { return nil }}))

	_, err := p.Run("boot-5")
	require.NoError(t, err)

	entries := l.Search(ledger.Filters{Resource: "boot-5"}, 0)
	require.Len(t, entries, 2)
	assert.Equal(t, "boot_complete", entries[0].Action)
	assert.Equal(t, "boot_start", entries[1].Action)
}
