// Package boot implements the Boot Pipeline: structured, dependency-
// ordered startup with per-step verification. It follows the same
// topological-ordering shape as the Control Plane, generalized from
// kernel lifecycle to one-shot boot steps grouped into named stages.
package boot

import (
	"fmt"
	"time"

	"github.com/cuemby/warren-core/pkg/kerrors"
	"github.com/cuemby/warren-core/pkg/ledger"
	"github.com/cuemby/warren-core/pkg/log"
	"github.com/cuemby/warren-core/pkg/metrics"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/rs/zerolog"
)

// stageOrder is the fixed sequence boot stages execute in.
var stageOrder = []types.BootStage{
	types.StagePreInit,
	types.StageCoreInit,
	types.StageKernelInit,
	types.StageServiceInit,
	types.StageAPIInit,
	types.StagePostInit,
	types.StageVerification,
	types.StageReady,
}

// Step is one unit of boot work. ExecuteFn performs the work; VerifyFn, if
// present, must also return true for the step to count as success.
type Step struct {
	Name         string
	Stage        types.BootStage
	ExecuteFn    func() error
	VerifyFn     func() bool
	Dependencies []string
	Critical     bool

	status    types.BootStepStatus
	startedAt time.Time
	endedAt   time.Time
}

// Report is the Boot Pipeline's final {boot_id, status, ...} summary.
type Report struct {
	BootID        string
	Status        string // "success" or "failed"
	StepsExecuted int
	StepsFailed   int
	DurationSec   float64
	FailedStep    string
}

// Pipeline runs a declared set of steps through the fixed stage order.
type Pipeline struct {
	ledger *ledger.Log
	logger zerolog.Logger
	steps  []*Step
}

// New constructs a Pipeline that audits to l (optional).
func New(l *ledger.Log) *Pipeline {
	return &Pipeline{
		ledger: l,
		logger: log.WithComponent("boot"),
	}
}

// AddStep registers step. Call before Run.
func (p *Pipeline) AddStep(step *Step) error {
	if step.Name == "" {
		return fmt.Errorf("boot: %w: step name must be non-empty", kerrors.ErrContractViolation)
	}
	step.status = types.BootStepPending
	p.steps = append(p.steps, step)
	return nil
}

// Run executes every step stage by stage, in dependency order within a
// stage, and returns the boot report. A failed critical step aborts the
// pipeline immediately; a failed non-critical step is logged and the
// pipeline continues.
func (p *Pipeline) Run(bootID string) (Report, error) {
	start := time.Now()

	if p.ledger != nil {
		_, _ = p.ledger.Append("boot", "boot_start", bootID, nil, nil)
	}
	p.logger.Info().Str("boot_id", bootID).Msg("boot pipeline starting")

	report := Report{BootID: bootID}
	byStage := p.groupByStage()

	var abortErr error
	for _, stage := range stageOrder {
		stepsInStage, err := orderByDependency(byStage[stage])
		if err != nil {
			abortErr = err
			break
		}

		for _, step := range stepsInStage {
			ok := p.runStep(step)
			report.StepsExecuted++
			if ok {
				continue
			}
			report.StepsFailed++
			metrics.BootStepsFailedTotal.Inc()
			if step.Critical {
				abortErr = fmt.Errorf("boot: %w: critical step %q in stage %q failed", kerrors.ErrBootStepFailed, step.Name, stage)
				report.FailedStep = step.Name
				break
			}
			p.logger.Warn().Str("step", step.Name).Msg("non-critical boot step failed, continuing")
		}
		if abortErr != nil {
			break
		}
	}

	report.DurationSec = time.Since(start).Seconds()
	metrics.BootDuration.Observe(report.DurationSec)
	if abortErr != nil {
		report.Status = "failed"
	} else {
		report.Status = "success"
	}

	if p.ledger != nil {
		_, _ = p.ledger.Append("boot", "boot_complete", bootID, map[string]any{
			"status":         report.Status,
			"steps_executed": report.StepsExecuted,
			"steps_failed":   report.StepsFailed,
		}, nil)
	}
	p.logger.Info().Str("boot_id", bootID).Str("status", report.Status).Msg("boot pipeline complete")

	return report, abortErr
}

func (p *Pipeline) runStep(step *Step) bool {
	step.status = types.BootStepRunning
	step.startedAt = time.Now()

	err := step.ExecuteFn()
	verified := true
	if err == nil && step.VerifyFn != nil {
		verified = step.VerifyFn()
	}

	step.endedAt = time.Now()
	if err == nil && verified {
		step.status = types.BootStepSuccess
		return true
	}
	step.status = types.BootStepFailed
	return false
}

func (p *Pipeline) groupByStage() map[types.BootStage][]*Step {
	m := make(map[types.BootStage][]*Step)
	for _, s := range p.steps {
		m[s.Stage] = append(m[s.Stage], s)
	}
	return m
}

// orderByDependency topologically sorts steps within a single stage by
// their declared dependency names (which must name other steps in the
// same stage or an earlier one — this only orders within-stage ties).
func orderByDependency(steps []*Step) ([]*Step, error) {
	byName := make(map[string]*Step, len(steps))
	for _, s := range steps {
		byName[s.Name] = s
	}

	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string)
	for _, s := range steps {
		indegree[s.Name] = 0
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if _, ok := byName[dep]; !ok {
				continue // dependency satisfied by an earlier stage
			}
			indegree[s.Name]++
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	var queue []string
	for _, s := range steps {
		if indegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}

	var ordered []*Step
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byName[name])
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(ordered) != len(steps) {
		return nil, fmt.Errorf("boot: %w: dependency cycle detected within a stage", kerrors.ErrContractViolation)
	}
	return ordered, nil
}

// StepStatus returns a step's current status by name, if registered.
func (p *Pipeline) StepStatus(name string) (types.BootStepStatus, bool) {
	for _, s := range p.steps {
		if s.Name == name {
			return s.status, true
		}
	}
	return "", false
}
