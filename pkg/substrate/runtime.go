// Package substrate wires the whole orchestration core together: every
// component is constructed explicitly and handed only the dependencies it
// needs (a Bus handle, an optional Ledger handle), owned by one Runtime
// with an explicit construct -> start -> serve -> stop lifecycle. Nothing
// here is a package-level global; tests construct isolated Runtimes.
package substrate

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/warren-core/internal/config"
	"github.com/cuemby/warren-core/pkg/bus"
	"github.com/cuemby/warren-core/pkg/clarity"
	"github.com/cuemby/warren-core/pkg/control"
	"github.com/cuemby/warren-core/pkg/governance"
	"github.com/cuemby/warren-core/pkg/intent"
	"github.com/cuemby/warren-core/pkg/kerrors"
	"github.com/cuemby/warren-core/pkg/ledger"
	"github.com/cuemby/warren-core/pkg/log"
	"github.com/cuemby/warren-core/pkg/metrics"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/cuemby/warren-core/pkg/verification"
	"github.com/cuemby/warren-core/pkg/watchdog"
	"github.com/rs/zerolog"
)

// Runtime owns every live component of the orchestration core.
type Runtime struct {
	Bus          *bus.Bus
	Ledger       *ledger.Log
	Clarity      *clarity.Kernel
	Governance   *governance.Engine
	Intent       *intent.Router
	Control      *control.Plane
	Verify       *verification.Framework
	TriggerStorm *watchdog.TriggerStormSafeguard
	Scheduler    *watchdog.SchedulerGuards
	HTM          *watchdog.HTMReadiness
	Layer2       *watchdog.Layer2Watchdog
	Metrics      *metrics.Collector

	logger   zerolog.Logger
	stopOnce sync.Once
}

// New constructs every component wired to a single Bus and a single
// Ledger backed by ledgerPath. Nothing is started.
func New(ledgerPath string, cfg config.Config) (*Runtime, error) {
	l, err := ledger.Open(ledgerPath)
	if err != nil {
		return nil, err
	}

	b := bus.New()

	clarityCfg := clarity.Config{HeartbeatTimeout: cfg.HeartbeatTimeout(), QuarantineThreshold: cfg.QuarantineThreshold}
	stormCfg := watchdog.StormConfig{
		StormThresholdEventsPerSecond: cfg.StormThresholdEPS,
		CircuitBreakerThreshold:       cfg.CircuitBreakerEPS10s,
		CircuitCooldown:               cfg.CircuitCooldown(),
	}

	rt := &Runtime{
		Bus:          b,
		Ledger:       l,
		Clarity:      clarity.New(b, l, clarityCfg),
		Governance:   governance.New(b, l),
		Intent:       intent.New(b, l),
		Control:      control.New(b, l),
		Verify:       verification.New(b, l, cfg.VerifyInterval()),
		TriggerStorm: watchdog.NewTriggerStormSafeguard(b, stormCfg),
		Scheduler:    watchdog.NewSchedulerGuards(b),
		HTM:          watchdog.NewHTMReadiness(b, 0),
		Layer2:       watchdog.NewLayer2Watchdog(b),
		logger:       log.WithComponent("runtime"),
	}

	rt.Metrics = metrics.NewCollector(rt)
	rt.registerCoreVerificationRules()
	return rt, nil
}

// ActiveTopics, LedgerLen, TrustScores, and RunningKernels implement
// metrics.Sampler, letting Metrics poll the Runtime's own components
// directly instead of duplicating their bookkeeping.

func (rt *Runtime) ActiveTopics() int {
	return rt.Bus.Stats().ActiveTopics
}

func (rt *Runtime) LedgerLen() int {
	return rt.Ledger.Len()
}

func (rt *Runtime) TrustScores() map[string]int {
	return rt.Clarity.TrustScores()
}

func (rt *Runtime) RunningKernels() int {
	return rt.Control.GetStatus().RunningKernels
}

// Start brings up the bus first (every other component depends on it),
// then every other subsystem. Order matches the dependency structure the
// Control Plane would otherwise need to express for these always-on
// kernels.
func (rt *Runtime) Start() error {
	if err := rt.Bus.Start(); err != nil {
		return err
	}
	if err := rt.Clarity.Start(); err != nil {
		return err
	}
	if err := rt.Governance.Start(); err != nil {
		return err
	}
	if err := rt.Verify.Start(); err != nil {
		return err
	}
	if err := rt.TriggerStorm.Start(); err != nil {
		return err
	}
	if err := rt.Scheduler.Start(); err != nil {
		return err
	}
	if err := rt.HTM.Start(); err != nil {
		return err
	}
	if err := rt.Layer2.Start(); err != nil {
		return err
	}
	rt.Metrics.Start()
	rt.logger.Info().Msg("runtime started")
	return nil
}

// Stop halts every background subsystem and closes the ledger. Safe to
// call more than once; only the first call has any effect.
func (rt *Runtime) Stop() {
	rt.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		rt.Metrics.Stop()
		rt.Control.Stop(ctx)
		rt.Layer2.Stop()
		rt.HTM.Stop()
		rt.Scheduler.Stop()
		rt.TriggerStorm.Stop()
		rt.Verify.Stop()
		rt.Governance.Stop()
		rt.Clarity.Stop()
		rt.Bus.Stop()

		if err := rt.Ledger.Close(); err != nil {
			rt.logger.Error().Err(err).Msg("ledger close failed")
		}
		rt.logger.Info().Msg("runtime stopped")
	})
}

// registerCoreVerificationRules registers three boot invariants: bus
// running, ledger writable, and critical kernels running. No rule checks
// that governance has not been bypassed.
func (rt *Runtime) registerCoreVerificationRules() {
	rt.Verify.AddRule(&verification.Rule{
		RuleID:      "bus_running",
		Description: "message bus must be running",
		Severity:    types.SeverityCritical,
		CheckFn: func() bool {
			stats := rt.Bus.Stats()
			return stats.TotalMessages >= 0 // bus is operating; Stats never errors once started
		},
	})

	rt.Verify.AddRule(&verification.Rule{
		RuleID:      "ledger_writable",
		Description: "immutable log must accept appends",
		Severity:    types.SeverityCritical,
		CheckFn: func() bool {
			_, err := rt.Ledger.Append("verification", "self_check", "ledger_writable", nil, nil)
			return err == nil
		},
	})

	rt.Verify.AddRule(&verification.Rule{
		RuleID:      "critical_kernels_running",
		Description: "every critical kernel registered with the control plane is running",
		Severity:    types.SeverityCritical,
		CheckFn: func() bool {
			status := rt.Control.GetStatus()
			for _, k := range status.Kernels {
				if k.Critical && k.State != control.StateRunning {
					return false
				}
			}
			return true
		},
	})
}

// ErrRuntimeNotReady is kerrors.ErrNotStarted under a substrate name; no
// Runtime method returns it.
var ErrRuntimeNotReady = kerrors.ErrNotStarted
