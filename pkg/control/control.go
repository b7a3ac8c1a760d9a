// Package control implements the Control Plane: dependency-ordered
// lifecycle management for every registered kernel, with exponential
// back-off restart of critical kernels. It applies the same dependency-
// aware placement plus reconciliation-loop shape (driving actual state
// toward desired state) to a single process managing in-process
// goroutines instead of placing containers across a cluster.
package control

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cuemby/warren-core/pkg/bus"
	"github.com/cuemby/warren-core/pkg/kerrors"
	"github.com/cuemby/warren-core/pkg/ledger"
	"github.com/cuemby/warren-core/pkg/log"
	"github.com/cuemby/warren-core/pkg/metrics"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/rs/zerolog"
)

// State is a kernel's lifecycle state within the Control Plane.
type State string

const (
	StatePending  State = "pending"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// SystemState is the Control Plane's own aggregate health.
type SystemState string

const (
	SystemNominal  SystemState = "nominal"
	SystemDegraded SystemState = "degraded"
)

const (
	// RestartInitialInterval is the first restart back-off delay.
	RestartInitialInterval = 1 * time.Second
	// RestartMaxInterval caps the back-off delay.
	RestartMaxInterval = 30 * time.Second
	// RestartMaxAttempts bounds restart attempts before giving up.
	RestartMaxAttempts = 5
	// DefaultStartTimeout bounds how long a critical kernel has to reach
	// StateRunning during Start.
	DefaultStartTimeout = 10 * time.Second
	// DefaultStopTimeout bounds a graceful Stop before it is aborted.
	DefaultStopTimeout = 10 * time.Second
)

// Descriptor registers one kernel with the Control Plane.
type Descriptor struct {
	Name         string
	StartFn      func(ctx context.Context) error
	StopFn       func(ctx context.Context) error
	HealthFn     func() bool
	Critical     bool
	Dependencies []string
}

type kernelEntry struct {
	desc  Descriptor
	mu    sync.Mutex
	state State
}

// Plane owns the kernel table and its dependency-ordered lifecycle.
// Nothing outside Plane mutates kernelEntry.state.
type Plane struct {
	bus    *bus.Bus
	ledger *ledger.Log
	logger zerolog.Logger

	mu      sync.RWMutex
	kernels map[string]*kernelEntry
	order   []string // topologically sorted at Start time

	systemState SystemState

	restartInitial  time.Duration
	restartMax      time.Duration
	restartMaxTries int
}

// New constructs an empty Control Plane wired to b and l, using the
// standard restart back-off policy (1s initial, 30s cap, 5 attempts).
func New(b *bus.Bus, l *ledger.Log) *Plane {
	return &Plane{
		bus:             b,
		ledger:          l,
		logger:          log.WithComponent("control"),
		kernels:         make(map[string]*kernelEntry),
		systemState:     SystemNominal,
		restartInitial:  RestartInitialInterval,
		restartMax:      RestartMaxInterval,
		restartMaxTries: RestartMaxAttempts,
	}
}

// NewWithRestartPolicy is New with an overridden restart back-off policy,
// chiefly useful for tests that cannot wait out the standard schedule.
func NewWithRestartPolicy(b *bus.Bus, l *ledger.Log, initial, max time.Duration, maxTries int) *Plane {
	p := New(b, l)
	p.restartInitial = initial
	p.restartMax = max
	p.restartMaxTries = maxTries
	return p
}

// Register adds a kernel descriptor. Call before Start.
func (p *Plane) Register(desc Descriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("control: %w: kernel name must be non-empty", kerrors.ErrContractViolation)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kernels[desc.Name] = &kernelEntry{desc: desc, state: StatePending}
	return nil
}

// Start brings up every registered kernel in dependency order. Each
// critical kernel must reach StateRunning within DefaultStartTimeout or
// Start fails; non-critical kernels that fail to start are logged and
// skipped.
func (p *Plane) Start(ctx context.Context) error {
	p.mu.Lock()
	order, err := p.topoOrder()
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.order = order
	p.mu.Unlock()

	for _, name := range order {
		p.mu.RLock()
		entry := p.kernels[name]
		p.mu.RUnlock()

		if err := p.startOne(ctx, entry); err != nil {
			if entry.desc.Critical {
				return fmt.Errorf("control: critical kernel %q failed to start: %w", name, err)
			}
			p.logger.Warn().Str("kernel", name).Err(err).Msg("non-critical kernel failed to start")
		}
	}

	p.logger.Info().Int("kernels", len(order)).Msg("control plane started")
	return nil
}

func (p *Plane) startOne(ctx context.Context, entry *kernelEntry) error {
	entry.mu.Lock()
	entry.state = StateStarting
	entry.mu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, DefaultStartTimeout)
	defer cancel()

	err := entry.desc.StartFn(startCtx)

	entry.mu.Lock()
	if err != nil {
		entry.state = StateFailed
	} else {
		entry.state = StateRunning
	}
	entry.mu.Unlock()

	if p.ledger != nil {
		_, _ = p.ledger.Append("control", "kernel_start", entry.desc.Name, map[string]any{
			"success": err == nil,
		}, nil)
	}
	return err
}

// Stop brings down every kernel in reverse dependency order, with a bounded
// timeout per kernel.
func (p *Plane) Stop(ctx context.Context) {
	p.mu.RLock()
	order := make([]string, len(p.order))
	copy(order, p.order)
	p.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		p.mu.RLock()
		entry := p.kernels[order[i]]
		p.mu.RUnlock()

		entry.mu.Lock()
		entry.state = StateStopping
		entry.mu.Unlock()

		stopCtx, cancel := context.WithTimeout(ctx, DefaultStopTimeout)
		if entry.desc.StopFn != nil {
			if err := entry.desc.StopFn(stopCtx); err != nil {
				p.logger.Warn().Str("kernel", entry.desc.Name).Err(err).Msg("kernel stop failed or timed out")
			}
		}
		cancel()

		entry.mu.Lock()
		entry.state = StateStopped
		entry.mu.Unlock()
	}
	p.logger.Info().Msg("control plane stopped")
}

// ReportFailure transitions name from running to failed and, if critical,
// launches the restart back-off policy. Non-critical kernels are simply
// marked failed.
func (p *Plane) ReportFailure(ctx context.Context, name string) {
	p.mu.RLock()
	entry, ok := p.kernels[name]
	p.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	entry.state = StateFailed
	critical := entry.desc.Critical
	entry.mu.Unlock()

	if !critical {
		return
	}
	go p.restartWithBackoff(ctx, entry)
}

// restartWithBackoff retries StartFn with exponential back-off (initial
// 1s, cap 30s) up to RestartMaxAttempts times. After the cap it marks the
// system degraded and publishes system.control.
func (p *Plane) restartWithBackoff(ctx context.Context, entry *kernelEntry) {
	kernelLog := log.WithKernelID(entry.desc.Name)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.restartInitial
	b.MaxInterval = p.restartMax

	attempts := 0
	for attempts < p.restartMaxTries {
		delay := b.NextBackOff()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		attempts++
		metrics.KernelRestartsTotal.WithLabelValues(entry.desc.Name).Inc()
		if err := p.startOne(ctx, entry); err == nil {
			kernelLog.Info().Int("attempt", attempts).Msg("kernel restarted")
			return
		}
		kernelLog.Warn().Int("attempt", attempts).Msg("kernel restart attempt failed")
	}

	p.mu.Lock()
	p.systemState = SystemDegraded
	p.mu.Unlock()

	metrics.SystemDegradedTotal.Inc()
	kernelLog.Error().Msg("kernel exhausted restart attempts, system degraded")
	_ = p.bus.Publish("control", types.TopicSystemControl, map[string]any{
		"reason": "restart_exhausted",
		"kernel": entry.desc.Name,
	}, bus.PublishOptions{Priority: types.PriorityCritical})

	if p.ledger != nil {
		_, _ = p.ledger.Append("control", "system_degraded", entry.desc.Name, nil, nil)
	}
}

// KernelStatus is one row of GetStatus's kernel table.
type KernelStatus struct {
	State    State
	Critical bool
}

// StatusReport is the Control Plane's get_status response.
type StatusReport struct {
	SystemState    SystemState
	TotalKernels   int
	RunningKernels int
	FailedKernels  int
	Kernels        map[string]KernelStatus
}

// GetStatus returns a snapshot of every kernel's lifecycle state.
func (p *Plane) GetStatus() StatusReport {
	p.mu.RLock()
	defer p.mu.RUnlock()

	report := StatusReport{
		SystemState: p.systemState,
		Kernels:     make(map[string]KernelStatus, len(p.kernels)),
	}
	for name, entry := range p.kernels {
		entry.mu.Lock()
		state := entry.state
		entry.mu.Unlock()

		report.Kernels[name] = KernelStatus{State: state, Critical: entry.desc.Critical}
		report.TotalKernels++
		switch state {
		case StateRunning:
			report.RunningKernels++
		case StateFailed:
			report.FailedKernels++
		}
	}
	return report
}

// topoOrder computes a dependency-respecting order over registered
// kernels via Kahn's algorithm. Caller must hold p.mu.
func (p *Plane) topoOrder() ([]string, error) {
	names := make([]string, 0, len(p.kernels))
	for name := range p.kernels {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic ordering among kernels with no mutual constraint

	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string)
	for _, name := range names {
		indegree[name] = 0
	}
	for _, name := range names {
		for _, dep := range p.kernels[name].desc.Dependencies {
			if _, ok := p.kernels[dep]; !ok {
				return nil, fmt.Errorf("control: kernel %q depends on unregistered kernel %q", name, dep)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	queue := make([]string, 0, len(names))
	for _, name := range names {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, dependent := range dependents[n] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(names) {
		return nil, fmt.Errorf("control: %w: dependency cycle detected among kernels", kerrors.ErrContractViolation)
	}
	return order, nil
}
