package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/warren-core/pkg/bus"
	"github.com/cuemby/warren-core/pkg/health"
	"github.com/cuemby/warren-core/pkg/log"
	"github.com/cuemby/warren-core/pkg/metrics"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/rs/zerolog"
)

// Layer2CheckInterval is how often the Layer-2 Watchdog polls its four
// named components and publishes aggregated telemetry.
const Layer2CheckInterval = 15 * time.Second

// ComponentCheck reports one named orchestration component's current
// readiness and health. Implementations are supplied by whatever owns
// that component; the watchdog only calls them on a timer.
type ComponentCheck func() (ready bool, healthy bool)

type registeredComponent struct {
	check  ComponentCheck
	status *health.Status
}

// Layer2Watchdog periodically checks the HTM orchestrator, trigger mesh,
// event policy engine, and scheduler for readiness and health, publishing
// aggregated telemetry and raising alerts on unhealthy components. Each
// component's raw poll is debounced through a health.Status so a single
// bad poll does not itself raise an incident.
type Layer2Watchdog struct {
	bus    *bus.Bus
	logger zerolog.Logger
	cfg    health.Config

	mu         sync.Mutex
	components map[string]*registeredComponent

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewLayer2Watchdog constructs the watchdog wired to b.
func NewLayer2Watchdog(b *bus.Bus) *Layer2Watchdog {
	cfg := health.DefaultConfig()
	cfg.Interval = Layer2CheckInterval
	return &Layer2Watchdog{
		bus:        b,
		logger:     log.WithComponent("watchdog.layer2"),
		cfg:        cfg,
		components: make(map[string]*registeredComponent),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// RegisterComponent wires a named component's readiness/health check. The
// four expected names are htm_orchestrator, trigger_mesh,
// event_policy_engine, and scheduler, though the watchdog does not
// enforce that set.
func (w *Layer2Watchdog) RegisterComponent(name string, check ComponentCheck) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.components[name] = &registeredComponent{check: check, status: health.NewStatus()}
}

// Start begins the periodic check loop.
func (w *Layer2Watchdog) Start() error {
	go w.loop()
	w.logger.Info().Msg("layer-2 watchdog started")
	return nil
}

// Stop halts the check loop.
func (w *Layer2Watchdog) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Layer2Watchdog) loop() {
	defer close(w.doneCh)
	ticker := time.NewTicker(Layer2CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.checkAll()
		}
	}
}

func (w *Layer2Watchdog) checkAll() {
	w.mu.Lock()
	names := make([]string, 0, len(w.components))
	for name := range w.components {
		names = append(names, name)
	}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	telemetry := make(map[string]any, len(names))
	for _, name := range names {
		w.mu.Lock()
		rc := w.components[name]
		w.mu.Unlock()
		if rc == nil {
			continue
		}

		start := time.Now()
		ready, healthy := rc.check()
		result := health.Result{Healthy: healthy, CheckedAt: time.Now(), Duration: time.Since(start)}
		if ctx.Err() != nil {
			result = health.Result{Healthy: false, Message: "check timed out", CheckedAt: time.Now()}
		}

		wasHealthy := rc.status.Healthy
		rc.status.Update(result, w.cfg)
		telemetry[name] = map[string]any{"ready": ready, "healthy": rc.status.Healthy}

		if wasHealthy && !rc.status.Healthy {
			w.logger.Warn().Str("component", name).Msg("layer-2 component unhealthy")
			metrics.IncidentsTotal.WithLabelValues("layer2_component_unhealthy").Inc()
			_ = w.bus.Publish("watchdog.layer2", types.TopicEventIncident, map[string]any{
				"playbook":  "layer2_component_unhealthy",
				"component": name,
			}, bus.PublishOptions{Priority: types.PriorityHigh})
		}
	}

	_ = w.bus.Publish("watchdog.layer2", types.TopicEventMetric, map[string]any{
		"components": telemetry,
	}, bus.PublishOptions{})
}
