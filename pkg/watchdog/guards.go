package watchdog

import (
	"sync"
	"time"

	"github.com/cuemby/warren-core/pkg/bus"
	"github.com/cuemby/warren-core/pkg/log"
	"github.com/cuemby/warren-core/pkg/metrics"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultQueueDepthWarn is the scheduler queue depth that raises a
	// warning-level incident.
	DefaultQueueDepthWarn = 500
	// DefaultQueueDepthCritical is the queue depth that raises a
	// critical-level incident.
	DefaultQueueDepthCritical = 2000
	// DefaultSchedulerHeartbeatTimeout bounds how long the scheduler may
	// go without a heartbeat before it's considered unhealthy.
	DefaultSchedulerHeartbeatTimeout = 30 * time.Second
	// DefaultMinWorkers is the HTM Readiness floor for live workers.
	DefaultMinWorkers = 3
	// DefaultWorkerHeartbeatTimeout bounds a single worker's heartbeat.
	DefaultWorkerHeartbeatTimeout = 30 * time.Second

	sampleInterval = 10 * time.Second
)

// SchedulerHealth is the observed state the Scheduler Guards watchdog
// samples from the scheduler. Callers feed this in via ReportHealth;
// nothing in this package runs a scheduler itself.
type SchedulerHealth struct {
	IsReady       bool
	IsHealthy     bool
	QueueDepth    int
	DispatchRate  float64
	LastHeartbeat time.Time
	ErrorCount    int
}

// SchedulerGuards watches scheduler health and raises incidents on queue
// depth or heartbeat breaches.
type SchedulerGuards struct {
	bus    *bus.Bus
	logger zerolog.Logger

	mu     sync.Mutex
	health SchedulerHealth

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSchedulerGuards constructs the watchdog wired to b.
func NewSchedulerGuards(b *bus.Bus) *SchedulerGuards {
	return &SchedulerGuards{
		bus:    b,
		logger: log.WithComponent("watchdog.scheduler_guards"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// ReportHealth records the scheduler's latest self-reported health.
func (g *SchedulerGuards) ReportHealth(h SchedulerHealth) {
	g.mu.Lock()
	g.health = h
	g.mu.Unlock()
}

// Start begins the periodic sample loop.
func (g *SchedulerGuards) Start() error {
	go g.loop()
	g.logger.Info().Msg("scheduler guards started")
	return nil
}

// Stop halts the sample loop.
func (g *SchedulerGuards) Stop() {
	close(g.stopCh)
	<-g.doneCh
}

func (g *SchedulerGuards) loop() {
	defer close(g.doneCh)
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.sample()
		}
	}
}

func (g *SchedulerGuards) sample() {
	g.mu.Lock()
	h := g.health
	g.mu.Unlock()

	if time.Since(h.LastHeartbeat) > DefaultSchedulerHeartbeatTimeout {
		g.emit("scheduler_recovery", types.PriorityHigh, "scheduler heartbeat timeout")
		return
	}
	switch {
	case h.QueueDepth > DefaultQueueDepthCritical:
		g.emit("scheduler_load_shedding", types.PriorityCritical, "scheduler queue depth critical")
	case h.QueueDepth > DefaultQueueDepthWarn:
		g.emit("scheduler_load_shedding", types.PriorityHigh, "scheduler queue depth warning")
	}
}

func (g *SchedulerGuards) emit(playbook string, priority types.Priority, reason string) {
	g.logger.Warn().Str("playbook", playbook).Str("reason", reason).Msg("scheduler guard incident")
	metrics.IncidentsTotal.WithLabelValues(playbook).Inc()
	_ = g.bus.Publish("watchdog.scheduler_guards", types.TopicEventIncident, map[string]any{
		"playbook": playbook,
		"reason":   reason,
	}, bus.PublishOptions{Priority: priority})
}

// WorkerStatus is one worker's last-known liveness.
type WorkerStatus struct {
	LastHeartbeat time.Time
}

// HTMReadiness verifies a minimum pool of live workers and an initialized
// intent queue.
type HTMReadiness struct {
	bus        *bus.Bus
	logger     zerolog.Logger
	minWorkers int

	mu         sync.Mutex
	workers    map[string]WorkerStatus
	queueReady bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHTMReadiness constructs the watchdog wired to b, requiring at least
// minWorkers (0 uses DefaultMinWorkers).
func NewHTMReadiness(b *bus.Bus, minWorkers int) *HTMReadiness {
	if minWorkers == 0 {
		minWorkers = DefaultMinWorkers
	}
	return &HTMReadiness{
		bus:        b,
		logger:     log.WithComponent("watchdog.htm_readiness"),
		minWorkers: minWorkers,
		workers:    make(map[string]WorkerStatus),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// ReportWorkerHeartbeat records a liveness ping from workerID.
func (h *HTMReadiness) ReportWorkerHeartbeat(workerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers[workerID] = WorkerStatus{LastHeartbeat: time.Now()}
}

// SetQueueReady marks whether the intent queue has initialized.
func (h *HTMReadiness) SetQueueReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queueReady = ready
}

// Start begins the periodic readiness sample loop.
func (h *HTMReadiness) Start() error {
	go h.loop()
	h.logger.Info().Msg("HTM readiness watchdog started")
	return nil
}

// Stop halts the sample loop.
func (h *HTMReadiness) Stop() {
	close(h.stopCh)
	<-h.doneCh
}

func (h *HTMReadiness) loop() {
	defer close(h.doneCh)
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.sample()
		}
	}
}

func (h *HTMReadiness) sample() {
	h.mu.Lock()
	live := 0
	var dead []string
	now := time.Now()
	for id, status := range h.workers {
		if now.Sub(status.LastHeartbeat) <= DefaultWorkerHeartbeatTimeout {
			live++
		} else {
			dead = append(dead, id)
		}
	}
	queueReady := h.queueReady
	h.mu.Unlock()

	for _, id := range dead {
		h.logger.Warn().Str("worker_id", id).Msg("worker heartbeat timeout")
		metrics.IncidentsTotal.WithLabelValues("htm_worker_recovery").Inc()
		_ = h.bus.Publish("watchdog.htm_readiness", types.TopicEventIncident, map[string]any{
			"playbook":  "htm_worker_recovery",
			"worker_id": id,
		}, bus.PublishOptions{Priority: types.PriorityHigh})
	}

	if live < h.minWorkers || !queueReady {
		h.logger.Warn().Int("live_workers", live).Bool("queue_ready", queueReady).Msg("HTM not ready")
	}
}

// IsReady reports whether the minimum worker pool and queue are both
// healthy right now.
func (h *HTMReadiness) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	live := 0
	now := time.Now()
	for _, status := range h.workers {
		if now.Sub(status.LastHeartbeat) <= DefaultWorkerHeartbeatTimeout {
			live++
		}
	}
	return live >= h.minWorkers && h.queueReady
}
