// Package clarity implements the Clarity Kernel: the registry of every
// running component, guardian of their contracts, and source of truth for
// trust — a trust-scored component table driven entirely by bus messages,
// in place of a registry that tracks placement and resource capacity.
package clarity

import (
	"sync"
	"time"

	"github.com/cuemby/warren-core/pkg/bus"
	"github.com/cuemby/warren-core/pkg/kerrors"
	"github.com/cuemby/warren-core/pkg/ledger"
	"github.com/cuemby/warren-core/pkg/log"
	"github.com/cuemby/warren-core/pkg/metrics"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultTrustIncreaseRate is added to a manifest's trust score on a
	// satisfied contract report.
	DefaultTrustIncreaseRate = 5
	// DefaultTrustDecreaseRate is subtracted on a violated contract or a
	// heartbeat miss.
	DefaultTrustDecreaseRate = 10
	// DefaultQuarantineThreshold is the trust score below which (strictly)
	// a manifest is quarantined.
	DefaultQuarantineThreshold = 30
	// DefaultHeartbeatTimeout is how long a manifest may go without a
	// heartbeat before a miss is recorded.
	DefaultHeartbeatTimeout = 60 * time.Second
	// DefaultHeartbeatMissLimit is the number of consecutive misses that
	// triggers quarantine.
	DefaultHeartbeatMissLimit = 3
	// sweepInterval is how often the background heartbeat sweep runs.
	sweepInterval = 30 * time.Second

	trustMin = 0
	trustMax = 100
)

// Config tunes the kernel's thresholds. Zero values fall back to defaults.
type Config struct {
	TrustIncreaseRate   int
	TrustDecreaseRate   int
	QuarantineThreshold int
	HeartbeatTimeout    time.Duration
	HeartbeatMissLimit  int
}

func (c Config) withDefaults() Config {
	if c.TrustIncreaseRate == 0 {
		c.TrustIncreaseRate = DefaultTrustIncreaseRate
	}
	if c.TrustDecreaseRate == 0 {
		c.TrustDecreaseRate = DefaultTrustDecreaseRate
	}
	if c.QuarantineThreshold == 0 {
		c.QuarantineThreshold = DefaultQuarantineThreshold
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.HeartbeatMissLimit == 0 {
		c.HeartbeatMissLimit = DefaultHeartbeatMissLimit
	}
	return c
}

// Kernel owns the manifest table. It is the only writer of manifest state;
// all mutation happens in response to its own bus subscriptions.
type Kernel struct {
	cfg    Config
	bus    *bus.Bus
	ledger *ledger.Log
	logger zerolog.Logger

	mu        sync.RWMutex
	manifests map[string]*types.Manifest

	registerQ  *bus.Queue
	statusQ    *bus.Queue
	heartbeatQ *bus.Queue
	stopCh     chan struct{}
	doneCh     chan struct{}
	started    bool
}

// New constructs a Clarity Kernel wired to b for messaging and l for audit.
func New(b *bus.Bus, l *ledger.Log, cfg Config) *Kernel {
	return &Kernel{
		cfg:       cfg.withDefaults(),
		bus:       b,
		ledger:    l,
		logger:    log.WithComponent("clarity"),
		manifests: make(map[string]*types.Manifest),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start subscribes to kernel.register/status/heartbeat and begins the
// background heartbeat sweep.
func (k *Kernel) Start() error {
	k.mu.Lock()
	if k.started {
		k.mu.Unlock()
		return kerrors.ErrAlreadyStarted
	}
	k.started = true
	k.mu.Unlock()

	k.registerQ = k.bus.Subscribe("clarity", string(types.TopicKernelRegister))
	k.statusQ = k.bus.Subscribe("clarity", string(types.TopicKernelStatus))
	k.heartbeatQ = k.bus.Subscribe("clarity", string(types.TopicKernelHeartbeat))

	go k.consume(k.registerQ, k.handleRegister)
	go k.consume(k.statusQ, k.handleStatus)
	go k.consume(k.heartbeatQ, k.handleHeartbeat)
	go k.sweepLoop()

	k.logger.Info().Msg("clarity kernel started")
	return nil
}

// Stop unsubscribes and halts the background sweep, waiting for it to exit.
func (k *Kernel) Stop() {
	k.mu.Lock()
	if !k.started {
		k.mu.Unlock()
		return
	}
	k.started = false
	k.mu.Unlock()

	close(k.stopCh)
	<-k.doneCh
	k.bus.Unsubscribe("clarity", "")
}

func (k *Kernel) consume(q *bus.Queue, handle func(types.Message)) {
	for {
		msg, ok := q.Receive()
		if !ok {
			return
		}
		handle(msg)
	}
}

func (k *Kernel) handleRegister(msg types.Message) {
	componentID, _ := msg.Payload["component_id"].(string)
	if componentID == "" {
		return
	}

	k.mu.Lock()
	if _, ok := k.manifests[componentID]; ok {
		// Idempotent: identical re-registration is a no-op.
		k.mu.Unlock()
		return
	}

	contracts := parseContracts(msg.Payload["contracts"])
	capabilities := parseStrings(msg.Payload["capabilities"])
	componentName, _ := msg.Payload["component_name"].(string)
	componentType, _ := msg.Payload["component_type"].(string)

	m := &types.Manifest{
		ComponentID:   componentID,
		ComponentName: componentName,
		ComponentType: componentType,
		Capabilities:  capabilities,
		Contracts:     contracts,
		RegisteredAt:  time.Now(),
		LastHeartbeat: time.Now(),
		TrustScore:    50,
		HealthState:   types.HealthUnknown,
	}
	k.manifests[componentID] = m
	k.mu.Unlock()

	k.logger.Info().Str("component_id", componentID).Msg("component registered")
	_ = k.bus.Publish("clarity", types.TopicKernelManifestUpdated, map[string]any{
		"component_id": componentID,
	}, bus.PublishOptions{})

	if k.ledger != nil {
		_, _ = k.ledger.Append("clarity", "register", componentID, nil, map[string]any{
			"component_type": componentType,
		})
	}
}

func (k *Kernel) handleStatus(msg types.Message) {
	componentID, _ := msg.Payload["component_id"].(string)
	if componentID == "" {
		return
	}

	k.mu.Lock()
	m, ok := k.manifests[componentID]
	if !ok {
		k.mu.Unlock()
		return
	}
	m.LastStatusReport = time.Now()
	if state, ok := msg.Payload["health_state"].(string); ok {
		m.HealthState = types.HealthState(state)
	}

	metrics, _ := msg.Payload["metrics"].(map[string]any)
	violated := false
	for name, raw := range metrics {
		contract, hasContract := m.Contracts[name]
		if !hasContract {
			continue
		}
		value, ok := toFloat(raw)
		if !ok {
			continue
		}
		if contract.Satisfies(value) {
			continue
		}
		violated = true
		m.ContractViolations++
	}

	var quarantine bool
	var reason string
	if violated {
		k.adjustTrust(m, -k.cfg.TrustDecreaseRate)
		if m.TrustScore < k.cfg.QuarantineThreshold {
			quarantine = true
			reason = "low_trust_score"
		}
	} else if len(metrics) > 0 {
		k.adjustTrust(m, k.cfg.TrustIncreaseRate)
	}
	trustScore := m.TrustScore
	k.mu.Unlock()

	_ = k.bus.Publish("clarity", types.TopicTrustScoreUpdated, map[string]any{
		"component_id": componentID,
		"trust_score":  trustScore,
	}, bus.PublishOptions{})

	if k.ledger != nil {
		_, _ = k.ledger.Append("clarity", "trust_update", componentID, map[string]any{
			"trust_score": trustScore,
		}, nil)
	}

	if quarantine {
		k.emitQuarantine(componentID, reason)
	}
}

func (k *Kernel) handleHeartbeat(msg types.Message) {
	componentID, _ := msg.Payload["component_id"].(string)
	if componentID == "" {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if m, ok := k.manifests[componentID]; ok {
		m.LastHeartbeat = time.Now()
		m.HeartbeatMisses = 0
	}
}

// adjustTrust mutates m.TrustScore by delta, bounded to [0, 100]. Caller
// must hold k.mu.
func (k *Kernel) adjustTrust(m *types.Manifest, delta int) {
	m.TrustScore += delta
	if m.TrustScore > trustMax {
		m.TrustScore = trustMax
	}
	if m.TrustScore < trustMin {
		m.TrustScore = trustMin
	}
}

func (k *Kernel) emitQuarantine(componentID, reason string) {
	k.logger.Warn().Str("component_id", componentID).Str("reason", reason).Msg("component quarantined")
	metrics.QuarantineEventsTotal.WithLabelValues(reason).Inc()
	_ = k.bus.Publish("clarity", types.TopicEventQuarantine, map[string]any{
		"component_id": componentID,
		"reason":       reason,
	}, bus.PublishOptions{Priority: types.PriorityHigh})

	if k.ledger != nil {
		_, _ = k.ledger.Append("clarity", "quarantine", componentID, nil, map[string]any{
			"reason": reason,
		})
	}
}

// sweepLoop runs every 30s, demoting manifests that have missed their
// heartbeat timeout.
func (k *Kernel) sweepLoop() {
	defer close(k.doneCh)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-k.stopCh:
			return
		case <-ticker.C:
			k.sweepOnce()
		}
	}
}

func (k *Kernel) sweepOnce() {
	now := time.Now()
	var toQuarantine []string
	type trustChange struct {
		componentID string
		trustScore  int
	}
	var changed []trustChange

	k.mu.Lock()
	for id, m := range k.manifests {
		if now.Sub(m.LastHeartbeat) <= k.cfg.HeartbeatTimeout {
			continue
		}
		m.HeartbeatMisses++
		k.adjustTrust(m, -k.cfg.TrustDecreaseRate)
		changed = append(changed, trustChange{componentID: id, trustScore: m.TrustScore})
		if m.HeartbeatMisses >= k.cfg.HeartbeatMissLimit {
			toQuarantine = append(toQuarantine, id)
		}
	}
	k.mu.Unlock()

	for _, c := range changed {
		_ = k.bus.Publish("clarity", types.TopicTrustScoreUpdated, map[string]any{
			"component_id": c.componentID,
			"trust_score":  c.trustScore,
		}, bus.PublishOptions{})

		if k.ledger != nil {
			_, _ = k.ledger.Append("clarity", "trust_update", c.componentID, map[string]any{
				"trust_score": c.trustScore,
			}, nil)
		}
	}

	for _, id := range toQuarantine {
		k.emitQuarantine(id, "heartbeat_miss")
	}
}

// Manifest returns a copy of the current manifest for componentID, if any.
func (k *Kernel) Manifest(componentID string) (types.Manifest, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	m, ok := k.manifests[componentID]
	if !ok {
		return types.Manifest{}, false
	}
	return *m, true
}

// Manifests returns a snapshot of every registered component's manifest.
func (k *Kernel) Manifests() []types.Manifest {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]types.Manifest, 0, len(k.manifests))
	for _, m := range k.manifests {
		out = append(out, *m)
	}
	return out
}

// TrustScores returns a snapshot of every registered component's current
// trust score, keyed by component ID.
func (k *Kernel) TrustScores() map[string]int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]int, len(k.manifests))
	for id, m := range k.manifests {
		out[id] = m.TrustScore
	}
	return out
}

func parseStrings(raw any) []string {
	list, ok := raw.([]string)
	if ok {
		return list
	}
	anyList, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(anyList))
	for _, v := range anyList {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func parseContracts(raw any) map[string]types.Contract {
	m, ok := raw.(map[string]types.Contract)
	if ok {
		return m
	}
	out := make(map[string]types.Contract)
	generic, ok := raw.(map[string]any)
	if !ok {
		return out
	}
	for name, v := range generic {
		spec, ok := v.(map[string]any)
		if !ok {
			continue
		}
		c := types.Contract{}
		if target, ok := toFloat(spec["target"]); ok {
			c.Target = &target
		}
		if min, ok := toFloat(spec["min"]); ok {
			c.Min = &min
		}
		if max, ok := toFloat(spec["max"]); ok {
			c.Max = &max
		}
		out[name] = c
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
