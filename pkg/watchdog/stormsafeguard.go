// Package watchdog implements the Watchdogs & Safeguards: cooperating
// background monitors that sample bus and component state every 10-15s and
// raise incidents — the same periodic-ticker health-check shape used
// elsewhere in the core, applied here to event-rate, queue-depth, and
// readiness monitoring over the message bus instead of polling node and
// task state.
package watchdog

import (
	"errors"
	"sync"
	"time"

	"github.com/cuemby/warren-core/pkg/bus"
	"github.com/cuemby/warren-core/pkg/log"
	"github.com/cuemby/warren-core/pkg/metrics"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const (
	// DefaultStormThresholdEventsPerSecond is the per-event-type rate
	// that, if exceeded in the last second, is a storm.
	DefaultStormThresholdEventsPerSecond = 100
	// DefaultCascadeDepthLimit is how many recent events are examined for
	// the cascade (low type diversity) check.
	DefaultCascadeDepthLimit = 10
	// DefaultCircuitBreakerThreshold is the all-types event count in the
	// last 10s that opens the circuit.
	DefaultCircuitBreakerThreshold = 500
	// DefaultCircuitCooldown is how long the circuit stays open.
	DefaultCircuitCooldown = 60 * time.Second

	ringBufferWindow = 5 * time.Minute
)

// StormConfig tunes TriggerStormSafeguard. Zero values fall back to
// defaults.
type StormConfig struct {
	StormThresholdEventsPerSecond int
	CascadeDepthLimit             int
	CircuitBreakerThreshold       int
	CircuitCooldown               time.Duration
}

func (c StormConfig) withDefaults() StormConfig {
	if c.StormThresholdEventsPerSecond == 0 {
		c.StormThresholdEventsPerSecond = DefaultStormThresholdEventsPerSecond
	}
	if c.CascadeDepthLimit == 0 {
		c.CascadeDepthLimit = DefaultCascadeDepthLimit
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = DefaultCircuitBreakerThreshold
	}
	if c.CircuitCooldown == 0 {
		c.CircuitCooldown = DefaultCircuitCooldown
	}
	return c
}

type eventObservation struct {
	eventType types.MessageType
	at        time.Time
}

// TriggerStormSafeguard watches every bus publish via a wildcard
// subscription and detects three failure modes: a single-type storm, a
// low-diversity cascade, and a global circuit-breaker trip.
type TriggerStormSafeguard struct {
	cfg    StormConfig
	bus    *bus.Bus
	logger zerolog.Logger
	cb     *gobreaker.CircuitBreaker[any]

	mu            sync.Mutex
	history       []eventObservation
	stormActive   map[types.MessageType]bool
	cascadeActive bool

	watchQ *bus.Queue
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewTriggerStormSafeguard constructs the safeguard wired to b.
func NewTriggerStormSafeguard(b *bus.Bus, cfg StormConfig) *TriggerStormSafeguard {
	cfg = cfg.withDefaults()
	s := &TriggerStormSafeguard{
		cfg:         cfg,
		bus:         b,
		logger:      log.WithComponent("watchdog.trigger_storm"),
		stormActive: make(map[types.MessageType]bool),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	settings := gobreaker.Settings{
		Name:     "trigger_storm",
		Interval: 10 * time.Second,
		Timeout:  cfg.CircuitCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.Requests) > cfg.CircuitBreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("trigger storm circuit state changed")
			metrics.CircuitBreakerState.Set(float64(to))
			if to == gobreaker.StateOpen {
				_ = s.bus.Publish("watchdog.trigger_storm", types.TopicEventEmergency, map[string]any{
					"reason": "circuit_breaker_open",
				}, bus.PublishOptions{Priority: types.PriorityCritical})
			}
		},
	}
	s.cb = gobreaker.NewCircuitBreaker[any](settings)
	return s
}

// Start subscribes to every topic and begins observing publishes.
func (s *TriggerStormSafeguard) Start() error {
	s.watchQ = s.bus.Subscribe("watchdog.trigger_storm", "*")
	go s.loop()
	s.logger.Info().Msg("trigger storm safeguard started")
	return nil
}

// Stop halts observation.
func (s *TriggerStormSafeguard) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.bus.Unsubscribe("watchdog.trigger_storm", "")
}

func (s *TriggerStormSafeguard) loop() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		msg, ok := s.watchQ.Receive()
		if !ok {
			return
		}
		s.Observe(msg.Type, time.Now())
	}
}

// Observe records one event and checks all three failure modes. Exposed
// directly so tests and the Layer-2 Watchdog can feed synthetic load
// without going through the bus.
func (s *TriggerStormSafeguard) Observe(eventType types.MessageType, at time.Time) {
	// While the circuit is open, Execute returns gobreaker.ErrOpenState
	// without running the function, so the event is not recorded. An
	// observation that finds more than CircuitBreakerThreshold events in
	// the last 10s reports a failure, because gobreaker evaluates
	// ReadyToTrip only after a failed request. Neither error is returned.
	_, _ = s.cb.Execute(func() (any, error) {
		s.record(eventType, at)
		s.mu.Lock()
		recent := 0
		cutoff := at.Add(-10 * time.Second)
		for i := len(s.history) - 1; i >= 0 && !s.history[i].at.Before(cutoff); i-- {
			recent++
		}
		s.mu.Unlock()
		if recent > s.cfg.CircuitBreakerThreshold {
			return nil, errors.New("trigger storm: event count over circuit breaker threshold")
		}
		return nil, nil
	})
}

func (s *TriggerStormSafeguard) record(eventType types.MessageType, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, eventObservation{eventType: eventType, at: at})
	cutoff := at.Add(-ringBufferWindow)
	i := 0
	for i < len(s.history) && s.history[i].at.Before(cutoff) {
		i++
	}
	s.history = s.history[i:]

	s.checkStorm(eventType, at)
	s.checkCascade()
}

// checkStorm emits an incident the moment eventType first exceeds the
// per-second threshold, then latches: further observations while the rate
// stays above threshold raise no additional incident. The latch clears
// once the rate drops back to or below threshold, so a later storm of the
// same type is reported again. Caller must hold s.mu.
func (s *TriggerStormSafeguard) checkStorm(eventType types.MessageType, at time.Time) {
	count := 0
	cutoff := at.Add(-time.Second)
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].at.Before(cutoff) {
			break
		}
		if s.history[i].eventType == eventType {
			count++
		}
	}
	if count <= s.cfg.StormThresholdEventsPerSecond {
		s.stormActive[eventType] = false
		return
	}
	if s.stormActive[eventType] {
		return
	}
	s.stormActive[eventType] = true
	s.emitIncident("trigger_storm_mitigation", eventType)
}

// checkCascade emits an incident the moment the last CascadeDepthLimit
// events first span fewer than 3 distinct types, then latches until
// diversity recovers. Caller must hold s.mu.
func (s *TriggerStormSafeguard) checkCascade() {
	n := s.cfg.CascadeDepthLimit
	if len(s.history) < n {
		return
	}
	window := s.history[len(s.history)-n:]
	distinct := make(map[types.MessageType]struct{})
	for _, obs := range window {
		distinct[obs.eventType] = struct{}{}
	}
	if len(distinct) >= 3 {
		s.cascadeActive = false
		return
	}
	if s.cascadeActive {
		return
	}
	s.cascadeActive = true
	s.emitIncident("event_cascade_breaker", window[len(window)-1].eventType)
}

func (s *TriggerStormSafeguard) emitIncident(playbook string, eventType types.MessageType) {
	s.logger.Warn().Str("playbook", playbook).Str("event_type", string(eventType)).Msg("watchdog incident")
	metrics.IncidentsTotal.WithLabelValues(playbook).Inc()
	_ = s.bus.Publish("watchdog.trigger_storm", types.TopicEventIncident, map[string]any{
		"playbook":   playbook,
		"event_type": string(eventType),
	}, bus.PublishOptions{Priority: types.PriorityHigh})
}

// CircuitState reports the current breaker state.
func (s *TriggerStormSafeguard) CircuitState() gobreaker.State {
	return s.cb.State()
}
