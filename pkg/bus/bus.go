// Package bus implements the in-process, topic-addressed, priority-aware
// publish/subscribe core every kernel in the orchestration substrate talks
// through: a typed, ACL-aware bus with bounded per-subscriber queues and
// wildcard topic matching.
package bus

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/warren-core/pkg/kerrors"
	"github.com/cuemby/warren-core/pkg/log"
	"github.com/cuemby/warren-core/pkg/metrics"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultQueueCapacity is the bounded capacity given to a subscription
// that does not request one explicitly.
const DefaultQueueCapacity = 1024

type subscriptionKey struct {
	subscriber string
	pattern    string
}

// Stats is a point-in-time snapshot of bus activity.
type Stats struct {
	TotalMessages uint64
	ActiveTopics  int
	Drops         map[string]uint64 // subscriber -> total dropped messages
}

// Bus is the shared in-process message bus. Zero value is not usable; use
// New.
type Bus struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	started bool
	stopped bool

	subs  map[subscriptionKey]*subscriberQueue
	order map[string][]string // subscriber -> patterns, in subscribe order (for stable Unsubscribe-all)

	acl map[string]map[types.MessageType]bool // source -> topic -> allow

	totalMessages uint64
	topicsSeen    map[types.MessageType]struct{}
}

// New constructs a Bus. Call Start before the first Publish.
func New() *Bus {
	return &Bus{
		subs:       make(map[subscriptionKey]*subscriberQueue),
		order:      make(map[string][]string),
		acl:        make(map[string]map[types.MessageType]bool),
		topicsSeen: make(map[types.MessageType]struct{}),
		logger:     log.WithComponent("bus"),
	}
}

// Start marks the bus running. Publish fails with ErrNotStarted before
// Start is called.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return kerrors.ErrAlreadyStarted
	}
	b.started = true
	b.logger.Info().Msg("message bus started")
	return nil
}

// Stop drains every subscriber queue to a sentinel (a closed Queue whose
// Receive returns ok=false) and refuses further publishes.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	for _, q := range b.subs {
		q.close()
	}
	b.logger.Info().Msg("message bus stopped")
}

// SetACL records an allow/deny decision for (source, topic). Absence of an
// entry means allow.
func (b *Bus) SetACL(source string, topic types.MessageType, allow bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries, ok := b.acl[source]
	if !ok {
		entries = make(map[types.MessageType]bool)
		b.acl[source] = entries
	}
	entries[topic] = allow
}

// Subscribe registers subscriber for topicPattern and returns its bounded
// queue. Re-subscribing the same (subscriber, pattern) pair is idempotent
// and returns the existing queue.
func (b *Bus) Subscribe(subscriber, topicPattern string) *Queue {
	return b.SubscribeWithCapacity(subscriber, topicPattern, DefaultQueueCapacity)
}

// SubscribeWithCapacity is Subscribe with an explicit bounded capacity.
func (b *Bus) SubscribeWithCapacity(subscriber, topicPattern string, capacity int) *Queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := subscriptionKey{subscriber: subscriber, pattern: topicPattern}
	if q, exists := b.subs[key]; exists {
		return &Queue{inner: q}
	}

	q := newSubscriberQueue(capacity)
	b.subs[key] = q
	b.order[subscriber] = append(b.order[subscriber], topicPattern)
	return &Queue{inner: q}
}

// Unsubscribe removes one subscription (topicPattern non-empty) or every
// subscription for subscriber (topicPattern == "").
func (b *Bus) Unsubscribe(subscriber, topicPattern string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if topicPattern == "" {
		for _, pattern := range b.order[subscriber] {
			key := subscriptionKey{subscriber: subscriber, pattern: pattern}
			if q, ok := b.subs[key]; ok {
				q.close()
				delete(b.subs, key)
			}
		}
		delete(b.order, subscriber)
		return
	}

	key := subscriptionKey{subscriber: subscriber, pattern: topicPattern}
	if q, ok := b.subs[key]; ok {
		q.close()
		delete(b.subs, key)
	}
	patterns := b.order[subscriber]
	for i, p := range patterns {
		if p == topicPattern {
			b.order[subscriber] = append(patterns[:i], patterns[i+1:]...)
			break
		}
	}
}

// PublishOptions customizes a Publish call beyond the required fields.
type PublishOptions struct {
	Priority      types.Priority
	CorrelationID string
	TrustLevel    types.TrustLevel
	Target        string
}

// Publish delivers payload under topic to every subscriber whose pattern
// matches, subject to ACL. It returns after enqueueing, not after
// consumption: delivery to a full subscriber queue is dropped for that
// subscriber only, never for the whole publish.
func (b *Bus) Publish(source string, topic types.MessageType, payload map[string]any, opts PublishOptions) error {
	if source == "" {
		return fmt.Errorf("publish: %w: source must be non-empty", kerrors.ErrContractViolation)
	}

	b.mu.RLock()
	if !b.started {
		b.mu.RUnlock()
		return kerrors.ErrNotStarted
	}
	if b.stopped {
		b.mu.RUnlock()
		return kerrors.ErrNotStarted
	}
	if allow, ok := b.acl[source][topic]; ok && !allow {
		b.mu.RUnlock()
		return nil
	}
	b.mu.RUnlock()

	priority := opts.Priority
	if priority == 0 {
		priority = types.PriorityNormal
	}
	trust := opts.TrustLevel
	if trust == "" {
		trust = types.TrustMedium
	}

	msg := types.Message{
		Type:    topic,
		Source:  source,
		Target:  opts.Target,
		Payload: payload,
		Metadata: types.Metadata{
			Timestamp:     time.Now(),
			CorrelationID: opts.CorrelationID,
			TrustLevel:    trust,
			SourceKernel:  source,
			Priority:      priority,
		},
	}

	if msg.Metadata.CorrelationID != "" {
		log.WithCorrelationID(msg.Metadata.CorrelationID).Debug().
			Str("topic", string(topic)).Str("source", source).Msg("message published")
	}

	b.mu.Lock()
	b.totalMessages++
	b.topicsSeen[topic] = struct{}{}
	type matchedSub struct {
		subscriber string
		queue      *subscriberQueue
	}
	matched := make([]matchedSub, 0, 4)
	for key, q := range b.subs {
		if matchTopic(key.pattern, string(topic)) {
			matched = append(matched, matchedSub{subscriber: key.subscriber, queue: q})
		}
	}
	b.mu.Unlock()

	metrics.BusMessagesTotal.Inc()
	for _, m := range matched {
		if !m.queue.enqueue(msg) {
			metrics.BusDropsTotal.WithLabelValues(m.subscriber).Inc()
		}
	}
	return nil
}

// Stats returns a snapshot of bus activity.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	drops := make(map[string]uint64, len(b.order))
	for subscriber, patterns := range b.order {
		var total uint64
		for _, pattern := range patterns {
			key := subscriptionKey{subscriber: subscriber, pattern: pattern}
			if q, ok := b.subs[key]; ok {
				total += q.dropCount()
			}
		}
		drops[subscriber] = total
	}

	return Stats{
		TotalMessages: b.totalMessages,
		ActiveTopics:  len(b.topicsSeen),
		Drops:         drops,
	}
}

// matchTopic reports whether pattern matches topic. "*" matches every
// topic; a trailing ".*" matches exactly one further segment; otherwise
// pattern must equal topic.
func matchTopic(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == topic {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := pattern[:len(pattern)-2]
		rest, ok := strings.CutPrefix(topic, prefix+".")
		if !ok {
			return false
		}
		return rest != "" && !strings.Contains(rest, ".")
	}
	return false
}
