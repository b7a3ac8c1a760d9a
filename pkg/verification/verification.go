// Package verification implements the Verification Framework: a registry
// of named invariants, continuously re-checked on a timer, with optional
// auto-remediation. It applies the same desired-vs-observed-state,
// ticker-driven reconciliation shape to arbitrary boolean system
// invariants instead of a fixed set of infrastructure resources.
package verification

import (
	"sync"
	"time"

	"github.com/cuemby/warren-core/pkg/bus"
	"github.com/cuemby/warren-core/pkg/ledger"
	"github.com/cuemby/warren-core/pkg/log"
	"github.com/cuemby/warren-core/pkg/metrics"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultCheckInterval is how often the background loop calls VerifyAll.
const DefaultCheckInterval = 60 * time.Second

// Status summarizes a VerifyAll run.
type Status string

const (
	StatusAllVerified        Status = "all_verified"
	StatusViolationsDetected Status = "violations_detected"
	StatusCriticalViolations Status = "critical_violations"
)

// Rule is one named invariant. CheckFn reports whether the invariant
// currently holds; RemediationFn, if present and AutoRemediate is true,
// runs once after a violation is logged.
type Rule struct {
	RuleID        string
	Description   string
	CheckFn       func() bool
	Severity      types.Severity
	AutoRemediate bool
	RemediationFn func() error

	mu             sync.Mutex
	lastChecked    time.Time
	lastResult     bool
	violationCount int
}

// Snapshot is a read-only view of a Rule's last-known state.
type Snapshot struct {
	RuleID         string
	Severity       types.Severity
	LastChecked    time.Time
	LastResult     bool
	ViolationCount int
}

// Violation describes one failing rule from a VerifyAll run.
type Violation struct {
	RuleID      string
	Description string
	Severity    types.Severity
}

// Report is the result of a single VerifyAll call.
type Report struct {
	Total      int
	Passed     int
	Failed     int
	Violations []Violation
	Status     Status
}

// Framework owns the rule registry and the background check loop.
type Framework struct {
	bus    *bus.Bus
	ledger *ledger.Log
	logger zerolog.Logger

	interval time.Duration

	mu    sync.RWMutex
	rules []*Rule

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Framework with the given check interval (0 uses
// DefaultCheckInterval).
func New(b *bus.Bus, l *ledger.Log, interval time.Duration) *Framework {
	if interval == 0 {
		interval = DefaultCheckInterval
	}
	return &Framework{
		bus:      b,
		ledger:   l,
		logger:   log.WithComponent("verification"),
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// AddRule registers rule. Rules are checked in registration order.
func (f *Framework) AddRule(rule *Rule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule)
}

// Start begins the background check loop.
func (f *Framework) Start() error {
	go f.loop()
	f.logger.Info().Dur("interval", f.interval).Msg("verification framework started")
	return nil
}

// Stop halts the background loop.
func (f *Framework) Stop() {
	close(f.stopCh)
	<-f.doneCh
}

func (f *Framework) loop() {
	defer close(f.doneCh)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.runCycle()
		}
	}
}

func (f *Framework) runCycle() {
	report := f.VerifyAll()

	if report.Status == StatusCriticalViolations {
		_ = f.bus.Publish("verification", types.TopicSystemControl, map[string]any{
			"status":     string(report.Status),
			"violations": len(report.Violations),
		}, bus.PublishOptions{Priority: types.PriorityCritical})
	}

	for _, v := range report.Violations {
		if f.ledger != nil {
			_, _ = f.ledger.Append("verification", "violation", v.RuleID, map[string]any{
				"severity":    string(v.Severity),
				"description": v.Description,
			}, nil)
		}
		_ = f.bus.Publish("verification", types.TopicSystemHealth, map[string]any{
			"rule_id":  v.RuleID,
			"severity": string(v.Severity),
		}, bus.PublishOptions{})
	}
}

// VerifyAll evaluates every registered rule once, updates each rule's
// bookkeeping, runs auto-remediation for violated rules that opt in, and
// returns an aggregate report. VerifyAll is pure with respect to system
// state beyond the rules' own bookkeeping: it does not mutate anything
// else the system depends on.
func (f *Framework) VerifyAll() Report {
	f.mu.RLock()
	rules := make([]*Rule, len(f.rules))
	copy(rules, f.rules)
	f.mu.RUnlock()

	report := Report{Total: len(rules)}
	worstCritical := false

	for _, rule := range rules {
		ok := rule.CheckFn()

		rule.mu.Lock()
		rule.lastChecked = time.Now()
		rule.lastResult = ok
		if !ok {
			rule.violationCount++
		}
		severity := rule.Severity
		autoRemediate := rule.AutoRemediate
		remediate := rule.RemediationFn
		ruleID := rule.RuleID
		desc := rule.Description
		rule.mu.Unlock()

		if ok {
			report.Passed++
			continue
		}

		report.Failed++
		report.Violations = append(report.Violations, Violation{
			RuleID:      ruleID,
			Description: desc,
			Severity:    severity,
		})
		metrics.VerificationViolationsTotal.WithLabelValues(ruleID, string(severity)).Inc()
		if severity == types.SeverityCritical {
			worstCritical = true
		}

		if autoRemediate && remediate != nil {
			if err := remediate(); err != nil {
				f.logger.Error().Err(err).Str("rule_id", ruleID).Msg("remediation failed")
			}
		}
	}

	switch {
	case report.Failed == 0:
		report.Status = StatusAllVerified
	case worstCritical:
		report.Status = StatusCriticalViolations
	default:
		report.Status = StatusViolationsDetected
	}
	return report
}

// Snapshot returns the current bookkeeping for ruleID, if registered.
func (f *Framework) Snapshot(ruleID string) (Snapshot, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, r := range f.rules {
		if r.RuleID != ruleID {
			continue
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		return Snapshot{
			RuleID:         r.RuleID,
			Severity:       r.Severity,
			LastChecked:    r.lastChecked,
			LastResult:     r.lastResult,
			ViolationCount: r.violationCount,
		}, true
	}
	return Snapshot{}, false
}
