// Package governance implements Unified Logic: the deterministic decision
// table every proposal passes through before it may act. The shape is a
// reconciler's: read desired state, compare against a fixed policy, emit
// a verdict — applied here to confidence/risk-scored proposal decisions
// instead of container placement.
package governance

import (
	"fmt"
	"time"

	"github.com/cuemby/warren-core/pkg/bus"
	"github.com/cuemby/warren-core/pkg/kerrors"
	"github.com/cuemby/warren-core/pkg/ledger"
	"github.com/cuemby/warren-core/pkg/log"
	"github.com/cuemby/warren-core/pkg/metrics"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/rs/zerolog"
)

// RiskLevel is the coarse risk classification a proposal is submitted with.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskScores maps a RiskLevel to its numeric risk_score.
var riskScores = map[RiskLevel]float64{
	RiskLow:      0.2,
	RiskMedium:   0.5,
	RiskHigh:     0.75,
	RiskCritical: 0.95,
}

// Proposal is the payload carried on event.proposal.
type Proposal struct {
	ProposalID             string
	ProposalType           string
	Description            string
	Evidence               []string
	Confidence             float64
	RiskLevel              RiskLevel
	AlternativesConsidered []string
	RequiresHumanApproval  bool
}

// Engine decides proposals deterministically and records every decision.
type Engine struct {
	bus    *bus.Bus
	ledger *ledger.Log
	logger zerolog.Logger

	proposalQ *bus.Queue
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New constructs Unified Logic wired to b and l.
func New(b *bus.Bus, l *ledger.Log) *Engine {
	return &Engine{
		bus:    b,
		ledger: l,
		logger: log.WithComponent("governance"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start subscribes to event.proposal and begins deciding.
func (e *Engine) Start() error {
	e.proposalQ = e.bus.Subscribe("governance", string(types.TopicEventProposal))
	go e.loop()
	e.logger.Info().Msg("unified logic started")
	return nil
}

// Stop halts the decision loop.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
	e.bus.Unsubscribe("governance", "")
}

func (e *Engine) loop() {
	defer close(e.doneCh)
	for {
		msg, ok := e.proposalQ.Receive()
		if !ok {
			return
		}
		p, err := parseProposal(msg.Payload)
		if err != nil {
			e.logger.Warn().Err(err).Msg("dropping malformed proposal")
			continue
		}
		e.Decide(p)
	}
}

// Decide applies the deterministic decision table, records the Decision to
// the Immutable Log, and publishes event.governance_decision. Every call
// produces exactly one decision and, when a ledger is wired, exactly one
// log entry.
func (e *Engine) Decide(p Proposal) types.Decision {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.GovernanceDecisionDuration)

	outcome, rationale := decide(p.Confidence, p.RiskLevel)
	metrics.GovernanceDecisionsTotal.WithLabelValues(string(outcome)).Inc()

	decision := types.Decision{
		DecisionID:             p.ProposalID,
		DecisionType:           types.DecisionProposalCreation,
		Actor:                  "governance",
		Action:                 "decide_proposal",
		Resource:               p.ProposalID,
		Rationale:              rationale,
		Confidence:             p.Confidence,
		RiskScore:              riskScores[p.RiskLevel],
		AlternativesConsidered: p.AlternativesConsidered,
		Evidence:               p.Evidence,
		Outcome:                outcome,
		Approved:               outcome == types.OutcomeApproved,
		Timestamp:              time.Now(),
	}

	if e.ledger != nil {
		_, _ = e.ledger.Append("governance", "governance_decision", p.ProposalID, map[string]any{
			"outcome":    string(outcome),
			"confidence": p.Confidence,
			"risk_score": decision.RiskScore,
			"rationale":  rationale,
		}, nil)
	}

	_ = e.bus.Publish("governance", types.TopicEventGovernanceDecision, map[string]any{
		"proposal_id": p.ProposalID,
		"decision":    string(outcome),
		"confidence":  p.Confidence,
		"risk_score":  decision.RiskScore,
		"rationale":   rationale,
	}, bus.PublishOptions{})

	e.logger.Info().Str("proposal_id", p.ProposalID).Str("outcome", string(outcome)).Msg("proposal decided")
	return decision
}

// decide implements the §4.5 decision table. Ties and edge cases resolve
// to needs_review rather than approved.
func decide(confidence float64, risk RiskLevel) (types.Outcome, string) {
	if risk != RiskLow {
		return types.OutcomeNeedsReview, fmt.Sprintf("risk_level %q requires review regardless of confidence", risk)
	}
	if confidence >= 0.95 {
		return types.OutcomeApproved, "High confidence on a low-risk proposal"
	}
	if confidence < 0.70 {
		return types.OutcomeRejected, "Low confidence on a low-risk proposal"
	}
	return types.OutcomeNeedsReview, "Confidence in the ambiguous band for a low-risk proposal"
}

func parseProposal(payload map[string]any) (Proposal, error) {
	proposalID, _ := payload["proposal_id"].(string)
	if proposalID == "" {
		return Proposal{}, fmt.Errorf("governance: %w: proposal_id is required", kerrors.ErrContractViolation)
	}

	p := Proposal{
		ProposalID: proposalID,
		RiskLevel:  RiskLow,
	}
	if v, ok := payload["proposal_type"].(string); ok {
		p.ProposalType = v
	}
	if v, ok := payload["description"].(string); ok {
		p.Description = v
	}
	if v, ok := payload["confidence"].(float64); ok {
		p.Confidence = v
	}
	if v, ok := payload["risk_level"].(string); ok && v != "" {
		p.RiskLevel = RiskLevel(v)
	}
	if v, ok := payload["requires_human_approval"].(bool); ok {
		p.RequiresHumanApproval = v
	}
	p.Evidence = stringList(payload["evidence"])
	p.AlternativesConsidered = stringList(payload["alternatives_considered"])
	return p, nil
}

func stringList(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
