// Package intent implements the Intent Governance Router: it classifies
// every requested intent into one of five autonomy tiers and routes it
// accordingly. It follows the same static-table-plus-bus-publish shape as
// governance, generalized from proposal decisions to tiered intent routing.
package intent

import (
	"fmt"
	"strconv"

	"github.com/cuemby/warren-core/pkg/bus"
	"github.com/cuemby/warren-core/pkg/kerrors"
	"github.com/cuemby/warren-core/pkg/ledger"
	"github.com/cuemby/warren-core/pkg/log"
	"github.com/cuemby/warren-core/pkg/metrics"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/rs/zerolog"
)

// tierByIntentType is the static mapping from a known intent_type to its
// autonomy tier. Unknown types default to TierReviewRequired.
var tierByIntentType = map[string]types.AutonomyTier{
	"query_knowledge":    types.TierAutonomousLow,
	"execute_sandbox":    types.TierReviewRequired,
	"self_improve":       types.TierAutonomousHigh,
	"modify_governance":  types.TierHumanApproval,
	"emergency_recovery": types.TierEmergency,
}

// basePriority is the static mission-alignment priority table. Unknown
// intent types get a conservative default of 0.3.
var basePriority = map[string]float64{
	"query_knowledge":    0.3,
	"execute_sandbox":    0.5,
	"self_improve":       0.7,
	"modify_governance":  0.9,
	"emergency_recovery": 1.0,
}

const defaultBasePriority = 0.3

// contextBoosts are additive priority boosts from context flags, applied
// before clamping to [0,1].
var contextBoosts = map[string]float64{
	"revenue_impact": 0.15,
	"user_facing":    0.10,
	"emergency":      0.25,
}

// Request is the payload a caller submits to be routed.
type Request struct {
	IntentID   string
	IntentType string
	Actor      string
	Context    map[string]bool
}

// Router assigns autonomy tiers and routes intents to their destination.
type Router struct {
	bus    *bus.Bus
	ledger *ledger.Log
	logger zerolog.Logger
}

// New constructs an Intent Governance Router wired to b and l.
func New(b *bus.Bus, l *ledger.Log) *Router {
	return &Router{bus: b, ledger: l, logger: log.WithComponent("intent")}
}

// Route classifies req into an autonomy tier, decides approval and
// routing, writes one routing entry to the Immutable Log for every tier,
// and for tier 4 also publishes event.emergency at critical priority.
func (r *Router) Route(req Request) (types.IntentRecord, error) {
	if req.IntentID == "" {
		return types.IntentRecord{}, fmt.Errorf("intent: %w: intent_id is required", kerrors.ErrContractViolation)
	}

	tier, ok := tierByIntentType[req.IntentType]
	if !ok {
		tier = types.TierReviewRequired
	}

	record := types.IntentRecord{
		IntentID:     req.IntentID,
		IntentType:   req.IntentType,
		Actor:        req.Actor,
		AutonomyTier: tier,
		Priority:     priorityFor(req.IntentType, req.Context),
	}

	switch tier {
	case types.TierHumanApproval:
		record.Approved = false
		record.RequiresHuman = true
		record.RoutedTo = "human_review_queue"
		record.Reasoning = append(record.Reasoning, "tier 0: human approval required, autonomous execution rejected")

	case types.TierReviewRequired:
		record.Approved = true
		record.RoutedTo = "execution"
		record.Reasoning = append(record.Reasoning, "tier 1: auto-approved, logged for post-hoc review")

	case types.TierAutonomousLow:
		record.Approved = true
		record.RoutedTo = "execution"
		record.Reasoning = append(record.Reasoning, "tier 2: autonomous low-risk, routed directly to execution")

	case types.TierAutonomousHigh:
		record.Approved = true
		record.RequiresVote = true
		record.RoutedTo = "governance"
		record.Reasoning = append(record.Reasoning, "tier 3: autonomous high-impact, routed to governance with requires_vote")

	case types.TierEmergency:
		record.Approved = true
		record.RoutedTo = "emergency_handler"
		record.Reasoning = append(record.Reasoning, "tier 4: emergency, approved immediately with heavy audit")
	}

	r.audit(record)
	metrics.IntentRoutedTotal.WithLabelValues(strconv.Itoa(int(tier))).Inc()
	r.logger.Info().Str("intent_id", req.IntentID).Str("routed_to", record.RoutedTo).Int("tier", int(tier)).Msg("intent routed")
	return record, nil
}

func (r *Router) audit(record types.IntentRecord) {
	if r.ledger != nil {
		_, _ = r.ledger.Append("intent", "route", record.IntentID, map[string]any{
			"autonomy_tier": int(record.AutonomyTier),
			"routed_to":     record.RoutedTo,
			"approved":      record.Approved,
		}, nil)
	}

	if record.AutonomyTier == types.TierEmergency {
		_ = r.bus.Publish("intent", types.TopicEventEmergency, map[string]any{
			"intent_id": record.IntentID,
			"routed_to": record.RoutedTo,
		}, bus.PublishOptions{Priority: types.PriorityCritical})
	}
}

// priorityFor computes the mission-alignment priority: base table lookup,
// boosted additively by context flags, clamped to [0,1].
func priorityFor(intentType string, ctx map[string]bool) float64 {
	p, ok := basePriority[intentType]
	if !ok {
		p = defaultBasePriority
	}
	for flag, set := range ctx {
		if !set {
			continue
		}
		if boost, ok := contextBoosts[flag]; ok {
			p += boost
		}
	}
	if p > 1 {
		p = 1
	}
	if p < 0 {
		p = 0
	}
	return p
}
