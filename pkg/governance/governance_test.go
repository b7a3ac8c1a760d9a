package governance

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/warren-core/pkg/bus"
	"github.com/cuemby/warren-core/pkg/ledger"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *bus.Bus, *ledger.Log) {
	t.Helper()
	b := bus.New()
	require.NoError(t, b.Start())

	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	e := New(b, l)
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)

	return e, b, l
}

func TestDecisionTable(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		risk       RiskLevel
		want       types.Outcome
	}{
		{"high confidence low risk approves", 0.97, RiskLow, types.OutcomeApproved},
		{"exactly at threshold approves", 0.95, RiskLow, types.OutcomeApproved},
		{"low confidence low risk rejects", 0.60, RiskLow, types.OutcomeRejected},
		{"just under reject threshold rejects", 0.69, RiskLow, types.OutcomeRejected},
		{"ambiguous band needs review", 0.80, RiskLow, types.OutcomeNeedsReview},
		{"exactly at reject boundary needs review", 0.70, RiskLow, types.OutcomeNeedsReview},
		{"medium risk always needs review", 0.99, RiskMedium, types.OutcomeNeedsReview},
		{"high risk always needs review", 0.99, RiskHigh, types.OutcomeNeedsReview},
		{"critical risk always needs review", 0.99, RiskCritical, types.OutcomeNeedsReview},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, _ := decide(tt.confidence, tt.risk)
			assert.Equal(t, tt.want, outcome)
		})
	}
}

func TestScenarioS1HappyPathApproval(t *testing.T) {
	e, b, l := newTestEngine(t)
	decisions := b.Subscribe("test", string(types.TopicEventGovernanceDecision))

	require.NoError(t, b.Publish("caller", types.TopicEventProposal, map[string]any{
		"proposal_id": "p1",
		"confidence":  0.97,
		"risk_level":  "low",
	}, bus.PublishOptions{}))

	msg, ok := decisions.Receive()
	require.True(t, ok)
	assert.Equal(t, "approved", msg.Payload["decision"])

	entries := l.Search(ledger.Filters{Resource: "p1"}, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "governance_decision", entries[0].Action)
}

func TestScenarioS2RejectionOnLowConfidence(t *testing.T) {
	e, b, _ := newTestEngine(t)
	_ = e
	decisions := b.Subscribe("test", string(types.TopicEventGovernanceDecision))

	require.NoError(t, b.Publish("caller", types.TopicEventProposal, map[string]any{
		"proposal_id": "p2",
		"confidence":  0.60,
		"risk_level":  "low",
	}, bus.PublishOptions{}))

	msg, ok := decisions.Receive()
	require.True(t, ok)
	assert.Equal(t, "rejected", msg.Payload["decision"])
	assert.Contains(t, msg.Payload["rationale"], "Low confidence")
}

func TestScenarioS3HumanReviewOnRisk(t *testing.T) {
	e, b, _ := newTestEngine(t)
	_ = e
	decisions := b.Subscribe("test", string(types.TopicEventGovernanceDecision))

	require.NoError(t, b.Publish("caller", types.TopicEventProposal, map[string]any{
		"proposal_id": "p3",
		"confidence":  0.99,
		"risk_level":  "high",
	}, bus.PublishOptions{}))

	msg, ok := decisions.Receive()
	require.True(t, ok)
	assert.Equal(t, "needs_review", msg.Payload["decision"])
}

func TestMalformedProposalIsDropped(t *testing.T) {
	_, b, _ := newTestEngine(t)
	require.NoError(t, b.Publish("caller", types.TopicEventProposal, map[string]any{}, bus.PublishOptions{}))
	time.Sleep(20 * time.Millisecond) // no panic, no decision published
}
