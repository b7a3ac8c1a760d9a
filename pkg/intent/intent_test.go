package intent

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/warren-core/pkg/bus"
	"github.com/cuemby/warren-core/pkg/ledger"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*Router, *bus.Bus, *ledger.Log) {
	t.Helper()
	b := bus.New()
	require.NoError(t, b.Start())
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return New(b, l), b, l
}

func TestTierAssignment(t *testing.T) {
	r, _, _ := newTestRouter(t)

	tests := []struct {
		intentType string
		wantTier   types.AutonomyTier
	}{
		{"query_knowledge", types.TierAutonomousLow},
		{"execute_sandbox", types.TierReviewRequired},
		{"self_improve", types.TierAutonomousHigh},
		{"modify_governance", types.TierHumanApproval},
		{"emergency_recovery", types.TierEmergency},
		{"totally_unknown_type", types.TierReviewRequired},
	}
	for _, tt := range tests {
		t.Run(tt.intentType, func(t *testing.T) {
			rec, err := r.Route(Request{IntentID: "i-" + tt.intentType, IntentType: tt.intentType})
			require.NoError(t, err)
			assert.Equal(t, tt.wantTier, rec.AutonomyTier)
		})
	}
}

func TestTier0RejectsAutonomousExecution(t *testing.T) {
	r, _, _ := newTestRouter(t)
	rec, err := r.Route(Request{IntentID: "i1", IntentType: "modify_governance"})
	require.NoError(t, err)
	assert.False(t, rec.Approved)
	assert.True(t, rec.RequiresHuman)
	assert.Equal(t, "human_review_queue", rec.RoutedTo)
}

func TestTier3RequiresVote(t *testing.T) {
	r, _, _ := newTestRouter(t)
	rec, err := r.Route(Request{IntentID: "i1", IntentType: "self_improve"})
	require.NoError(t, err)
	assert.True(t, rec.Approved)
	assert.True(t, rec.RequiresVote)
	assert.Equal(t, "governance", rec.RoutedTo)
}

func TestTier4EmitsEmergencyEvent(t *testing.T) {
	r, b, l := newTestRouter(t)
	emergencies := b.Subscribe("test", string(types.TopicEventEmergency))

	rec, err := r.Route(Request{IntentID: "i1", IntentType: "emergency_recovery"})
	require.NoError(t, err)
	assert.Equal(t, "emergency_handler", rec.RoutedTo)

	msg, ok := emergencies.Receive()
	require.True(t, ok)
	assert.Equal(t, "i1", msg.Payload["intent_id"])

	entries := l.Search(ledger.Filters{Resource: "i1"}, 0)
	require.Len(t, entries, 1)
}

func TestPriorityBoostedByContextAndClamped(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec, err := r.Route(Request{IntentID: "i1", IntentType: "query_knowledge"})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, rec.Priority, 0.001)

	rec, err = r.Route(Request{
		IntentID:   "i2",
		IntentType: "query_knowledge",
		Context:    map[string]bool{"revenue_impact": true, "user_facing": true},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.55, rec.Priority, 0.001)

	rec, err = r.Route(Request{
		IntentID:   "i3",
		IntentType: "emergency_recovery",
		Context:    map[string]bool{"emergency": true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Priority, "priority must clamp at 1")
}

func TestRouteRejectsEmptyIntentID(t *testing.T) {
	r, _, _ := newTestRouter(t)
	_, err := r.Route(Request{IntentType: "query_knowledge"})
	assert.Error(t, err)
}
