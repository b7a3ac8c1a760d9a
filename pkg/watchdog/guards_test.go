package watchdog

import (
	"testing"
	"time"

	"github.com/cuemby/warren-core/pkg/bus"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerGuardsWarnsOnQueueDepth(t *testing.T) {
	b := bus.New()
	require.NoError(t, b.Start())
	g := NewSchedulerGuards(b)
	incidents := b.Subscribe("test", string(types.TopicEventIncident))

	g.ReportHealth(SchedulerHealth{LastHeartbeat: time.Now(), QueueDepth: 600})
	g.sample()

	msg, ok := incidents.Receive()
	require.True(t, ok)
	assert.Equal(t, "scheduler_load_shedding", msg.Payload["playbook"])
}

func TestSchedulerGuardsRecoveryOnHeartbeatTimeout(t *testing.T) {
	b := bus.New()
	require.NoError(t, b.Start())
	g := NewSchedulerGuards(b)
	incidents := b.Subscribe("test", string(types.TopicEventIncident))

	g.ReportHealth(SchedulerHealth{LastHeartbeat: time.Now().Add(-time.Hour)})
	g.sample()

	msg, ok := incidents.Receive()
	require.True(t, ok)
	assert.Equal(t, "scheduler_recovery", msg.Payload["playbook"])
}

func TestSchedulerGuardsQuietWhenHealthy(t *testing.T) {
	b := bus.New()
	require.NoError(t, b.Start())
	g := NewSchedulerGuards(b)
	incidents := b.SubscribeWithCapacity("test", string(types.TopicEventIncident), 5)

	g.ReportHealth(SchedulerHealth{LastHeartbeat: time.Now(), QueueDepth: 10})
	g.sample()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, uint64(0), incidents.Drops())
}

func TestHTMReadinessRequiresMinWorkersAndQueue(t *testing.T) {
	b := bus.New()
	require.NoError(t, b.Start())
	h := NewHTMReadiness(b, 3)

	assert.False(t, h.IsReady())

	h.ReportWorkerHeartbeat("w1")
	h.ReportWorkerHeartbeat("w2")
	h.ReportWorkerHeartbeat("w3")
	h.SetQueueReady(true)

	assert.True(t, h.IsReady())
}

func TestHTMReadinessDeadWorkerTriggersRecovery(t *testing.T) {
	b := bus.New()
	require.NoError(t, b.Start())
	h := NewHTMReadiness(b, 1)
	incidents := b.Subscribe("test", string(types.TopicEventIncident))

	h.mu.Lock()
	h.workers["w1"] = WorkerStatus{LastHeartbeat: time.Now().Add(-time.Hour)}
	h.mu.Unlock()

	h.sample()

	msg, ok := incidents.Receive()
	require.True(t, ok)
	assert.Equal(t, "htm_worker_recovery", msg.Payload["playbook"])
	assert.Equal(t, "w1", msg.Payload["worker_id"])
}

func TestLayer2WatchdogAlertsOnUnhealthyComponent(t *testing.T) {
	b := bus.New()
	require.NoError(t, b.Start())
	w := NewLayer2Watchdog(b)
	incidents := b.Subscribe("test", string(types.TopicEventIncident))
	metrics := b.Subscribe("test-metrics", string(types.TopicEventMetric))

	w.RegisterComponent("scheduler", func() (bool, bool) { return true, false })
	w.RegisterComponent("htm_orchestrator", func() (bool, bool) { return true, true })

	// health.DefaultConfig debounces over 3 consecutive failures before an
	// incident fires, matching the Layer-2 Watchdog's own poll config.
	w.checkAll()
	w.checkAll()
	w.checkAll()

	msg, ok := incidents.Receive()
	require.True(t, ok)
	assert.Equal(t, "scheduler", msg.Payload["component"])

	metricMsg, ok := metrics.Receive()
	require.True(t, ok)
	components, ok := metricMsg.Payload["components"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, components, 2)
}
