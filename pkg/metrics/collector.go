package metrics

import (
	"time"
)

// Sampler reports the point-in-time gauge values a Collector polls.
// Runtime implements this by reading its own components' Stats /
// GetStatus / manifest accessors; counters (messages published, drops,
// decisions, incidents) are incremented inline at the point of the event
// instead, matching Prometheus counter conventions.
type Sampler interface {
	ActiveTopics() int
	LedgerLen() int
	TrustScores() map[string]int
	RunningKernels() int
}

// Collector periodically samples a Sampler into the package-level gauges.
// It owns no state of its own beyond the sampling loop.
type Collector struct {
	sampler Sampler
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewCollector constructs a Collector over sampler. Call Start to begin
// sampling.
func NewCollector(sampler Sampler) *Collector {
	return &Collector{
		sampler: sampler,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins sampling every 15 seconds, matching the Layer-2 Watchdog's
// own telemetry cadence.
func (c *Collector) Start() {
	c.collect()
	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts sampling and waits for the loop to exit.
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Collector) collect() {
	BusActiveTopics.Set(float64(c.sampler.ActiveTopics()))
	LedgerEntriesTotal.Set(float64(c.sampler.LedgerLen()))
	KernelsRunning.Set(float64(c.sampler.RunningKernels()))

	for componentID, score := range c.sampler.TrustScores() {
		TrustScore.WithLabelValues(componentID).Set(float64(score))
	}
}
