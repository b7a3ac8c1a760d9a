/*
Package bus is the substrate's message bus: in-process, topic-addressed,
priority-aware publish/subscribe with bounded per-subscriber queues.

	Publisher ──Publish(topic, payload)──▶ Bus ──match patterns──▶ Subscriber queues
	                                                    │
	                                          full? drop + count, never block

Every kernel talks to every other kernel only through the Bus; nothing
holds a direct reference to another component's state. A subscription is a
(subscriber, topicPattern) pair with its own bounded FIFO, partitioned by
Priority so a busy subscriber always drains critical messages before normal
ones. Delivery is at-most-once per subscriber: a full queue drops the
message for that subscriber and increments its drop counter, but never
blocks the publisher and never affects other subscribers.

Topic patterns support "*" (match everything) and a trailing ".*" (match
exactly one further dotted segment), mirroring the hierarchical topic
vocabulary in pkg/types.
*/
package bus
