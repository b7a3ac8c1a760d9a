package bus

import (
	"sync"

	"github.com/cuemby/warren-core/pkg/types"
)

// priorityLevels is the number of distinct Priority values the bus
// understands (low, normal, high, critical).
const priorityLevels = 4

// subscriberQueue is a single subscriber's bounded mailbox. Messages are
// partitioned by priority so a Dequeue always drains the highest-priority
// class first; within a class, order matches publish order (FIFO).
type subscriberQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	lanes    [priorityLevels][]types.Message
	size     int
	drops    uint64
	closed   bool
}

func newSubscriberQueue(capacity int) *subscriberQueue {
	q := &subscriberQueue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// enqueue appends msg to its priority lane. If the queue is already at
// capacity the message is dropped for this subscriber and the drop
// counter is incremented; other subscribers are unaffected.
func (q *subscriberQueue) enqueue(msg types.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.size >= q.capacity {
		q.drops++
		return false
	}

	lane := laneFor(msg.Metadata.Priority)
	q.lanes[lane] = append(q.lanes[lane], msg)
	q.size++
	q.cond.Signal()
	return true
}

// dequeue blocks until a message is available or the queue is closed. The
// second return value is false only once the queue is closed and drained.
func (q *subscriberQueue) dequeue() (types.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.size == 0 {
		return types.Message{}, false
	}

	for lane := priorityLevels - 1; lane >= 0; lane-- {
		if len(q.lanes[lane]) > 0 {
			msg := q.lanes[lane][0]
			q.lanes[lane] = q.lanes[lane][1:]
			q.size--
			return msg, true
		}
	}
	// Unreachable: size > 0 implies some lane is non-empty.
	return types.Message{}, false
}

func (q *subscriberQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

func (q *subscriberQueue) dropCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}

func laneFor(p types.Priority) int {
	lane := int(p) - 1
	if lane < 0 {
		lane = 0
	}
	if lane >= priorityLevels {
		lane = priorityLevels - 1
	}
	return lane
}

// Queue is the subscriber-facing handle returned by Subscribe. It exposes
// only Receive and Drops; construction and enqueueing stay internal to the
// bus.
type Queue struct {
	inner *subscriberQueue
}

// Receive blocks until a message is available or the bus has stopped and
// drained this queue, in which case ok is false.
func (q *Queue) Receive() (msg types.Message, ok bool) {
	return q.inner.dequeue()
}

// Drops returns the number of messages dropped for this subscriber because
// its queue was full.
func (q *Queue) Drops() uint64 {
	return q.inner.dropCount()
}
