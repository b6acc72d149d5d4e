package wsdispatcher

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/gbdevw/gowsengine/wscodec"
)

// Outcome of a service call or a message sent with Dispatcher.Send.
type result struct {
	// Message to encode
	msg wscodec.Message
	// Error returned by the service
	err error
}

// Unbounded multi-producer single-consumer queue of results. Producers never block.
type resultQueue struct {
	// Mutex which protects items
	mu sync.Mutex
	// Ring buffer which holds queued results
	items *queue.Queue
	// Signal channel used to wake up the consumer
	signal chan struct{}
}

func newResultQueue() *resultQueue {
	return &resultQueue{
		items:  queue.New(),
		signal: make(chan struct{}, 1),
	}
}

// Add a result at the end of the queue. The consumer is not woken up: call notify.
func (q *resultQueue) push(res result) {
	q.mu.Lock()
	q.items.Add(res)
	q.mu.Unlock()
}

// Wake up the consumer. Notifications are coalesced.
func (q *resultQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Remove and return the first result. Return false if the queue is empty.
func (q *resultQueue) pop() (result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 {
		return result{}, false
	}
	return q.items.Remove().(result), true
}

// Number of queued results.
func (q *resultQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Channel which receives a value after one or more notify calls.
func (q *resultQueue) ready() <-chan struct{} {
	return q.signal
}
