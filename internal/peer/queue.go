package peer

import (
	"sync"

	"github.com/1mmey/SecurityChat/internal/models"
)

// OutboundQueue holds envelopes waiting for a counterpart's connection to
// open. One FIFO sequence per counterpart, drained fully and exactly once
// on the open transition.
type OutboundQueue struct {
	pending map[string][]*models.Envelope
	mutex   sync.Mutex
}

// NewOutboundQueue creates an empty queue.
func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{pending: make(map[string][]*models.Envelope)}
}

// Enqueue appends an envelope to the counterpart's pending sequence.
func (q *OutboundQueue) Enqueue(username string, envelope *models.Envelope) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.pending[username] = append(q.pending[username], envelope)
}

// DrainAll removes and returns the counterpart's pending envelopes in
// enqueue order. The queue is empty for that counterpart afterwards.
func (q *OutboundQueue) DrainAll(username string) []*models.Envelope {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	envelopes := q.pending[username]
	delete(q.pending, username)
	return envelopes
}

// Requeue puts envelopes back at the front of the counterpart's sequence,
// used when a drain is interrupted by a failing connection.
func (q *OutboundQueue) Requeue(username string, envelopes []*models.Envelope) {
	if len(envelopes) == 0 {
		return
	}
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.pending[username] = append(envelopes, q.pending[username]...)
}

// Len returns the number of envelopes queued for a counterpart.
func (q *OutboundQueue) Len(username string) int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.pending[username])
}

// Clear drops every pending sequence.
func (q *OutboundQueue) Clear() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.pending = make(map[string][]*models.Envelope)
}
