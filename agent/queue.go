package agent

import (
	"sync"

	"github.com/BaSui01/stateflow/types"
)

// MessageQueue is the inbound FIFO queue of an agent shell. Safe for
// concurrent use. A closed queue drops new messages.
type MessageQueue struct {
	mu       sync.Mutex
	messages []*types.AgentMessage
	closed   bool
	once     sync.Once
}

// NewMessageQueue creates an empty queue.
func NewMessageQueue() *MessageQueue {
	return &MessageQueue{}
}

// Enqueue appends a message. Returns false if the queue is closed.
func (q *MessageQueue) Enqueue(msg *types.AgentMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.messages = append(q.messages, msg)
	return true
}

// Dequeue removes and returns the oldest message, or nil when empty.
func (q *MessageQueue) Dequeue() *types.AgentMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return nil
	}
	msg := q.messages[0]
	q.messages[0] = nil
	q.messages = q.messages[1:]
	return msg
}

// Drain removes and returns all queued messages in FIFO order.
func (q *MessageQueue) Drain() []*types.AgentMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.messages
	q.messages = nil
	return drained
}

// Len returns the current queue depth.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Clear discards all queued messages.
func (q *MessageQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = nil
}

// Close clears the queue and rejects further messages. Idempotent.
func (q *MessageQueue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.closed = true
		q.messages = nil
	})
}
