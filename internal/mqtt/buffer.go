package mqtt

import "github.com/murtazakamran18/count-steps/internal/monitoring"

// queuedMessage holds a serialized publish waiting for the broker to come
// back.
type queuedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// sendQueue is a bounded FIFO of messages held while the broker is
// unreachable. The oldest message is dropped on overflow. Not safe for
// concurrent use; the caller must synchronize.
type sendQueue struct {
	msgs    []queuedMessage
	limit   int
	dropped int
}

func newSendQueue(limit int) *sendQueue {
	return &sendQueue{limit: limit}
}

func (q *sendQueue) push(m queuedMessage) {
	if len(q.msgs) == q.limit {
		if q.dropped == 0 {
			monitoring.Logf("mqtt: send queue full (%d messages), dropping oldest", q.limit)
		}
		q.dropped++
		copy(q.msgs, q.msgs[1:])
		q.msgs = q.msgs[:len(q.msgs)-1]
	}
	q.msgs = append(q.msgs, m)
}

// drain removes and returns all queued messages, oldest first.
func (q *sendQueue) drain() []queuedMessage {
	out := q.msgs
	q.msgs = nil
	q.dropped = 0
	return out
}

func (q *sendQueue) len() int { return len(q.msgs) }
