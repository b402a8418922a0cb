package call

import (
	"context"
	"errors"
	"sync"
)

var errQueueClosed = errors.New("outbound queue closed")

// outboundItem is one unit of work for a participant's writer: a JSON event,
// optionally followed by an audio frame on the binary channel.
type outboundItem struct {
	// interimOf names the speaker when the item is an interim caption.
	// A newer interim for the same speaker overwrites it in place.
	interimOf string
	payload   []byte
	audio     []byte
}

// outQueue is the bounded per-listener outbound queue. Overflow sheds load
// in order of increasing damage: the oldest interim caption is dropped
// first, then the oldest queued audio is truncated to text only, and only
// when neither helps does push report ErrSlowConsumer.
type outQueue struct {
	mu     sync.Mutex
	items  []*outboundItem
	bound  int
	closed bool

	droppedInterims uint64
	truncatedFinals uint64

	notify chan struct{}
}

func newOutQueue(bound int) *outQueue {
	return &outQueue{
		bound:  bound,
		notify: make(chan struct{}, 1),
	}
}

// push enqueues an item, coalescing interim captions per speaker. It
// returns the queue depth after the push, or ErrSlowConsumer when the
// queue is saturated beyond recovery.
func (q *outQueue) push(it *outboundItem) (int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, errQueueClosed
	}

	if it.interimOf != "" {
		for _, cur := range q.items {
			if cur.interimOf == it.interimOf {
				cur.payload = it.payload
				depth := len(q.items)
				q.mu.Unlock()
				q.wake()
				return depth, nil
			}
		}
	}

	q.items = append(q.items, it)
	for len(q.items) > q.bound {
		if i := q.oldestInterim(); i >= 0 {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.droppedInterims++
			continue
		}
		if i := q.oldestAudio(); i >= 0 {
			q.items[i].audio = nil
			q.truncatedFinals++
			// Truncation frees the audio without shrinking the item
			// count; tolerate one item of overshoot, no more.
			if len(q.items) <= q.bound+1 {
				break
			}
		}
		q.items = q.items[:len(q.items)-1]
		q.mu.Unlock()
		return 0, ErrSlowConsumer
	}
	depth := len(q.items)
	q.mu.Unlock()
	q.wake()
	return depth, nil
}

// pop blocks for the next item. After closeQueue it keeps returning the
// already queued items and only then reports errQueueClosed, so teardown
// events still reach the writer.
func (q *outQueue) pop(ctx context.Context) (*outboundItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return it, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, errQueueClosed
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *outQueue) closeQueue() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *outQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// shed reports how many interims were dropped and how many finals lost
// their audio to overflow.
func (q *outQueue) shed() (interims, finals uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.droppedInterims, q.truncatedFinals
}

func (q *outQueue) oldestInterim() int {
	for i, it := range q.items {
		if it.interimOf != "" {
			return i
		}
	}
	return -1
}

func (q *outQueue) oldestAudio() int {
	for i, it := range q.items {
		if len(it.audio) > 0 {
			return i
		}
	}
	return -1
}

func (q *outQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
