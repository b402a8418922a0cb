// Package ttscache caches synthesized speech keyed by (text, language,
// voice). Utterance fan-out means two listeners sharing a target language
// request identical synthesis within milliseconds of each other; the cache
// collapses those into one provider call and keeps recent audio around for
// repeated phrases.
package ttscache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/voxbridge/voxbridge/pkg/speech"
)

// DefaultCapacity is the number of entries kept when no capacity is
// configured.
const DefaultCapacity = 256

// Key identifies one synthesis result.
type Key struct {
	Text     string
	Language string
	VoiceID  string
}

type entry struct {
	key Key
	pcm []byte
}

// Cache is an LRU cache over a speech.Synthesizer with per-key
// single-flight: at most one synthesis per key is in flight at a time, and
// concurrent requesters share its result. Failures are never cached, so the
// next request after an outage retries the provider.
type Cache struct {
	synth    speech.Synthesizer
	capacity int

	onHit  func(context.Context)
	onMiss func(context.Context)

	group singleflight.Group

	mu      sync.Mutex
	entries map[Key]*list.Element
	order   *list.List // front = most recently used

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Option is a functional option for New.
type Option func(*Cache)

// WithEvents installs hooks fired on every lookup, one of the two per call.
// The hub uses them to feed the cache hit and miss counters.
func WithEvents(onHit, onMiss func(context.Context)) Option {
	return func(c *Cache) {
		c.onHit = onHit
		c.onMiss = onMiss
	}
}

// New creates a Cache over synth. capacity <= 0 selects DefaultCapacity.
func New(synth speech.Synthesizer, capacity int, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		synth:    synth,
		capacity: capacity,
		entries:  make(map[Key]*list.Element),
		order:    list.New(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Synthesize returns cached audio for the key or synthesizes it. The
// returned slice is shared; callers must not mutate it.
func (c *Cache) Synthesize(ctx context.Context, text, language, voiceID string) ([]byte, error) {
	key := Key{Text: text, Language: language, VoiceID: voiceID}

	if pcm, ok := c.get(key); ok {
		c.hits.Add(1)
		if c.onHit != nil {
			c.onHit(ctx)
		}
		return pcm, nil
	}
	c.misses.Add(1)
	if c.onMiss != nil {
		c.onMiss(ctx)
	}

	v, err, _ := c.group.Do(flightKey(key), func() (any, error) {
		// A waiter that lost the race to a just-completed flight still
		// finds the entry here.
		if pcm, ok := c.get(key); ok {
			return pcm, nil
		}
		pcm, err := c.synth.Synthesize(ctx, text, language, voiceID)
		if err != nil {
			return nil, err
		}
		c.put(key, pcm)
		return pcm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Stats returns the cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).pcm, true
}

func (c *Cache) put(key Key, pcm []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*entry).pcm = pcm
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&entry{key: key, pcm: pcm})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}
}

// flightKey flattens a Key for singleflight, which wants a string.
func flightKey(k Key) string {
	return k.Text + "\x00" + k.Language + "\x00" + k.VoiceID
}
