package ttscache_test

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/voxbridge/voxbridge/internal/ttscache"
	"github.com/voxbridge/voxbridge/pkg/speech"
	"github.com/voxbridge/voxbridge/pkg/speech/mock"
)

func TestSynthesizeCachesResult(t *testing.T) {
	t.Parallel()

	synth := &mock.Synthesizer{}
	cache := ttscache.New(synth, 8)
	ctx := t.Context()

	first, err := cache.Synthesize(ctx, "hello", "en", "voice-en-default")
	if err != nil {
		t.Fatalf("first Synthesize: %v", err)
	}
	second, err := cache.Synthesize(ctx, "hello", "en", "voice-en-default")
	if err != nil {
		t.Fatalf("second Synthesize: %v", err)
	}

	if string(first) != string(second) {
		t.Error("cached result differs from original")
	}
	if got := synth.Calls(); got != 1 {
		t.Errorf("provider calls: want 1, got %d", got)
	}
	hits, misses := cache.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats: want 1 hit 1 miss, got %d/%d", hits, misses)
	}
}

func TestEventsFireOnHitAndMiss(t *testing.T) {
	t.Parallel()

	var hits, misses int
	synth := &mock.Synthesizer{}
	cache := ttscache.New(synth, 8, ttscache.WithEvents(
		func(context.Context) { hits++ },
		func(context.Context) { misses++ },
	))
	ctx := t.Context()

	if _, err := cache.Synthesize(ctx, "hello", "en", "voice-en-default"); err != nil {
		t.Fatalf("first Synthesize: %v", err)
	}
	if _, err := cache.Synthesize(ctx, "hello", "en", "voice-en-default"); err != nil {
		t.Fatalf("second Synthesize: %v", err)
	}
	if hits != 1 || misses != 1 {
		t.Errorf("events: want 1 hit 1 miss, got %d/%d", hits, misses)
	}
}

func TestDistinctVoicesAreDistinctKeys(t *testing.T) {
	t.Parallel()

	synth := &mock.Synthesizer{}
	cache := ttscache.New(synth, 8)
	ctx := t.Context()

	if _, err := cache.Synthesize(ctx, "hello", "en", "alloy"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if _, err := cache.Synthesize(ctx, "hello", "en", "shimmer"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := synth.Calls(); got != 2 {
		t.Errorf("provider calls: want 2, got %d", got)
	}
}

func TestSingleFlightCollapsesConcurrentRequests(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	synth := &mock.Synthesizer{Delay: release}
	cache := ttscache.New(synth, 8)
	ctx := t.Context()

	const waiters = 8
	var wg sync.WaitGroup
	results := make([][]byte, waiters)
	errs := make([]error, waiters)
	for i := range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = cache.Synthesize(ctx, "shared", "he", "voice-he-default")
		}()
	}

	// Let all goroutines pile up on the in-flight synthesis, then release.
	for synth.Calls() == 0 {
		runtime.Gosched()
	}
	close(release)
	wg.Wait()

	for i := range waiters {
		if errs[i] != nil {
			t.Fatalf("waiter %d: %v", i, errs[i])
		}
		if string(results[i]) != string(results[0]) {
			t.Errorf("waiter %d got a different payload", i)
		}
	}
	if got := synth.Calls(); got != 1 {
		t.Errorf("provider calls: want 1, got %d", got)
	}
}

func TestFailureIsNotCached(t *testing.T) {
	t.Parallel()

	synth := &mock.Synthesizer{Err: fmt.Errorf("outage: %w", speech.ErrSynthesisUnavailable)}
	cache := ttscache.New(synth, 8)
	ctx := t.Context()

	if _, err := cache.Synthesize(ctx, "hello", "ru", ""); !errors.Is(err, speech.ErrSynthesisUnavailable) {
		t.Fatalf("want ErrSynthesisUnavailable, got %v", err)
	}

	// Provider recovers; the next request must retry rather than replay
	// the failure.
	synth.Err = nil
	pcm, err := cache.Synthesize(ctx, "hello", "ru", "")
	if err != nil {
		t.Fatalf("Synthesize after recovery: %v", err)
	}
	if len(pcm) == 0 {
		t.Error("expected audio after recovery")
	}
	if got := synth.Calls(); got != 2 {
		t.Errorf("provider calls: want 2, got %d", got)
	}
}

func TestLRUEvictsOldest(t *testing.T) {
	t.Parallel()

	synth := &mock.Synthesizer{}
	cache := ttscache.New(synth, 2)
	ctx := t.Context()

	mustSynth := func(text string) {
		t.Helper()
		if _, err := cache.Synthesize(ctx, text, "en", ""); err != nil {
			t.Fatalf("Synthesize(%q): %v", text, err)
		}
	}

	mustSynth("a")
	mustSynth("b")
	mustSynth("a") // refresh "a" so "b" is the eviction candidate
	mustSynth("c") // evicts "b"

	if got := cache.Len(); got != 2 {
		t.Fatalf("cache size: want 2, got %d", got)
	}

	before := synth.Calls()
	mustSynth("a")
	if synth.Calls() != before {
		t.Error("entry 'a' should still be cached")
	}
	mustSynth("b")
	if synth.Calls() != before+1 {
		t.Error("entry 'b' should have been evicted")
	}
}
