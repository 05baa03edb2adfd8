package otoplay

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/polyvox/pkg/audio/decode"
)

func TestClampVolume(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want float64
	}{
		{0.5, 0.5},
		{-1, 0},
		{3, 1},
		{math.NaN(), 0},
		{math.Inf(1), 1},
	}
	for _, tc := range tests {
		if got := clampVolume(tc.in); got != tc.want {
			t.Errorf("clampVolume(%g) = %g, want %g", tc.in, got, tc.want)
		}
	}
}

// countingCache returns a cache whose decoder counts its calls.
func countingCache(ttl time.Duration) (*sampleCache, *atomic.Int32) {
	var n atomic.Int32
	return newSampleCache(ttl, func(string) (*decode.PCM, error) {
		n.Add(1)
		return &decode.PCM{Data: make([]byte, 4), SampleRate: 48000}, nil
	}), &n
}

func TestSampleCache_UseRenewsExpiry(t *testing.T) {
	t.Parallel()

	const ttl = 200 * time.Millisecond
	c, decodes := countingCache(ttl)

	first, err := c.load("step.wav")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// Keep playing the sample well past its first TTL.
	deadline := time.Now().Add(3 * ttl)
	for time.Now().Before(deadline) {
		time.Sleep(ttl / 10)
		got, err := c.load("step.wav")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got != first {
			t.Fatal("load returned a different PCM for a sample in constant use")
		}
	}
	if n := decodes.Load(); n != 1 {
		t.Errorf("decoded %d times, want 1 while in use", n)
	}

	time.Sleep(2 * ttl)
	if _, err := c.load("step.wav"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if n := decodes.Load(); n != 2 {
		t.Errorf("decoded %d times, want 2 after the sample sat unused", n)
	}
}

func TestSampleCache_PinnedNeverExpires(t *testing.T) {
	t.Parallel()

	const ttl = 50 * time.Millisecond
	c, decodes := countingCache(ttl)

	if err := c.pin("theme.ogg"); err != nil {
		t.Fatalf("pin: %v", err)
	}
	time.Sleep(4 * ttl)
	if _, err := c.load("theme.ogg"); err != nil {
		t.Fatalf("load: %v", err)
	}
	// A hit on a pinned sample must not turn it back into a TTL entry.
	time.Sleep(4 * ttl)
	if _, err := c.load("theme.ogg"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if n := decodes.Load(); n != 1 {
		t.Errorf("decoded %d times, want 1 for a pinned sample", n)
	}

	c.flush()
	if _, err := c.load("theme.ogg"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if n := decodes.Load(); n != 2 {
		t.Errorf("decoded %d times after flush, want 2", n)
	}
}

func TestSampleCache_ErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	var calls int
	errBad := errors.New("bad header")
	c := newSampleCache(time.Minute, func(string) (*decode.PCM, error) {
		calls++
		return nil, errBad
	})
	for range 2 {
		if _, err := c.load("broken.wav"); !errors.Is(err, errBad) {
			t.Fatalf("load err = %v, want %v", err, errBad)
		}
	}
	if calls != 2 {
		t.Errorf("decoder called %d times, want 2", calls)
	}
	if err := c.pin("broken.wav"); !errors.Is(err, errBad) {
		t.Errorf("pin err = %v, want %v", err, errBad)
	}
}
