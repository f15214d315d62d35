package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Rand shares one math/rand source between the motor loop and the
// per-trigger timelines. Seeded construction keeps engine timing
// reproducible in tests.
type Rand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewRand(seed int64) *Rand {
	return &Rand{r: rand.New(rand.NewSource(seed))}
}

func (l *Rand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *Rand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// Duration samples uniformly from [min, max).
func (l *Rand) Duration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return min + time.Duration(l.r.Int63n(int64(max-min)))
}

// sleep waits for d or until the context is cancelled; it reports whether
// the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
