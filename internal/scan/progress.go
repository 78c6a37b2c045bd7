package scan

import "sync"

// progressTracker turns completed work units into a percentage and publishes it
// only when it rises. It stays at or below 99 until the scan is persisted.
type progressTracker struct {
	mu        sync.Mutex
	done      int
	total     int
	published int
	publish   func(int)
}

func newProgressTracker(total int, publish func(int)) *progressTracker {
	return &progressTracker{total: total, published: -1, publish: publish}
}

// resize changes the unit count, used once exclusions shrink the pair phase
func (t *progressTracker) resize(total int) {
	t.mu.Lock()
	t.total = total
	t.mu.Unlock()
}

func (t *progressTracker) advance(n int) {
	t.mu.Lock()
	t.done += n
	p := t.percent()
	if p <= t.published {
		t.mu.Unlock()
		return
	}
	t.published = p
	t.mu.Unlock()

	t.publish(p)
}

func (t *progressTracker) percent() int {
	if t.total <= 0 {
		return 0
	}
	return min(t.done*100/t.total, 99)
}
