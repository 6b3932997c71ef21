package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestPool(endpoints []string) *Pool {
	opts := Options{BaseDelay: time.Second, MaxCooldown: time.Minute}
	return &Pool{
		endpoints: endpoints,
		health:    newHealthTracker(endpoints, opts.BaseDelay, opts.MaxCooldown),
		opts:      opts,
		destroyCh: make(chan struct{}),
	}
}

// S8 — two endpoints, A fails, rotation picks B and advances the ring.
func TestPickCurrentHealthyRotatesPastFailed(t *testing.T) {
	p := newTestPool([]string{"A", "B"})

	first := p.pickCurrentHealthy()
	assert.Equal(t, "A", first)

	p.mu.Lock()
	p.health.recordFailure("A")
	p.advanceIndex()
	p.mu.Unlock()

	next := p.pickCurrentHealthy()
	assert.Equal(t, "B", next)
}

func TestPickCurrentHealthySkipsDownEndpoints(t *testing.T) {
	p := newTestPool([]string{"A", "B", "C"})
	p.mu.Lock()
	p.health.recordFailure("A")
	p.health.recordFailure("A")
	p.health.recordFailure("A") // three failures -> Down
	p.mu.Unlock()

	ep := p.pickCurrentHealthy()
	assert.NotEqual(t, "A", ep)
}

func TestPickCurrentHealthyFallsBackToSoonestCooldown(t *testing.T) {
	p := newTestPool([]string{"A", "B"})
	p.mu.Lock()
	p.health.recordFailure("A")
	p.health.recordFailure("A")
	p.health.recordFailure("A")
	p.health.recordFailure("B")
	p.health.recordFailure("B")
	p.health.recordFailure("B")
	p.mu.Unlock()

	// Both endpoints are Down; pickCurrentHealthy must still return one of
	// them (the one with the smaller NextAvailableTime) rather than blocking.
	ep := p.pickCurrentHealthy()
	assert.Contains(t, []string{"A", "B"}, ep)
}

func TestAdvanceIndexWraps(t *testing.T) {
	p := newTestPool([]string{"A", "B", "C"})
	p.currentIndex = 2
	p.advanceIndex()
	assert.Equal(t, 0, p.currentIndex)
}

func TestMinWaitNeverNegative(t *testing.T) {
	p := newTestPool([]string{"A", "B"})
	// No failures recorded: NextAvailableTime is zero, far in the past.
	wait := p.minWait()
	assert.GreaterOrEqual(t, wait, time.Duration(0))
}

func TestCurrentEndpointEmptyBeforeConnect(t *testing.T) {
	p := newTestPool([]string{"A"})
	assert.Equal(t, "", p.CurrentEndpoint())
}
