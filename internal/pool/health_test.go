package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/evmwatch/evmwatch/internal/model"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// recordFailure backoff formula: cooldown = min(2^failCount * baseDelay, maxCooldown).
func TestRecordFailureBackoffFormula(t *testing.T) {
	base := time.Second
	max := 10 * time.Second
	ht := newHealthTracker([]string{"a"}, base, max)
	now := time.Now()
	ht.now = fixedClock(now)

	ht.recordFailure("a")
	st := ht.get("a")
	assert.Equal(t, uint(1), st.FailCount)
	assert.Equal(t, model.Degraded, st.Status)
	assert.Equal(t, now.Add(2*time.Second), st.NextAvailableTime)

	ht.recordFailure("a")
	st = ht.get("a")
	assert.Equal(t, uint(2), st.FailCount)
	assert.Equal(t, model.Degraded, st.Status)
	assert.Equal(t, now.Add(4*time.Second), st.NextAvailableTime)

	ht.recordFailure("a")
	st = ht.get("a")
	assert.Equal(t, uint(3), st.FailCount)
	assert.Equal(t, model.Down, st.Status)
	assert.Equal(t, now.Add(8*time.Second), st.NextAvailableTime)

	// Next failure would compute 16s, clamped to maxCooldown.
	ht.recordFailure("a")
	st = ht.get("a")
	assert.Equal(t, max, st.NextAvailableTime.Sub(now))
}

func TestRecordSuccessResetsState(t *testing.T) {
	ht := newHealthTracker([]string{"a"}, time.Second, time.Minute)
	ht.recordFailure("a")
	ht.recordFailure("a")
	ht.recordSuccess("a")

	st := ht.get("a")
	assert.Equal(t, model.Healthy, st.Status)
	assert.Equal(t, uint(0), st.FailCount)
	assert.True(t, st.NextAvailableTime.IsZero())
}

func TestAvailableInClampsToZero(t *testing.T) {
	ht := newHealthTracker([]string{"a"}, time.Second, time.Minute)
	now := time.Now()
	ht.now = fixedClock(now)
	ht.recordFailure("a")

	ht.now = fixedClock(now.Add(time.Hour))
	assert.Equal(t, time.Duration(0), ht.availableIn("a"))
}

func TestSnapshotPreservesOrder(t *testing.T) {
	order := []string{"b", "a", "c"}
	ht := newHealthTracker(order, time.Second, time.Minute)
	snap := ht.snapshot(order)
	assert.Len(t, snap, 3)
	assert.Equal(t, "b", snap[0].URL)
	assert.Equal(t, "a", snap[1].URL)
	assert.Equal(t, "c", snap[2].URL)
}
