package pool

import (
	"math"
	"time"

	"github.com/evmwatch/evmwatch/internal/model"
)

// healthTracker owns the per-endpoint bookkeeping spec.md §4.B describes.
// Callers must hold Pool.mu while touching it; it has no locking of its own.
type healthTracker struct {
	baseDelay   time.Duration
	maxCooldown time.Duration
	states      map[string]*model.EndpointHealth
	now         func() time.Time
}

func newHealthTracker(endpoints []string, baseDelay, maxCooldown time.Duration) *healthTracker {
	states := make(map[string]*model.EndpointHealth, len(endpoints))
	for _, ep := range endpoints {
		states[ep] = &model.EndpointHealth{URL: ep, Status: model.Healthy}
	}
	return &healthTracker{baseDelay: baseDelay, maxCooldown: maxCooldown, states: states, now: time.Now}
}

// recordFailure applies spec.md §4.B's failure bookkeeping formula.
func (h *healthTracker) recordFailure(endpoint string) {
	st, ok := h.states[endpoint]
	if !ok {
		return
	}
	now := h.now()
	st.FailCount++
	st.LastErrorTime = now

	cooldown := time.Duration(math.Pow(2, float64(st.FailCount))) * h.baseDelay
	if cooldown > h.maxCooldown {
		cooldown = h.maxCooldown
	}
	st.NextAvailableTime = now.Add(cooldown)

	if st.FailCount < 3 {
		st.Status = model.Degraded
	} else {
		st.Status = model.Down
	}
}

// recordSuccess marks endpoint Healthy and clears its cooldown.
func (h *healthTracker) recordSuccess(endpoint string) {
	st, ok := h.states[endpoint]
	if !ok {
		return
	}
	st.Status = model.Healthy
	st.FailCount = 0
	st.LastSuccessTime = h.now()
	st.NextAvailableTime = time.Time{}
}

func (h *healthTracker) get(endpoint string) model.EndpointHealth {
	if st, ok := h.states[endpoint]; ok {
		return *st
	}
	return model.EndpointHealth{URL: endpoint}
}

func (h *healthTracker) snapshot(order []string) []model.EndpointHealth {
	out := make([]model.EndpointHealth, 0, len(order))
	for _, ep := range order {
		out = append(out, h.get(ep))
	}
	return out
}

// availableIn returns how long until endpoint's cooldown clears, or 0 if it is
// already available.
func (h *healthTracker) availableIn(endpoint string) time.Duration {
	st, ok := h.states[endpoint]
	if !ok {
		return 0
	}
	d := st.NextAvailableTime.Sub(h.now())
	if d < 0 {
		return 0
	}
	return d
}
