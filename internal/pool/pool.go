// Package pool implements the Endpoint Pool (spec.md §4.B): a failover-aware
// manager of N persistent streaming RPC connections with health tracking and
// exponential backoff. Exactly one client is "active" at any instant
// (spec.md §3 Invariant 3); reconnection always runs to completion before the
// new client is exposed to callers or reconnect callbacks.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/evmwatch/evmwatch/internal/metrics"
	"github.com/evmwatch/evmwatch/internal/model"
	"github.com/evmwatch/evmwatch/internal/rpcclient"
)

// ErrDestroyed is returned by Connect once the pool has been torn down.
var ErrDestroyed = errors.New("pool: destroyed")

// Options configures timing knobs; all have the spec.md §6 defaults.
type Options struct {
	BaseDelay           time.Duration
	MaxCooldown         time.Duration
	HealthCheckInterval time.Duration
	RequestTimeout      time.Duration
}

// Pool owns a ring of endpoints and the single currently-active client.
type Pool struct {
	mu sync.Mutex

	endpoints    []string
	currentIndex int

	currentClient   *rpcclient.Client
	currentEndpoint string

	connecting     bool
	connectingDone chan struct{}

	destroyed  bool
	destroyCh  chan struct{}

	health *healthTracker
	opts   Options

	callbacks []func(*rpcclient.Client)

	log *zap.SugaredLogger
	m   *metrics.Registry
}

// New builds a Pool over endpoints (tried in the given order, wrapping around).
func New(endpoints []string, opts Options, log *zap.SugaredLogger, m *metrics.Registry) *Pool {
	return &Pool{
		endpoints: endpoints,
		health:    newHealthTracker(endpoints, opts.BaseDelay, opts.MaxCooldown),
		opts:      opts,
		destroyCh: make(chan struct{}),
		log:       log,
		m:         m,
	}
}

// OnReconnect registers cb to run after every successful (re)connection, in
// registration order. A panicking callback is recovered and logged and does not
// abort the connection (spec.md §4.B).
func (p *Pool) OnReconnect(cb func(*rpcclient.Client)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

// CurrentEndpoint returns the URL of the currently active client, or "" if none.
func (p *Pool) CurrentEndpoint() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentEndpoint
}

// Status returns a snapshot of every endpoint's health, in ring order.
func (p *Pool) Status() []model.EndpointHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.health.snapshot(p.endpoints)
	if p.m != nil {
		for _, h := range snap {
			p.m.EndpointHealth.WithLabelValues(h.URL).Set(float64(h.Status))
		}
	}
	return snap
}

// Destroy tears down the current client, signals any in-flight Connect to
// fail, and marks the pool terminal.
func (p *Pool) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	client := p.currentClient
	p.currentClient = nil
	close(p.destroyCh)
	p.mu.Unlock()

	if client != nil {
		client.Close()
	}
}

// Connect blocks until a client is up, rotating and waiting on cooldowns as
// needed. It never returns an error unless the pool has been destroyed or ctx
// is cancelled.
func (p *Pool) Connect(ctx context.Context) (*rpcclient.Client, error) {
	for {
		p.mu.Lock()
		if p.destroyed {
			p.mu.Unlock()
			return nil, ErrDestroyed
		}
		if p.currentClient != nil && !p.connecting {
			c := p.currentClient
			p.mu.Unlock()
			return c, nil
		}
		if p.connecting {
			done := p.connectingDone
			p.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-p.destroyCh:
				return nil, ErrDestroyed
			}
		}

		p.connecting = true
		p.connectingDone = make(chan struct{})
		p.mu.Unlock()

		client, err := p.connectRound(ctx)

		p.mu.Lock()
		p.connecting = false
		done := p.connectingDone
		if err != nil {
			p.mu.Unlock()
			close(done)
			return nil, err
		}
		p.currentClient = client
		p.currentEndpoint = client.Endpoint()
		callbacks := append([]func(*rpcclient.Client){}, p.callbacks...)
		p.mu.Unlock()
		close(done)

		if p.m != nil {
			p.m.Reconnects.Inc()
		}
		p.runCallbacks(callbacks, client)
		return client, nil
	}
}

// connectRound implements spec.md §4.B's connection algorithm: up to
// len(endpoints) attempts per round, sleeping on the earliest cooldown between
// rounds, until one endpoint probes successfully.
func (p *Pool) connectRound(ctx context.Context) (*rpcclient.Client, error) {
	for {
		for attempt := 0; attempt < len(p.endpoints); attempt++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-p.destroyCh:
				return nil, ErrDestroyed
			default:
			}

			ep := p.pickCurrentHealthy()
			client, err := p.dialAndProbe(ctx, ep)
			if err == nil {
				p.mu.Lock()
				p.health.recordSuccess(ep)
				p.mu.Unlock()
				return client, nil
			}

			p.mu.Lock()
			p.health.recordFailure(ep)
			p.advanceIndex()
			next := p.endpoints[p.currentIndex]
			p.mu.Unlock()

			reason := "rotating"
			if model.IsRateLimit(err) {
				reason = "rate limited, rotating"
			}
			p.log.Warnw("ws_manager: endpoint failed, rotating to next endpoint",
				"endpoint", ep, "next", next, "reason", reason, "err", err)
		}

		wait := p.minWait()
		p.log.Warnw("ws_manager: all endpoints in cooldown, retrying", "wait", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.destroyCh:
			return nil, ErrDestroyed
		}
	}
}

func (p *Pool) dialAndProbe(ctx context.Context, endpoint string) (*rpcclient.Client, error) {
	client, err := rpcclient.Dial(ctx, endpoint, p.opts.RequestTimeout)
	if err != nil {
		return nil, err
	}
	if _, err := client.BlockNumber(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// pickCurrentHealthy implements spec.md §4.B's rotation rule: walk the ring
// from currentIndex for up to N steps, return the first non-Down endpoint whose
// cooldown has expired; if none qualify, return the endpoint with the smallest
// NextAvailableTime (the wait logic still applies uniformly to it).
func (p *Pool) pickCurrentHealthy() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.endpoints)
	now := time.Now()
	for i := 0; i < n; i++ {
		idx := (p.currentIndex + i) % n
		ep := p.endpoints[idx]
		h := p.health.get(ep)
		if h.Status != model.Down && !now.Before(h.NextAvailableTime) {
			p.currentIndex = idx
			return ep
		}
	}

	bestIdx := 0
	bestTime := p.health.get(p.endpoints[0]).NextAvailableTime
	for i := 1; i < n; i++ {
		t := p.health.get(p.endpoints[i]).NextAvailableTime
		if t.Before(bestTime) {
			bestIdx = i
			bestTime = t
		}
	}
	p.currentIndex = bestIdx
	return p.endpoints[bestIdx]
}

func (p *Pool) advanceIndex() {
	p.currentIndex = (p.currentIndex + 1) % len(p.endpoints)
}

// minWait returns min(nextAvailableTime) across endpoints minus now, never
// negative (spec.md §4.B step 4: "min, not zero").
func (p *Pool) minWait() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	var earliest time.Time
	for i, ep := range p.endpoints {
		t := p.health.get(ep).NextAvailableTime
		if i == 0 || t.Before(earliest) {
			earliest = t
		}
	}
	wait := time.Until(earliest)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// ReportFailure is called by the orchestrator when the currently-active
// client's subscriptions or calls surface an OnClose/OnError signal
// (spec.md §4.A/§4.B). If endpoint is still the active one, the pool drops it,
// bumps its health, and starts a new connection round; the reconnect callbacks
// fire once the new round completes.
func (p *Pool) ReportFailure(ctx context.Context, endpoint string, err error) {
	p.mu.Lock()
	if p.destroyed || endpoint != p.currentEndpoint {
		p.mu.Unlock()
		return
	}
	client := p.currentClient
	p.currentClient = nil
	p.currentEndpoint = ""
	p.health.recordFailure(endpoint)
	p.advanceIndex()
	p.mu.Unlock()

	if client != nil {
		client.Close()
	}
	p.log.Warnw("ws_manager: active endpoint disconnected, rotating", "endpoint", endpoint, "err", err)

	if _, connErr := p.Connect(ctx); connErr != nil && !errors.Is(connErr, ErrDestroyed) {
		p.log.Errorw("ws_manager: reconnection attempt failed", "err", connErr)
	}
}

// RunHealthProbes runs the background non-active-endpoint probe loop
// (spec.md §4.B) until ctx is cancelled or the pool is destroyed. Intended to
// be launched as one goroutine by the orchestrator.
func (p *Pool) RunHealthProbes(ctx context.Context) {
	ticker := time.NewTicker(p.opts.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.destroyCh:
			return
		case <-ticker.C:
			p.probeNonActive(ctx)
		}
	}
}

func (p *Pool) probeNonActive(ctx context.Context) {
	p.mu.Lock()
	active := p.currentEndpoint
	now := time.Now()
	var candidates []string
	for _, ep := range p.endpoints {
		if ep == active {
			continue
		}
		h := p.health.get(ep)
		if h.Status == model.Healthy {
			continue
		}
		if now.Before(h.NextAvailableTime) {
			continue
		}
		candidates = append(candidates, ep)
	}
	p.mu.Unlock()

	for _, ep := range candidates {
		probeCtx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
		client, err := rpcclient.Dial(probeCtx, ep, p.opts.RequestTimeout)
		if err == nil {
			_, err = client.BlockNumber(probeCtx)
			client.Close()
		}
		cancel()

		p.mu.Lock()
		if err == nil {
			p.health.recordSuccess(ep)
		}
		// failure: leave state alone, the next probe interval retries.
		p.mu.Unlock()
	}
}

func (p *Pool) runCallbacks(callbacks []func(*rpcclient.Client), client *rpcclient.Client) {
	for _, cb := range callbacks {
		p.safeCallback(cb, client)
	}
}

func (p *Pool) safeCallback(cb func(*rpcclient.Client), client *rpcclient.Client) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("ws_manager: reconnect callback panicked", "panic", r)
		}
	}()
	cb(client)
}
