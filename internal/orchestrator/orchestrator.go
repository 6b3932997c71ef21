// Package orchestrator wires the Endpoint Pool, Block Continuity Engine, and
// the Block/Pending Processors together (spec.md §4.F). It owns the shared
// dedup set and the single serialization point that feeds head notifications
// into the continuity engine one at a time (spec.md §5 "single-writer
// continuity").
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/evmwatch/evmwatch/internal/config"
	"github.com/evmwatch/evmwatch/internal/continuity"
	"github.com/evmwatch/evmwatch/internal/dedup"
	"github.com/evmwatch/evmwatch/internal/metrics"
	"github.com/evmwatch/evmwatch/internal/model"
	"github.com/evmwatch/evmwatch/internal/pool"
	"github.com/evmwatch/evmwatch/internal/rpcclient"
	"github.com/evmwatch/evmwatch/internal/watch"
)

// avgBlockTime is the rough per-block cadence used by the head-staleness
// monitor (SPEC_FULL.md §5, grounded on the teacher's geth-24-monitor
// tutorial). It is advisory only; it never affects lastProcessed or emission.
const avgBlockTime = 2 * time.Second

// Orchestrator is the process-wide wiring described in spec.md §4.F. Unlike
// the teacher's one-off tutorial binaries, it is an explicit value owned by
// the caller rather than a package-level global.
type Orchestrator struct {
	cfg *config.Config
	log *zap.SugaredLogger
	m   *metrics.Registry

	pool      *pool.Pool
	continuity *continuity.Engine
	dedupSet  *dedup.Set
	blockProc *watch.BlockProcessor
	pendProc  *watch.PendingProcessor

	mu              sync.Mutex
	runCtx          context.Context
	activeClient    *rpcclient.Client
	headSub         ethereum.Subscription
	pendingSub      ethereum.Subscription
	pendingEnabled  bool
	pendingDisabled bool

	lastBlockTime time.Time

	sink model.Sink
}

// New builds an Orchestrator ready to Run. sink receives every admitted
// TransferEvent.
func New(cfg *config.Config, sink model.Sink, log *zap.SugaredLogger, m *metrics.Registry) *Orchestrator {
	dedupSet := dedup.New(cfg.DedupRetention)

	o := &Orchestrator{
		cfg:            cfg,
		log:            log,
		m:              m,
		dedupSet:       dedupSet,
		sink:           sink,
		pendingEnabled: true,
	}
	o.blockProc = watch.NewBlockProcessor(cfg, dedupSet, sink, log, m)
	o.pendProc = watch.NewPendingProcessor(cfg, dedupSet, sink, log, m)

	poolOpts := pool.Options{
		BaseDelay:           cfg.BaseDelay,
		MaxCooldown:         cfg.MaxCooldown,
		HealthCheckInterval: cfg.HealthCheckInterval,
		RequestTimeout:      cfg.RequestTimeout,
	}
	o.pool = pool.New(cfg.Endpoints, poolOpts, log, m)
	o.continuity = continuity.New(nil, o.blockProc.Process, o.onBackfillError, log, m)
	o.pool.OnReconnect(o.handleReconnect)

	return o
}

// Run performs spec.md §4.F's startup sequence and blocks until ctx is
// cancelled, at which point it tears down subscriptions and destroys the pool.
// ctx is also the context every subscription, backfill, and pending-transaction
// fetch runs under, so cancelling it (spec.md §5 "Shutdown cancels all
// outstanding RPCs") unblocks them without waiting for their per-call timeout.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.runCtx = ctx
	o.mu.Unlock()

	client, err := o.pool.Connect(ctx)
	if err != nil {
		return err
	}
	// handleReconnect already ran via OnReconnect for this first connection.
	_ = client

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.pool.RunHealthProbes(gctx)
		return nil
	})
	g.Go(func() error {
		o.runHeadStalenessMonitor(gctx)
		return nil
	})

	<-ctx.Done()
	o.teardownSubscriptions()
	o.pool.Destroy()
	_ = g.Wait()
	return nil
}

// handleReconnect is registered as the pool's OnReconnect callback
// (spec.md §4.F step 3): tear down old subscriptions, repoint the continuity
// engine, run missed-block backfill, and re-arm both subscriptions.
func (o *Orchestrator) handleReconnect(client *rpcclient.Client) {
	o.mu.Lock()
	o.teardownSubscriptionsLocked()
	o.activeClient = client
	o.mu.Unlock()

	ctx := o.runContext()

	if err := o.continuity.HandleReconnection(ctx, client); err != nil {
		o.log.Errorw("block_continuity: resynchronization after reconnect failed", "err", err)
	}

	o.armHeadSubscription(client)
	o.armPendingSubscription(client)
}

func (o *Orchestrator) armHeadSubscription(client *rpcclient.Client) {
	ctx := o.runContext()
	heads, sub, err := client.SubscribeNewHeads(ctx)
	if err != nil {
		o.log.Errorw("ws_manager: failed to subscribe to new heads", "endpoint", client.Endpoint(), "err", err)
		o.reportFailureAsync(client.Endpoint(), err)
		return
	}

	o.mu.Lock()
	o.headSub = sub
	o.mu.Unlock()

	go func() {
		for {
			select {
			case n, ok := <-heads:
				if !ok {
					return
				}
				o.onHead(client, n)
			case err, ok := <-sub.Err():
				if !ok {
					return
				}
				if err != nil {
					o.log.Warnw("ws_manager: new heads subscription dropped", "endpoint", client.Endpoint(), "err", err)
					o.reportFailureAsync(client.Endpoint(), err)
				}
				return
			}
		}
	}()
}

func (o *Orchestrator) armPendingSubscription(client *rpcclient.Client) {
	o.mu.Lock()
	disabled := o.pendingDisabled
	o.mu.Unlock()
	if disabled {
		return
	}

	ctx := o.runContext()
	hashes, sub, err := client.SubscribePendingTxHashes(ctx)
	if err != nil {
		if model.IsPendingUnsupported(err) {
			o.log.Infow("pending-transaction monitoring not supported by this endpoint, disabling for the session", "endpoint", client.Endpoint())
			o.mu.Lock()
			o.pendingDisabled = true
			o.mu.Unlock()
			if o.m != nil {
				o.m.PendingDisabled.Set(1)
			}
			return
		}
		o.log.Errorw("ws_manager: failed to subscribe to pending transactions", "endpoint", client.Endpoint(), "err", err)
		o.reportFailureAsync(client.Endpoint(), err)
		return
	}

	o.mu.Lock()
	o.pendingSub = sub
	o.mu.Unlock()

	go func() {
		for {
			select {
			case h, ok := <-hashes:
				if !ok {
					return
				}
				o.pendProc.HandleBatch(ctx, client, []model.Hash{h})
			case err, ok := <-sub.Err():
				if !ok {
					return
				}
				if err != nil {
					if model.IsPendingUnsupported(err) {
						o.log.Infow("pending-transaction monitoring unsupported mid-stream, disabling for the session", "endpoint", client.Endpoint())
						o.mu.Lock()
						o.pendingDisabled = true
						o.mu.Unlock()
						return
					}
					o.log.Warnw("ws_manager: pending subscription dropped", "endpoint", client.Endpoint(), "err", err)
					o.reportFailureAsync(client.Endpoint(), err)
				}
				return
			}
		}
	}()
}

// onHead is the single serialization point spec.md §5 requires: every head
// notification, regardless of which connection produced it, is fed through
// here one at a time.
func (o *Orchestrator) onHead(client *rpcclient.Client, n uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if client != o.activeClient {
		// Stale notification from a connection that is no longer active.
		return
	}
	ctx := o.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	// handleReconnect initializes the continuity engine before subscriptions
	// are armed; if that initialization failed, it is retried here so a head
	// is never classified against an unset high-water mark.
	if !o.continuity.Initialized() {
		if err := o.continuity.Initialize(ctx); err != nil {
			o.log.Warnw("block_continuity: initialization failed, triggering failover", "block", n, "err", err)
			go o.pool.ReportFailure(ctx, client.Endpoint(), err)
			return
		}
	}
	if err := o.continuity.ProcessNewBlock(ctx, n); err != nil {
		o.log.Warnw("ws_manager: block fetch failed during routine processing, triggering failover", "block", n, "err", err)
		go o.pool.ReportFailure(ctx, client.Endpoint(), err)
		return
	}
	o.lastBlockTime = time.Now()
}

// runHeadStalenessMonitor logs a warning when no new block has landed within
// 2*avgBlockTime of the last one (SPEC_FULL.md §5, grounded on geth-24-monitor).
// Advisory only: it never touches lastProcessed or emission.
func (o *Orchestrator) runHeadStalenessMonitor(ctx context.Context) {
	ticker := time.NewTicker(avgBlockTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if age := o.HeadAge(); age > 2*avgBlockTime {
				o.log.Warnw("head stale: no new block processed recently", "age", age)
			}
		}
	}
}

func (o *Orchestrator) onBackfillError(number uint64, err error) {
	o.log.Errorw("block_continuity: backfill block skipped", "block", number, "err", err)
}

// HeadAge reports how long it has been since the last successfully processed
// block, for the head-staleness monitor (SPEC_FULL.md §5).
func (o *Orchestrator) HeadAge() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastBlockTime.IsZero() {
		return 0
	}
	return time.Since(o.lastBlockTime)
}

func (o *Orchestrator) reportFailureAsync(endpoint string, err error) {
	go o.pool.ReportFailure(o.runContext(), endpoint, err)
}

// runContext returns the context passed to Run, or context.Background() if
// Run has not started yet.
func (o *Orchestrator) runContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runCtx == nil {
		return context.Background()
	}
	return o.runCtx
}

func (o *Orchestrator) teardownSubscriptions() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.teardownSubscriptionsLocked()
}

func (o *Orchestrator) teardownSubscriptionsLocked() {
	if o.headSub != nil {
		o.headSub.Unsubscribe()
		o.headSub = nil
	}
	if o.pendingSub != nil {
		o.pendingSub.Unsubscribe()
		o.pendingSub = nil
	}
}

// Status exposes the pool's endpoint health, for the CLI's presentation layer.
func (o *Orchestrator) Status() []model.EndpointHealth {
	return o.pool.Status()
}
