// Package continuity implements the Block Continuity Engine (spec.md §4.C): it
// converts a stream of possibly-gappy head notifications into an ordered,
// gap-free sequence of fully-fetched blocks. All exported methods must be
// invoked serially by the caller (spec.md §5 "single-writer continuity");
// nothing in this package synchronizes internally.
package continuity

import (
	"context"

	"go.uber.org/zap"

	"github.com/evmwatch/evmwatch/internal/metrics"
	"github.com/evmwatch/evmwatch/internal/rpcclient"
)

// Fetcher is the minimal capability this engine needs from a connected client.
type Fetcher interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, number uint64) (rpcclient.Block, error)
}

// OnBlock is invoked, in ascending order, for every block number the engine
// sequences — both in-order heads and backfilled gap blocks.
type OnBlock func(rpcclient.Block)

// OnBackfillError is invoked when an individual backfill block fails to fetch
// (spec.md §4.C: logged, reported, skipped — never stalls the sequence).
type OnBackfillError func(number uint64, err error)

// Engine tracks lastProcessed and drives sequential backfill.
type Engine struct {
	client      Fetcher
	onBlock     OnBlock
	onBackfill  OnBackfillError
	lastProcessed uint64
	initialized bool

	log *zap.SugaredLogger
	m   *metrics.Registry
}

// New builds an Engine. client may be nil until the first HandleReconnection or
// Initialize call supplies one.
func New(client Fetcher, onBlock OnBlock, onBackfillErr OnBackfillError, log *zap.SugaredLogger, m *metrics.Registry) *Engine {
	return &Engine{client: client, onBlock: onBlock, onBackfill: onBackfillErr, log: log, m: m}
}

// LastProcessed returns the highest block number processed so far.
func (e *Engine) LastProcessed() uint64 { return e.lastProcessed }

// Initialized reports whether Initialize has run.
func (e *Engine) Initialized() bool { return e.initialized }

// Initialize sets the high-water mark to the client's current head, without
// processing that block itself. Idempotent.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.initialized {
		return nil
	}
	n, err := e.client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	e.lastProcessed = n
	e.initialized = true
	e.reportLastProcessed()
	return nil
}

// ProcessNewBlock classifies n against lastProcessed+1 and fetches/sequences
// whatever is needed to keep the stream gap-free (spec.md §4.C).
func (e *Engine) ProcessNewBlock(ctx context.Context, n uint64) error {
	expected := e.lastProcessed + 1

	switch {
	case n == expected:
		blk, err := e.client.GetBlock(ctx, n)
		if err != nil {
			return err
		}
		e.onBlock(blk)
		e.lastProcessed = n
		e.reportLastProcessed()
		return nil

	case n > expected:
		gapSize := n - expected
		e.log.Warnw("block_continuity: gap detected, backfilling", "from", expected, "to", n-1, "count", gapSize)
		e.backfill(ctx, expected, n-1)
		blk, err := e.client.GetBlock(ctx, n)
		if err != nil {
			return err
		}
		e.onBlock(blk)
		e.lastProcessed = n
		e.reportLastProcessed()
		return nil

	default:
		// n <= lastProcessed: stale or duplicate, silently ignored.
		return nil
	}
}

// HandleReconnection repoints the engine at newClient and resynchronizes
// (spec.md §4.C). If the engine was never initialized, this is equivalent to
// Initialize.
func (e *Engine) HandleReconnection(ctx context.Context, newClient Fetcher) error {
	e.client = newClient
	if !e.initialized {
		return e.Initialize(ctx)
	}

	latest, err := newClient.BlockNumber(ctx)
	if err != nil {
		return err
	}

	switch {
	case latest > e.lastProcessed:
		from := e.lastProcessed + 1
		e.backfill(ctx, from, latest)
		e.lastProcessed = latest
		e.reportLastProcessed()
	case latest < e.lastProcessed:
		e.log.Warnw("block_continuity: possible reorg, new node tip is behind last processed",
			"lastProcessed", e.lastProcessed, "newTip", latest, "droppedRange", []uint64{latest + 1, e.lastProcessed})
		e.lastProcessed = latest
		e.reportLastProcessed()
	}
	return nil
}

// backfill fetches and sequences [from, to] inclusive, in ascending order.
// Per-block errors are logged and skipped; lastProcessed still advances past
// them so the sequence never stalls (spec.md §4.C error policy).
func (e *Engine) backfill(ctx context.Context, from, to uint64) {
	for k := from; k <= to; k++ {
		blk, err := e.client.GetBlock(ctx, k)
		if err != nil {
			e.log.Errorw("block_continuity: backfill block failed, skipping", "block", k, "err", err)
			if e.onBackfill != nil {
				e.onBackfill(k, err)
			}
			if e.m != nil {
				e.m.BackfillErrors.Inc()
			}
			e.lastProcessed = k
			continue
		}
		e.onBlock(blk)
		e.lastProcessed = k
		if e.m != nil {
			e.m.BackfillBlocks.Inc()
		}
	}
}

func (e *Engine) reportLastProcessed() {
	if e.m != nil {
		e.m.LastProcessed.Set(float64(e.lastProcessed))
	}
}
