package watch

import (
	"context"
	"errors"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/evmwatch/evmwatch/internal/config"
	"github.com/evmwatch/evmwatch/internal/dedup"
	"github.com/evmwatch/evmwatch/internal/ethunit"
	"github.com/evmwatch/evmwatch/internal/metrics"
	"github.com/evmwatch/evmwatch/internal/model"
)

// TxFetcher is the minimal capability PendingProcessor needs from a connected
// client.
type TxFetcher interface {
	GetTransaction(ctx context.Context, hash model.Hash) (model.RawTransaction, error)
}

// PendingProcessor implements spec.md §4.E. Per-hash fetches within one batch
// may run concurrently; ordering between them is not observable
// (spec.md §5 "AllSettled" semantics), which is why fan-out here uses
// sourcegraph/conc.WaitGroup rather than a sequential loop.
type PendingProcessor struct {
	cfg   *config.Config
	dedup *dedup.Set
	sink  model.Sink
	log   *zap.SugaredLogger
	m     *metrics.Registry
}

// NewPendingProcessor builds a PendingProcessor sharing dedupSet with the
// BlockProcessor.
func NewPendingProcessor(cfg *config.Config, dedupSet *dedup.Set, sink model.Sink, log *zap.SugaredLogger, m *metrics.Registry) *PendingProcessor {
	return &PendingProcessor{cfg: cfg, dedup: dedupSet, sink: sink, log: log, m: m}
}

// HandleHash processes one mempool hash: fetch its body, filter, emit. A
// NotFound, timeout, or any other per-tx error is logged at debug and
// swallowed (spec.md §4.E step 2).
func (p *PendingProcessor) HandleHash(ctx context.Context, client TxFetcher, hash model.Hash) {
	if p.dedup.Contains(hash) {
		return
	}

	tx, err := client.GetTransaction(ctx, hash)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			p.log.Debugw("pending tx vanished before fetch", "hash", hash)
		} else {
			p.log.Debugw("pending tx fetch failed", "hash", hash, "err", err)
		}
		return
	}

	fromWatched, toWatched, ok := shouldProcess(p.cfg, tx)
	if !ok {
		return
	}
	if !p.dedup.AddIfAbsent(hash) {
		return
	}

	side := model.ClassifySide(fromWatched, toWatched)
	event := model.TransferEvent{
		Type:          model.Pending,
		TxHash:        hash,
		From:          tx.From,
		To:            tx.To,
		FromLabel:     p.cfg.Label(tx.From),
		ToLabel:       p.cfg.Label(tx.To),
		ValueWei:      tx.Value,
		ValueEth:      ethunit.WeiToEthString(tx.Value),
		BlockNumber:   nil,
		WatchedSide:   side,
		SeenInMempool: true,
		Timestamp:     time.Now(),
	}
	p.emit(event)
}

// HandleBatch fans HandleHash out across hashes concurrently and waits for all
// of them, recovering any individual panic so one bad transaction body can
// never take the watcher down.
func (p *PendingProcessor) HandleBatch(ctx context.Context, client TxFetcher, hashes []model.Hash) {
	var wg conc.WaitGroup
	for _, h := range hashes {
		hash := h
		wg.Go(func() {
			p.HandleHash(ctx, client, hash)
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		p.log.Errorw("pending hash handler panicked", "panic", r)
	}
}

func (p *PendingProcessor) emit(event model.TransferEvent) {
	if p.m != nil {
		p.m.EventsEmitted.WithLabelValues(event.Type.String(), event.WatchedSide.String()).Inc()
		p.m.DedupSetSize.Set(float64(p.dedup.Len()))
	}
	p.sink(event)
}
