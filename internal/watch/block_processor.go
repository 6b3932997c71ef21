// Package watch implements the Block Processor and Pending Processor
// (spec.md §4.D, §4.E): the filters that turn raw transactions into admitted
// TransferEvents, and the dedup/emit glue shared by both paths.
package watch

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/evmwatch/evmwatch/internal/config"
	"github.com/evmwatch/evmwatch/internal/dedup"
	"github.com/evmwatch/evmwatch/internal/ethunit"
	"github.com/evmwatch/evmwatch/internal/metrics"
	"github.com/evmwatch/evmwatch/internal/model"
	"github.com/evmwatch/evmwatch/internal/rpcclient"
)

// BlockProcessor applies shouldProcess to every transaction of a fetched block
// and hands admitted transfers to sink (spec.md §4.D).
type BlockProcessor struct {
	cfg   *config.Config
	dedup *dedup.Set
	sink  model.Sink
	log   *zap.SugaredLogger
	m     *metrics.Registry
}

// NewBlockProcessor builds a BlockProcessor sharing dedupSet with the
// PendingProcessor, per spec.md §5's shared-resource requirement.
func NewBlockProcessor(cfg *config.Config, dedupSet *dedup.Set, sink model.Sink, log *zap.SugaredLogger, m *metrics.Registry) *BlockProcessor {
	return &BlockProcessor{cfg: cfg, dedup: dedupSet, sink: sink, log: log, m: m}
}

// Process iterates block's transactions in index order (spec.md §5 ordering
// guarantee) and emits one Confirmed event per admitted transfer not already
// seen on the pending path.
func (p *BlockProcessor) Process(block rpcclient.Block) {
	if len(block.Transactions) == 0 {
		return
	}
	for _, tx := range block.Transactions {
		if p.dedup.Contains(tx.Hash) {
			// Already emitted as Pending; do not emit again.
			continue
		}
		fromWatched, toWatched, ok := shouldProcess(p.cfg, tx)
		if !ok {
			continue
		}
		if !p.dedup.AddIfAbsent(tx.Hash) {
			continue
		}

		side := model.ClassifySide(fromWatched, toWatched)
		event := model.TransferEvent{
			Type:          model.Confirmed,
			TxHash:        tx.Hash,
			From:          tx.From,
			To:            tx.To,
			FromLabel:     p.cfg.Label(tx.From),
			ToLabel:       p.cfg.Label(tx.To),
			ValueWei:      tx.Value,
			ValueEth:      ethunit.WeiToEthString(tx.Value),
			BlockNumber:   &block.Number,
			WatchedSide:   side,
			SeenInMempool: false,
			Timestamp:     time.Now(),
		}
		p.emit(event)
	}
}

func (p *BlockProcessor) emit(event model.TransferEvent) {
	if p.m != nil {
		p.m.EventsEmitted.WithLabelValues(event.Type.String(), event.WatchedSide.String()).Inc()
		p.m.DedupSetSize.Set(float64(p.dedup.Len()))
	}
	p.sink(event)
}

// shouldProcess implements spec.md §4.D.b's admission filter, shared by both
// processors. Returns whether from/to are watched and whether the transaction
// is admitted at all.
func shouldProcess(cfg *config.Config, tx model.RawTransaction) (fromWatched, toWatched, ok bool) {
	if tx.IsContractCreation() {
		return false, false, false
	}
	if tx.Value == nil || tx.Value.Cmp(cfg.ThresholdWei) < 0 {
		return false, false, false
	}
	fromWatched = containsAddress(cfg.Watched, tx.From)
	toWatched = containsAddress(cfg.Watched, tx.To)
	if !fromWatched && !toWatched {
		return fromWatched, toWatched, false
	}
	return fromWatched, toWatched, true
}

func containsAddress(set mapset.Set[model.Address], addr model.Address) bool {
	if addr == "" {
		return false
	}
	return set.Contains(addr)
}
