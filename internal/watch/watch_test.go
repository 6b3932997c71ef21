package watch

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmwatch/evmwatch/internal/config"
	"github.com/evmwatch/evmwatch/internal/dedup"
	"github.com/evmwatch/evmwatch/internal/logging"
	"github.com/evmwatch/evmwatch/internal/model"
	"github.com/evmwatch/evmwatch/internal/rpcclient"
)

func testConfig(t *testing.T, watchedHex string) *config.Config {
	t.Helper()
	cfg, err := config.Build(config.Raw{
		Endpoints:    []string{"wss://rpc.example.com"},
		ThresholdEth: "100",
		Wallets: []model.WatchedWallet{
			{Label: "watched", Address: model.Address(watchedHex)},
		},
	})
	require.NoError(t, err)
	return cfg
}

func weiEth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

const watchedAddr = "0x1111111111111111111111111111111111111111"[:42]
const otherAddr = "0x2222222222222222222222222222222222222222"[:42]

// S7 — threshold edge: exactly at threshold admits, just under does not.
func TestShouldProcessThresholdEdge(t *testing.T) {
	cfg := testConfig(t, watchedAddr)

	atThreshold := model.RawTransaction{
		From: model.NormalizeAddress(watchedAddr), To: model.NormalizeAddress(otherAddr), Value: weiEth(100),
	}
	_, _, ok := shouldProcess(cfg, atThreshold)
	assert.True(t, ok)

	justUnder := model.RawTransaction{
		From: model.NormalizeAddress(watchedAddr), To: model.NormalizeAddress(otherAddr),
		Value: new(big.Int).Sub(weiEth(100), big.NewInt(1)),
	}
	_, _, ok = shouldProcess(cfg, justUnder)
	assert.False(t, ok)
}

func TestShouldProcessRejectsContractCreation(t *testing.T) {
	cfg := testConfig(t, watchedAddr)
	tx := model.RawTransaction{From: model.NormalizeAddress(watchedAddr), To: "", Value: weiEth(1000)}
	_, _, ok := shouldProcess(cfg, tx)
	assert.False(t, ok)
}

func TestShouldProcessRequiresWatchedSide(t *testing.T) {
	cfg := testConfig(t, watchedAddr)
	tx := model.RawTransaction{
		From: model.NormalizeAddress(otherAddr), To: model.NormalizeAddress("0x3333333333333333333333333333333333333333"),
		Value: weiEth(1000),
	}
	_, _, ok := shouldProcess(cfg, tx)
	assert.False(t, ok)
}

// Invariant 6: case-insensitivity of watchedness.
func TestShouldProcessCaseInsensitive(t *testing.T) {
	cfg := testConfig(t, watchedAddr)
	upper := model.Address("0X1111111111111111111111111111111111111111")
	tx := model.RawTransaction{
		From: model.NormalizeAddress(string(upper)), To: model.NormalizeAddress(otherAddr), Value: weiEth(1000),
	}
	fromWatched, _, ok := shouldProcess(cfg, tx)
	assert.True(t, ok)
	assert.True(t, fromWatched)
}

// S6 — dedup across streams: a hash emitted as Pending must never also emit
// as Confirmed.
func TestDedupAcrossStreams(t *testing.T) {
	cfg := testConfig(t, watchedAddr)
	dedupSet := dedup.New(0)

	var events []model.TransferEvent
	sink := func(e model.TransferEvent) { events = append(events, e) }

	pending := NewPendingProcessor(cfg, dedupSet, sink, logging.Noop(), nil)
	blockProc := NewBlockProcessor(cfg, dedupSet, sink, logging.Noop(), nil)

	hash := model.Hash("0xabc")
	tx := model.RawTransaction{
		Hash: hash, From: model.NormalizeAddress(watchedAddr), To: model.NormalizeAddress(otherAddr), Value: weiEth(150),
	}
	pending.HandleHash(context.Background(), fakeTxFetcher{tx: tx}, hash)

	blockNum := uint64(10)
	block := rpcclient.Block{Number: blockNum, Transactions: []model.RawTransaction{tx}}
	blockProc.Process(block)

	require.Len(t, events, 1)
	assert.Equal(t, model.Pending, events[0].Type)
	assert.True(t, events[0].SeenInMempool)
}

type fakeTxFetcher struct {
	tx  model.RawTransaction
	err error
}

func (f fakeTxFetcher) GetTransaction(ctx context.Context, hash model.Hash) (model.RawTransaction, error) {
	return f.tx, f.err
}

func TestPendingProcessorSwallowsNotFound(t *testing.T) {
	cfg := testConfig(t, watchedAddr)
	dedupSet := dedup.New(0)
	var events []model.TransferEvent
	sink := func(e model.TransferEvent) { events = append(events, e) }
	pending := NewPendingProcessor(cfg, dedupSet, sink, logging.Noop(), nil)

	pending.HandleHash(context.Background(), fakeTxFetcher{err: model.ErrNotFound}, model.Hash("0xdead"))
	assert.Empty(t, events)
}

func TestBlockProcessorSkipsEmptyBlock(t *testing.T) {
	cfg := testConfig(t, watchedAddr)
	dedupSet := dedup.New(0)
	var events []model.TransferEvent
	sink := func(e model.TransferEvent) { events = append(events, e) }
	blockProc := NewBlockProcessor(cfg, dedupSet, sink, logging.Noop(), nil)

	blockProc.Process(rpcclient.Block{Number: 1})
	assert.Empty(t, events)
}
