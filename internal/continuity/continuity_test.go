package continuity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmwatch/evmwatch/internal/logging"
	"github.com/evmwatch/evmwatch/internal/rpcclient"
)

// fakeFetcher is an in-memory stand-in for rpcclient.Client, letting tests
// script BlockNumber and GetBlock behavior precisely (spec.md §8 scenarios).
type fakeFetcher struct {
	head       uint64
	failOnce   map[uint64]bool
	failedKeys []uint64
}

func newFakeFetcher(head uint64) *fakeFetcher {
	return &fakeFetcher{head: head, failOnce: map[uint64]bool{}}
}

func (f *fakeFetcher) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeFetcher) GetBlock(ctx context.Context, number uint64) (rpcclient.Block, error) {
	if f.failOnce[number] {
		delete(f.failOnce, number)
		f.failedKeys = append(f.failedKeys, number)
		return rpcclient.Block{}, errors.New("simulated fetch failure")
	}
	return rpcclient.Block{Number: number}, nil
}

func newTestEngine(fetcher Fetcher, got *[]uint64, errs *[]uint64) *Engine {
	onBlock := func(b rpcclient.Block) { *got = append(*got, b.Number) }
	onErr := func(n uint64, err error) { *errs = append(*errs, n) }
	return New(fetcher, onBlock, onErr, logging.Noop(), nil)
}

// S1 — normal sequence.
func TestProcessNewBlockNormalSequence(t *testing.T) {
	fetcher := newFakeFetcher(100)
	var got []uint64
	var errs []uint64
	e := newTestEngine(fetcher, &got, &errs)
	require.NoError(t, e.Initialize(context.Background()))

	for _, n := range []uint64{101, 102, 103} {
		require.NoError(t, e.ProcessNewBlock(context.Background(), n))
	}

	assert.Equal(t, []uint64{101, 102, 103}, got)
	assert.Equal(t, uint64(103), e.LastProcessed())
}

// S2 — gap and fill.
func TestProcessNewBlockGapAndFill(t *testing.T) {
	fetcher := newFakeFetcher(100)
	var got []uint64
	var errs []uint64
	e := newTestEngine(fetcher, &got, &errs)
	require.NoError(t, e.Initialize(context.Background()))

	require.NoError(t, e.ProcessNewBlock(context.Background(), 101))
	require.NoError(t, e.ProcessNewBlock(context.Background(), 105))

	assert.Equal(t, []uint64{101, 102, 103, 104, 105}, got)
	assert.Equal(t, uint64(105), e.LastProcessed())
}

// S3 — backfill error tolerance: block 103 fails once, is skipped, the
// sequence still reaches 105, and one error is reported.
func TestProcessNewBlockBackfillErrorTolerance(t *testing.T) {
	fetcher := newFakeFetcher(100)
	fetcher.failOnce[103] = true
	var got []uint64
	var errs []uint64
	e := newTestEngine(fetcher, &got, &errs)
	require.NoError(t, e.Initialize(context.Background()))

	require.NoError(t, e.ProcessNewBlock(context.Background(), 101))
	require.NoError(t, e.ProcessNewBlock(context.Background(), 105))

	assert.Equal(t, []uint64{101, 102, 104, 105}, got)
	assert.Equal(t, []uint64{103}, errs)
	assert.Equal(t, uint64(105), e.LastProcessed())
}

// S4 — stale/duplicate notifications are silently ignored.
func TestProcessNewBlockStaleDuplicate(t *testing.T) {
	fetcher := newFakeFetcher(100)
	var got []uint64
	var errs []uint64
	e := newTestEngine(fetcher, &got, &errs)
	require.NoError(t, e.Initialize(context.Background()))

	require.NoError(t, e.ProcessNewBlock(context.Background(), 101))
	require.NoError(t, e.ProcessNewBlock(context.Background(), 102))
	require.NoError(t, e.ProcessNewBlock(context.Background(), 101))

	assert.Equal(t, []uint64{101, 102}, got)
}

// S5 — reconnection triggers backfill to the new client's tip.
func TestHandleReconnectionBackfills(t *testing.T) {
	fetcher := newFakeFetcher(100)
	var got []uint64
	var errs []uint64
	e := newTestEngine(fetcher, &got, &errs)
	require.NoError(t, e.Initialize(context.Background()))
	require.NoError(t, e.ProcessNewBlock(context.Background(), 101))
	require.NoError(t, e.ProcessNewBlock(context.Background(), 102))

	newFetcher := newFakeFetcher(106)
	require.NoError(t, e.HandleReconnection(context.Background(), newFetcher))

	assert.Equal(t, []uint64{101, 102, 103, 104, 105, 106}, got)
	assert.Equal(t, uint64(106), e.LastProcessed())
}

// HandleReconnection with a behind tip logs a warning and trusts the new tip,
// never rolling emissions back.
func TestHandleReconnectionBehindTip(t *testing.T) {
	fetcher := newFakeFetcher(100)
	var got []uint64
	var errs []uint64
	e := newTestEngine(fetcher, &got, &errs)
	require.NoError(t, e.Initialize(context.Background()))
	require.NoError(t, e.ProcessNewBlock(context.Background(), 101))
	require.NoError(t, e.ProcessNewBlock(context.Background(), 102))

	behind := newFakeFetcher(99)
	require.NoError(t, e.HandleReconnection(context.Background(), behind))

	assert.Equal(t, uint64(99), e.LastProcessed())
	assert.Empty(t, got[2:]) // no extra onBlock calls from the reorg branch
}

// HandleReconnection on a never-initialized engine is equivalent to Initialize.
func TestHandleReconnectionBeforeInitialize(t *testing.T) {
	fetcher := newFakeFetcher(50)
	var got []uint64
	var errs []uint64
	e := newTestEngine(nil, &got, &errs)

	require.NoError(t, e.HandleReconnection(context.Background(), fetcher))

	assert.True(t, e.Initialized())
	assert.Equal(t, uint64(50), e.LastProcessed())
	assert.Empty(t, got)
}
