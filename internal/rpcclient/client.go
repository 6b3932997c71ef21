// Package rpcclient wraps a single persistent streaming connection to one EVM
// endpoint, exposing exactly the capability set spec.md §4.A names. It is built
// on github.com/ethereum/go-ethereum's ethclient for request/response calls and
// newHeads subscriptions, plus the underlying rpc.Client for the
// newPendingTransactions subscription that ethclient does not itself wrap.
package rpcclient

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/evmwatch/evmwatch/internal/model"
)

// Block is the subset of a fetched block the rest of the pipeline needs.
type Block struct {
	Number       uint64
	Timestamp    uint64
	Transactions []model.RawTransaction
}

// Client is the narrow capability set spec.md §4.A requires over one
// connection. All methods share the same underlying socket.
type Client struct {
	endpoint string
	rpcCli   *rpc.Client
	eth      *ethclient.Client
	timeout  time.Duration
}

// Dial opens one persistent connection to endpoint (ws:// or wss://).
func Dial(ctx context.Context, endpoint string, timeout time.Duration) (*Client, error) {
	rpcCli, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, model.NewNetworkError(endpoint, err)
	}
	return &Client{
		endpoint: endpoint,
		rpcCli:   rpcCli,
		eth:      ethclient.NewClient(rpcCli),
		timeout:  timeout,
	}, nil
}

// Endpoint returns the URL this client is connected to.
func (c *Client) Endpoint() string { return c.endpoint }

// Close tears down the underlying connection.
func (c *Client) Close() {
	c.rpcCli.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// BlockNumber returns the current head block number. Used both for the probe
// step in the pool's connection algorithm and for HandleReconnection's
// resynchronization read.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, model.NewNetworkError(c.endpoint, err)
	}
	return n, nil
}

// GetBlock fetches a full block, including transaction bodies.
func (c *Client) GetBlock(ctx context.Context, number uint64) (Block, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	blk, err := c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return Block{}, model.NewNetworkError(c.endpoint, err)
	}

	txs := make([]model.RawTransaction, 0, len(blk.Transactions()))
	num := blk.NumberU64()
	for _, tx := range blk.Transactions() {
		txs = append(txs, toRawTransaction(tx, &num))
	}

	return Block{
		Number:       num,
		Timestamp:    blk.Time(),
		Transactions: txs,
	}, nil
}

// GetTransaction fetches a single transaction by hash. Returns model.ErrNotFound
// if the node does not know it (common for evicted pending transactions).
func (c *Client) GetTransaction(ctx context.Context, hash model.Hash) (model.RawTransaction, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	tx, isPending, err := c.eth.TransactionByHash(ctx, common.HexToHash(hash.String()))
	if err != nil {
		if err == ethereum.NotFound {
			return model.RawTransaction{}, model.ErrNotFound
		}
		return model.RawTransaction{}, model.NewNetworkError(c.endpoint, err)
	}

	var blockNum *uint64
	if !isPending {
		receipt, rerr := c.eth.TransactionReceipt(ctx, tx.Hash())
		if rerr == nil && receipt != nil {
			n := receipt.BlockNumber.Uint64()
			blockNum = &n
		}
	}
	return toRawTransaction(tx, blockNum), nil
}

// SubscribeNewHeads delivers block numbers for newly produced heads.
func (c *Client) SubscribeNewHeads(ctx context.Context) (<-chan uint64, ethereum.Subscription, error) {
	headers := make(chan *types.Header, 16)
	sub, err := c.eth.SubscribeNewHead(ctx, headers)
	if err != nil {
		return nil, nil, model.NewNetworkError(c.endpoint, err)
	}

	out := make(chan uint64, 16)
	go func() {
		defer close(out)
		for {
			select {
			case h, ok := <-headers:
				if !ok {
					return
				}
				select {
				case out <- h.Number.Uint64():
				case <-ctx.Done():
					return
				case <-sub.Err():
					return
				}
			case <-ctx.Done():
				return
			case <-sub.Err():
				// Unsubscribe() or an underlying Close() closes this channel;
				// go-ethereum never closes headers itself, so this is the
				// only reliable way for the forwarder to notice teardown.
				return
			}
		}
	}()
	return out, sub, nil
}

// SubscribePendingTxHashes delivers mempool transaction hashes. May fail with a
// model.NetworkError whose text indicates the provider does not support it
// (spec.md §4.A); the orchestrator treats that as non-fatal via
// model.IsPendingUnsupported.
func (c *Client) SubscribePendingTxHashes(ctx context.Context) (<-chan model.Hash, ethereum.Subscription, error) {
	hashes := make(chan common.Hash, 64)
	sub, err := c.rpcCli.EthSubscribe(ctx, hashes, "newPendingTransactions")
	if err != nil {
		return nil, nil, model.NewNetworkError(c.endpoint, err)
	}

	out := make(chan model.Hash, 64)
	go func() {
		defer close(out)
		for {
			select {
			case h, ok := <-hashes:
				if !ok {
					return
				}
				select {
				case out <- model.Hash(h.Hex()):
				case <-ctx.Done():
					return
				case <-sub.Err():
					return
				}
			case <-ctx.Done():
				return
			case <-sub.Err():
				// Same reasoning as SubscribeNewHeads: Unsubscribe()/Close()
				// close this channel; hashes itself is never closed.
				return
			}
		}
	}()
	return out, sub, nil
}

func toRawTransaction(tx *types.Transaction, blockNumber *uint64) model.RawTransaction {
	var to model.Address
	if tx.To() != nil {
		to = model.NormalizeAddress(tx.To().Hex())
	}

	from, _ := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)

	return model.RawTransaction{
		Hash:        model.NormalizeHash(tx.Hash().Hex()),
		From:        model.NormalizeAddress(from.Hex()),
		To:          to,
		Value:       tx.Value(),
		BlockNumber: blockNumber,
	}
}
