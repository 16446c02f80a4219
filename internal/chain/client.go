// Package chain is the gateway to the World Chain RPC endpoint. It exposes
// single and batched read-only calls, transaction submission, and bounded
// receipt polling, and it keeps transport failures distinguishable from
// on-chain reverts.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrNetwork marks transport-level failures: the node could not be
	// reached or returned a malformed response. Retryable by the caller.
	ErrNetwork = errors.New("network error")

	// ErrCallReverted marks an eth_call the node executed and rejected.
	ErrCallReverted = errors.New("call reverted")

	// ErrTxReverted marks a transaction that was mined with failure status.
	ErrTxReverted = errors.New("transaction reverted")
)

// Client wraps go-ethereum RPC and provides the gateway methods the swap
// core depends on.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	batchObserver func(size int)
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNetwork, rpcURL, err)
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
	}, nil
}

// SetBatchObserver registers a callback invoked with the element count of
// every batched read. Set once during wiring, before concurrent use.
func (c *Client) SetBatchObserver(fn func(size int)) {
	c.batchObserver = fn
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %v", ErrNetwork, err)
	}
	return id, nil
}

// CallContract performs a single eth_call. Reverts come back wrapped in
// ErrCallReverted, everything else in ErrNetwork.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	out, err := c.ethClient.CallContract(ctx, msg, blockNumber)
	if err != nil {
		return nil, classifyCallError(err)
	}
	return out, nil
}

// BatchCall is one element of a batched read.
type BatchCall struct {
	To   common.Address
	Data []byte
}

// BatchResult holds the per-element outcome of a batched read.
type BatchResult struct {
	Data []byte
	Err  error
}

type callArg struct {
	To   *common.Address `json:"to"`
	Data hexutil.Bytes   `json:"data"`
}

// CallBatch executes many eth_call reads in one RPC round trip. The
// returned slice is positionally aligned with calls; element errors are
// reported per item so one reverting pair does not fail the whole batch.
func (c *Client) CallBatch(ctx context.Context, calls []BatchCall) ([]BatchResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	if c.batchObserver != nil {
		c.batchObserver(len(calls))
	}

	elems := make([]rpc.BatchElem, len(calls))
	outputs := make([]hexutil.Bytes, len(calls))
	for i, call := range calls {
		to := call.To
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{callArg{To: &to, Data: call.Data}, "latest"},
			Result: &outputs[i],
		}
	}

	if err := c.rpcClient.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("%w: batch call: %v", ErrNetwork, err)
	}

	results := make([]BatchResult, len(calls))
	for i := range elems {
		if elems[i].Error != nil {
			results[i] = BatchResult{Err: classifyCallError(elems[i].Error)}
			continue
		}
		results[i] = BatchResult{Data: outputs[i]}
	}
	return results, nil
}

// PendingNonceAt returns the next nonce for the account.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.ethClient.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("%w: pending nonce: %v", ErrNetwork, err)
	}
	return nonce, nil
}

// SuggestGasPrice returns the node's gas price suggestion.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: suggest gas price: %v", ErrNetwork, err)
	}
	return price, nil
}

// EstimateGas estimates gas for the call. A revert during estimation is
// surfaced as ErrCallReverted so callers can show the failure before
// spending anything.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.ethClient.EstimateGas(ctx, msg)
	if err != nil {
		return 0, classifyCallError(err)
	}
	return gas, nil
}

// SendTransaction submits a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.ethClient.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("%w: send transaction: %v", ErrNetwork, err)
	}
	return nil
}

// WaitMined polls for the receipt of hash until it lands, the timeout
// elapses, or ctx is cancelled. A mined-but-failed receipt returns
// ErrTxReverted alongside the receipt.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash, interval, timeout time.Duration) (*types.Receipt, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := c.ethClient.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, fmt.Errorf("%w: %s", ErrTxReverted, hash.Hex())
			}
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: receipt %s: %v", ErrNetwork, hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("%w: receipt %s not found after %s", ErrNetwork, hash.Hex(), timeout)
		case <-ticker.C:
		}
	}
}

// IsRevert reports whether err stems from contract execution rather than
// transport.
func IsRevert(err error) bool {
	return errors.Is(err, ErrCallReverted) || errors.Is(err, ErrTxReverted)
}

func classifyCallError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert") {
		return fmt.Errorf("%w: %s", ErrCallReverted, truncate(msg, 120))
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return fmt.Errorf("%w: %s", ErrCallReverted, truncate(msg, 120))
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
