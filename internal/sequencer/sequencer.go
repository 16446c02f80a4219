// Package sequencer drives multi-step transaction flows: the
// approve-then-act ceremony for swaps and liquidity changes. One flow runs
// at a time; each phase is observable, and nothing is ever retried
// automatically after a failure.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"orbidswap/internal/dex"
	"orbidswap/internal/token"
	"orbidswap/internal/wallet"
)

var (
	// ErrBusy is returned when a flow is started while another is running.
	ErrBusy = errors.New("a transaction flow is already in progress")

	// ErrUserRejected marks a flow the account holder declined to sign.
	ErrUserRejected = errors.New("user rejected the signature request")
)

const (
	defaultDeadlineMinutes = 20
	gasLimitMarginPercent  = 20
)

// Backend is the gateway slice the sequencer needs: reads for allowance
// checks, plus submission and receipt polling.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitMined(ctx context.Context, hash common.Hash, interval, timeout time.Duration) (*types.Receipt, error)
}

// Signer produces signatures for the connected account.
type Signer interface {
	Address() (common.Address, error)
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Config holds the sequencer's fixed collaborators.
type Config struct {
	Router common.Address
	// Base is the wrapped native token address used when a flow's native
	// leg needs an ERC-20 shape.
	Base common.Address
	// DeadlineMinutes bounds how long a submitted router call stays valid.
	DeadlineMinutes int
	WaitInterval    time.Duration
	WaitTimeout     time.Duration
}

// Result reports the hashes a completed flow produced. ApprovalTxs is
// empty when existing allowances covered the flow.
type Result struct {
	ApprovalTxs []common.Hash
	ActionTx    common.Hash
	Receipt     *types.Receipt
}

// SwapRequest executes a quoted swap. MinAmountOut comes from the quote's
// slippage bound and is enforced on-chain.
type SwapRequest struct {
	Sell         token.Token
	Buy          token.Token
	Path         []common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
}

// AddLiquidityRequest deposits both legs into a pool. Min amounts bound
// the ratio drift the depositor accepts.
type AddLiquidityRequest struct {
	TokenA     token.Token
	TokenB     token.Token
	AmountA    *big.Int
	AmountB    *big.Int
	AmountAMin *big.Int
	AmountBMin *big.Int
}

// RemoveLiquidityRequest burns a percentage of the caller's LP balance.
type RemoveLiquidityRequest struct {
	Pair       common.Address
	TokenA     token.Token
	TokenB     token.Token
	Percent    int // 1..100
	AmountAMin *big.Int
	AmountBMin *big.Int
}

// Sequencer runs one flow at a time against the router.
type Sequencer struct {
	backend  Backend
	signer   Signer
	cfg      Config
	observer Observer
	logger   *zap.Logger

	flowGate chan struct{}
	now      func() time.Time
}

func New(backend Backend, signer Signer, cfg Config, observer Observer, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DeadlineMinutes <= 0 {
		cfg.DeadlineMinutes = defaultDeadlineMinutes
	}
	gate := make(chan struct{}, 1)
	gate <- struct{}{}
	return &Sequencer{
		backend:  backend,
		signer:   signer,
		cfg:      cfg,
		observer: observer,
		logger:   logger,
		flowGate: gate,
		now:      time.Now,
	}
}

// Swap runs the full swap flow: allowance check, approval round if needed,
// then the router swap matching the native/ERC-20 shape of both legs.
func (s *Sequencer) Swap(ctx context.Context, req SwapRequest) (*Result, error) {
	if err := validateSwap(req); err != nil {
		return nil, err
	}
	return s.runFlow(ctx, func(ctx context.Context, flow *flowState) error {
		owner, err := s.signer.Address()
		if err != nil {
			return err
		}

		if !req.Sell.IsNative() {
			if err := s.ensureAllowance(ctx, flow, req.Sell.Address, owner, req.AmountIn); err != nil {
				return err
			}
		}

		routerABI, err := dex.RouterABI()
		if err != nil {
			return err
		}
		deadline := s.deadline()

		var data []byte
		value := new(big.Int)
		switch {
		case req.Sell.IsNative():
			data, err = routerABI.Pack("swapExactETHForTokens", req.MinAmountOut, req.Path, owner, deadline)
			value = req.AmountIn
		case req.Buy.IsNative():
			data, err = routerABI.Pack("swapExactTokensForETH", req.AmountIn, req.MinAmountOut, req.Path, owner, deadline)
		default:
			data, err = routerABI.Pack("swapExactTokensForTokens", req.AmountIn, req.MinAmountOut, req.Path, owner, deadline)
		}
		if err != nil {
			return fmt.Errorf("pack swap: %w", err)
		}

		return s.submitAction(ctx, flow, owner, data, value)
	})
}

// AddLiquidity runs the deposit flow. Each ERC-20 leg gets its own
// allowance round; the native leg rides along as transaction value.
func (s *Sequencer) AddLiquidity(ctx context.Context, req AddLiquidityRequest) (*Result, error) {
	if err := validateAddLiquidity(req); err != nil {
		return nil, err
	}
	return s.runFlow(ctx, func(ctx context.Context, flow *flowState) error {
		owner, err := s.signer.Address()
		if err != nil {
			return err
		}

		if !req.TokenA.IsNative() {
			if err := s.ensureAllowance(ctx, flow, req.TokenA.Address, owner, req.AmountA); err != nil {
				return err
			}
		}
		if !req.TokenB.IsNative() {
			if err := s.ensureAllowance(ctx, flow, req.TokenB.Address, owner, req.AmountB); err != nil {
				return err
			}
		}

		routerABI, err := dex.RouterABI()
		if err != nil {
			return err
		}
		deadline := s.deadline()

		var data []byte
		value := new(big.Int)
		switch {
		case req.TokenA.IsNative():
			data, err = routerABI.Pack("addLiquidityETH",
				req.TokenB.Address, req.AmountB, req.AmountBMin, req.AmountAMin, owner, deadline)
			value = req.AmountA
		case req.TokenB.IsNative():
			data, err = routerABI.Pack("addLiquidityETH",
				req.TokenA.Address, req.AmountA, req.AmountAMin, req.AmountBMin, owner, deadline)
			value = req.AmountB
		default:
			data, err = routerABI.Pack("addLiquidity",
				req.TokenA.Address, req.TokenB.Address,
				req.AmountA, req.AmountB, req.AmountAMin, req.AmountBMin, owner, deadline)
		}
		if err != nil {
			return fmt.Errorf("pack add liquidity: %w", err)
		}

		return s.submitAction(ctx, flow, owner, data, value)
	})
}

// RemoveLiquidity burns Percent of the caller's LP balance in the pair.
// The LP token itself needs router allowance, same as any ERC-20.
func (s *Sequencer) RemoveLiquidity(ctx context.Context, req RemoveLiquidityRequest) (*Result, error) {
	if err := validateRemoveLiquidity(req); err != nil {
		return nil, err
	}
	return s.runFlow(ctx, func(ctx context.Context, flow *flowState) error {
		owner, err := s.signer.Address()
		if err != nil {
			return err
		}

		balance, err := s.lpBalance(ctx, req.Pair, owner)
		if err != nil {
			return err
		}
		liquidity := new(big.Int).Mul(balance, big.NewInt(int64(req.Percent)))
		liquidity.Div(liquidity, big.NewInt(100))
		if liquidity.Sign() == 0 {
			return fmt.Errorf("no liquidity to remove in %s", req.Pair.Hex())
		}

		if err := s.ensureAllowance(ctx, flow, req.Pair, owner, liquidity); err != nil {
			return err
		}

		routerABI, err := dex.RouterABI()
		if err != nil {
			return err
		}
		deadline := s.deadline()

		var data []byte
		switch {
		case req.TokenA.IsNative():
			data, err = routerABI.Pack("removeLiquidityETH",
				req.TokenB.Address, liquidity, req.AmountBMin, req.AmountAMin, owner, deadline)
		case req.TokenB.IsNative():
			data, err = routerABI.Pack("removeLiquidityETH",
				req.TokenA.Address, liquidity, req.AmountAMin, req.AmountBMin, owner, deadline)
		default:
			data, err = routerABI.Pack("removeLiquidity",
				req.TokenA.Address, req.TokenB.Address,
				liquidity, req.AmountAMin, req.AmountBMin, owner, deadline)
		}
		if err != nil {
			return fmt.Errorf("pack remove liquidity: %w", err)
		}

		return s.submitAction(ctx, flow, owner, data, new(big.Int))
	})
}

// flowState carries the per-flow transition bookkeeping and accumulated
// result.
type flowState struct {
	seq    *Sequencer
	state  State
	result Result
}

func (f *flowState) transition(to State) {
	from := f.state
	f.state = to
	f.seq.logger.Info("flow transition",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	if f.seq.observer != nil {
		f.seq.observer(from, to)
	}
}

func (s *Sequencer) runFlow(ctx context.Context, fn func(context.Context, *flowState) error) (*Result, error) {
	select {
	case <-s.flowGate:
	default:
		return nil, ErrBusy
	}
	defer func() { s.flowGate <- struct{}{} }()

	flow := &flowState{seq: s, state: StateIdle}
	if err := fn(ctx, flow); err != nil {
		flow.transition(StateFailed)
		return nil, classifySignError(err)
	}
	return &flow.result, nil
}

// ensureAllowance checks the router's allowance on tokenAddr and, when
// short, runs one approval round: sign, submit, wait, then re-read the
// allowance before moving on.
func (s *Sequencer) ensureAllowance(ctx context.Context, flow *flowState, tokenAddr, owner common.Address, needed *big.Int) error {
	current, err := s.allowance(ctx, tokenAddr, owner)
	if err != nil {
		return err
	}
	if current.Cmp(needed) >= 0 {
		return nil
	}

	flow.transition(StateAwaitingApprovalSignature)

	erc20ABI, err := dex.ERC20ABI()
	if err != nil {
		return err
	}
	data, err := erc20ABI.Pack("approve", s.cfg.Router, needed)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}

	tx, err := s.signTransaction(ctx, owner, tokenAddr, data, new(big.Int))
	if err != nil {
		return err
	}

	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		return err
	}
	flow.transition(StateApprovalPending)
	flow.result.ApprovalTxs = append(flow.result.ApprovalTxs, tx.Hash())

	if _, err := s.backend.WaitMined(ctx, tx.Hash(), s.cfg.WaitInterval, s.cfg.WaitTimeout); err != nil {
		return err
	}

	// Never trust the receipt alone: confirm the allowance actually moved.
	confirmed, err := s.allowance(ctx, tokenAddr, owner)
	if err != nil {
		return err
	}
	if confirmed.Cmp(needed) < 0 {
		return fmt.Errorf("allowance on %s still %s after approval, need %s",
			tokenAddr.Hex(), confirmed, needed)
	}
	flow.transition(StateApprovalConfirmed)
	return nil
}

// submitAction runs the signature/submit/wait tail shared by every flow.
func (s *Sequencer) submitAction(ctx context.Context, flow *flowState, owner common.Address, data []byte, value *big.Int) error {
	flow.transition(StateAwaitingActionSignature)

	tx, err := s.signTransaction(ctx, owner, s.cfg.Router, data, value)
	if err != nil {
		return err
	}

	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		return err
	}
	flow.transition(StateActionPending)
	flow.result.ActionTx = tx.Hash()

	receipt, err := s.backend.WaitMined(ctx, tx.Hash(), s.cfg.WaitInterval, s.cfg.WaitTimeout)
	if err != nil {
		return err
	}
	flow.result.Receipt = receipt
	flow.transition(StateActionConfirmed)
	return nil
}

// signTransaction builds and signs one legacy transaction. Gas estimation
// runs before signing so a guaranteed revert fails the flow without
// spending anything.
func (s *Sequencer) signTransaction(ctx context.Context, owner, to common.Address, data []byte, value *big.Int) (*types.Transaction, error) {
	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  owner,
		To:    &to,
		Data:  data,
		Value: value,
	})
	if err != nil {
		return nil, err
	}
	gas += gas * gasLimitMarginPercent / 100

	nonce, err := s.backend.PendingNonceAt(ctx, owner)
	if err != nil {
		return nil, err
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	return s.signer.SignTx(tx, chainID)
}

func (s *Sequencer) allowance(ctx context.Context, tokenAddr, owner common.Address) (*big.Int, error) {
	erc20ABI, err := dex.ERC20ABI()
	if err != nil {
		return nil, err
	}
	data, err := erc20ABI.Pack("allowance", owner, s.cfg.Router)
	if err != nil {
		return nil, fmt.Errorf("pack allowance: %w", err)
	}
	resp, err := s.backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	values, err := erc20ABI.Unpack("allowance", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack allowance: %w", err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", values[0])
	}
	return amount, nil
}

func (s *Sequencer) lpBalance(ctx context.Context, pair, owner common.Address) (*big.Int, error) {
	pairABI, err := dex.PairABI()
	if err != nil {
		return nil, err
	}
	data, err := pairABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	resp, err := s.backend.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	values, err := pairABI.Unpack("balanceOf", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balance type %T", values[0])
	}
	return balance, nil
}

func (s *Sequencer) deadline() *big.Int {
	return big.NewInt(s.now().Add(time.Duration(s.cfg.DeadlineMinutes) * time.Minute).Unix())
}

func classifySignError(err error) error {
	if errors.Is(err, wallet.ErrRejected) {
		return fmt.Errorf("%w: %v", ErrUserRejected, err)
	}
	return err
}

func validateSwap(req SwapRequest) error {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return fmt.Errorf("swap amount must be positive")
	}
	if req.MinAmountOut == nil || req.MinAmountOut.Sign() < 0 {
		return fmt.Errorf("minimum output is required")
	}
	if len(req.Path) < 2 {
		return fmt.Errorf("swap path needs at least two hops")
	}
	if req.Sell.IsNative() && req.Buy.IsNative() {
		return fmt.Errorf("cannot swap the native coin for itself")
	}
	return nil
}

func validateAddLiquidity(req AddLiquidityRequest) error {
	if req.AmountA == nil || req.AmountA.Sign() <= 0 || req.AmountB == nil || req.AmountB.Sign() <= 0 {
		return fmt.Errorf("both deposit amounts must be positive")
	}
	if req.AmountAMin == nil || req.AmountBMin == nil {
		return fmt.Errorf("minimum deposit amounts are required")
	}
	if req.TokenA.IsNative() && req.TokenB.IsNative() {
		return fmt.Errorf("a pool cannot hold the native coin twice")
	}
	if req.TokenA.Equal(req.TokenB) {
		return fmt.Errorf("pool legs must differ")
	}
	return nil
}

func validateRemoveLiquidity(req RemoveLiquidityRequest) error {
	if req.Percent < 1 || req.Percent > 100 {
		return fmt.Errorf("percent must be in 1..100, got %d", req.Percent)
	}
	if req.AmountAMin == nil || req.AmountBMin == nil {
		return fmt.Errorf("minimum withdrawal amounts are required")
	}
	if (req.Pair == common.Address{}) {
		return fmt.Errorf("pair address is required")
	}
	return nil
}
