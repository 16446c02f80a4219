package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"orbidswap/internal/amount"
	"orbidswap/internal/quote"
	"orbidswap/internal/sequencer"
	"orbidswap/internal/wallet"
)

func runSwap(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.close()

	q, path, sell, buy, err := c.quoteArgs(ctx, cmd, args)
	if err != nil {
		return err
	}

	fmt.Printf("swapping %s %s for at least %s %s\n",
		amount.ToDecimalString(q.AmountIn, sell.Decimals), sell.Symbol,
		amount.ToDecimalString(q.MinAmountOut, buy.Decimals), buy.Symbol)

	session, err := connectWallet(cmd)
	if err != nil {
		return err
	}
	seq := c.newSequencer(session)

	res, err := seq.Swap(ctx, sequencer.SwapRequest{
		Sell:         sell,
		Buy:          buy,
		Path:         path,
		AmountIn:     q.AmountIn,
		MinAmountOut: q.MinAmountOut,
	})
	if err != nil {
		return err
	}

	printResult(res)
	return nil
}

func runAddLiquidity(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.close()

	tokenA, err := c.parseTokenArg(ctx, args[0])
	if err != nil {
		return err
	}
	tokenB, err := c.parseTokenArg(ctx, args[1])
	if err != nil {
		return err
	}
	amountA, err := amount.ToFixedPoint(args[2], tokenA.Decimals)
	if err != nil {
		return fmt.Errorf("amountA %q: %w", args[2], err)
	}
	amountB, err := amount.ToFixedPoint(args[3], tokenB.Decimals)
	if err != nil {
		return fmt.Errorf("amountB %q: %w", args[3], err)
	}

	slippageBps, _ := cmd.Flags().GetInt("slippage-bps")

	session, err := connectWallet(cmd)
	if err != nil {
		return err
	}
	seq := c.newSequencer(session)

	res, err := seq.AddLiquidity(ctx, sequencer.AddLiquidityRequest{
		TokenA:     tokenA,
		TokenB:     tokenB,
		AmountA:    amountA,
		AmountB:    amountB,
		AmountAMin: quote.MinAmountOut(amountA, slippageBps),
		AmountBMin: quote.MinAmountOut(amountB, slippageBps),
	})
	if err != nil {
		return err
	}

	printResult(res)
	return nil
}

func runRemoveLiquidity(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.close()

	if !common.IsHexAddress(args[0]) {
		return fmt.Errorf("pair %q is not a valid address", args[0])
	}
	pair := common.HexToAddress(args[0])

	tokenA, err := c.parseTokenArg(ctx, args[1])
	if err != nil {
		return err
	}
	tokenB, err := c.parseTokenArg(ctx, args[2])
	if err != nil {
		return err
	}
	percent, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("percent %q: %w", args[3], err)
	}

	session, err := connectWallet(cmd)
	if err != nil {
		return err
	}
	seq := c.newSequencer(session)

	res, err := seq.RemoveLiquidity(ctx, sequencer.RemoveLiquidityRequest{
		Pair:       pair,
		TokenA:     tokenA,
		TokenB:     tokenB,
		Percent:    percent,
		AmountAMin: common.Big0,
		AmountBMin: common.Big0,
	})
	if err != nil {
		return err
	}

	printResult(res)
	return nil
}

func (c *core) newSequencer(session *wallet.Session) *sequencer.Sequencer {
	observer := func(from, to sequencer.State) {
		fmt.Printf("  %s -> %s\n", from, to)
	}
	return sequencer.New(c.client, session, sequencer.Config{
		Router:          c.router,
		Base:            c.weth,
		DeadlineMinutes: c.cfg.DeadlineMinutes,
	}, observer, c.logger)
}

func connectWallet(cmd *cobra.Command) (*wallet.Session, error) {
	key, _ := cmd.Flags().GetString("private-key")
	if key == "" {
		key = os.Getenv("ORBID_PRIVATE_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("private key is required (--private-key or ORBID_PRIVATE_KEY)")
	}

	session := wallet.NewSession()
	address, err := session.Connect(key)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	fmt.Printf("connected %s\n", address.Hex())
	return session, nil
}

func printResult(res *sequencer.Result) {
	for _, hash := range res.ApprovalTxs {
		fmt.Printf("approval %s\n", hash.Hex())
	}
	fmt.Printf("tx       %s\n", res.ActionTx.Hex())
	if res.Receipt != nil {
		fmt.Printf("block    %s\n", res.Receipt.BlockNumber)
	}
}
