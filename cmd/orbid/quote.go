package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"orbidswap/internal/amount"
	"orbidswap/internal/quote"
	"orbidswap/internal/router"
	"orbidswap/internal/token"
)

func runQuote(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.close()

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		return c.watchQuotes(ctx, cmd, args)
	}

	q, _, sell, buy, err := c.quoteArgs(ctx, cmd, args)
	if err != nil {
		return err
	}

	fmt.Printf("sell     %s %s\n", amount.ToDecimalString(q.AmountIn, sell.Decimals), sell.Symbol)
	fmt.Printf("buy      %s %s\n", amount.ToDecimalString(q.AmountOut, buy.Decimals), buy.Symbol)
	fmt.Printf("minimum  %s %s (%d bps slippage)\n",
		amount.ToDecimalString(q.MinAmountOut, buy.Decimals), buy.Symbol, q.SlippageBps)
	fmt.Printf("rate     %s\n", q.Rate)
	if q.PriceImpactBps != nil {
		fmt.Printf("impact   %.2f%%\n", float64(*q.PriceImpactBps)/100)
	}
	if q.SellUSD != nil {
		fmt.Printf("value    $%s\n", q.SellUSD.StringFixed(2))
	}
	if q.FeeUSD != nil {
		fmt.Printf("fee      $%s\n", q.FeeUSD.StringFixed(4))
	}
	return nil
}

// quoteArgs parses <sell> <buy> <amount>, routes, and quotes. The path is
// returned alongside so execution commands reuse the quoted route.
func (c *core) quoteArgs(ctx context.Context, cmd *cobra.Command, args []string) (*quote.Quote, []common.Address, token.Token, token.Token, error) {
	var none token.Token

	sell, err := c.parseTokenArg(ctx, args[0])
	if err != nil {
		return nil, nil, none, none, err
	}
	buy, err := c.parseTokenArg(ctx, args[1])
	if err != nil {
		return nil, nil, none, none, err
	}

	amountIn, err := amount.ToFixedPoint(args[2], sell.Decimals)
	if err != nil {
		return nil, nil, none, none, fmt.Errorf("amount %q: %w", args[2], err)
	}

	path, err := router.ComputePath(sell, buy, c.base)
	if err != nil {
		return nil, nil, none, none, err
	}

	slippageBps, _ := cmd.Flags().GetInt("slippage-bps")
	q, err := c.engine.Quote(ctx, quote.Request{
		Sell:        sell,
		Buy:         buy,
		Path:        path,
		AmountIn:    amountIn,
		SlippageBps: slippageBps,
	})
	if err != nil {
		return nil, nil, none, none, err
	}
	return q, path, sell, buy, nil
}

// watchQuotes keeps re-quoting as amounts arrive on stdin. Rapid edits are
// coalesced; a superseded amount's quote is dropped even if its response
// arrives after the newer one.
func (c *core) watchQuotes(ctx context.Context, cmd *cobra.Command, args []string) error {
	sell, err := c.parseTokenArg(ctx, args[0])
	if err != nil {
		return err
	}
	buy, err := c.parseTokenArg(ctx, args[1])
	if err != nil {
		return err
	}
	path, err := router.ComputePath(sell, buy, c.base)
	if err != nil {
		return err
	}
	slippageBps, _ := cmd.Flags().GetInt("slippage-bps")

	quiet := c.cfg.QuoteDebounce
	if quiet <= 0 {
		quiet = 500 * time.Millisecond
	}

	d := quote.NewDebouncer(quiet,
		func(ctx context.Context, input string) (*quote.Quote, error) {
			amountIn, err := amount.ToFixedPoint(input, sell.Decimals)
			if err != nil {
				return nil, err
			}
			return c.engine.Quote(ctx, quote.Request{
				Sell:        sell,
				Buy:         buy,
				Path:        path,
				AmountIn:    amountIn,
				SlippageBps: slippageBps,
			})
		},
		func(input string, q *quote.Quote, err error) {
			if err != nil {
				fmt.Printf("%s: %v\n", input, err)
				return
			}
			fmt.Printf("%s %s -> %s %s (min %s, %s)\n",
				input, sell.Symbol,
				amount.ToDecimalString(q.AmountOut, buy.Decimals), buy.Symbol,
				amount.ToDecimalString(q.MinAmountOut, buy.Decimals),
				q.Rate)
		})
	defer d.Close()

	d.Submit(args[2])

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		d.Submit(line)
	}
	return scanner.Err()
}
