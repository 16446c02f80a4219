package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"orbidswap/internal/amount"
)

func runPools(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.close()

	list, err := c.enum.List(ctx, c.cfg.MaxPools)
	if err != nil {
		return err
	}

	for _, p := range list {
		tvl := "n/a"
		if p.TVLUSD != nil {
			tvl = "$" + p.TVLUSD.StringFixed(2)
		}
		fmt.Printf("%s  %s/%s  reserves %s / %s  rate %s  tvl %s\n",
			p.Address.Hex(),
			p.Token0.Symbol, p.Token1.Symbol,
			amount.ToDecimalString(p.Reserve0, p.Token0.Decimals),
			amount.ToDecimalString(p.Reserve1, p.Token1.Decimals),
			p.ExchangeRate,
			tvl,
		)
	}
	fmt.Printf("%d pools\n", len(list))
	return nil
}

func runPositions(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !common.IsHexAddress(args[0]) {
		return fmt.Errorf("%q is not a valid address", args[0])
	}
	owner := common.HexToAddress(args[0])

	c, err := buildCore(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.close()

	list, err := c.enum.Positions(ctx, owner, c.cfg.MaxPools)
	if err != nil {
		return err
	}

	for _, p := range list {
		fmt.Printf("%s  %s/%s  lp %s  share %s\n",
			p.Pair.Hex(),
			p.Token0.Symbol, p.Token1.Symbol,
			amount.ToDecimalString(p.Balance, 18),
			p.SharePercent,
		)
	}
	if len(list) == 0 {
		fmt.Println("no positions")
	}
	return nil
}
