package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "orbid",
		Short:        "World Chain swap service",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	addChainFlags(serveCmd)
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().String("pg-dsn", "", "Postgres DSN for pool snapshots (optional)")
	serveCmd.Flags().String("app-id", "", "World ID application id")
	serveCmd.Flags().String("verifier-url", "", "proof verifier base URL")
	serveCmd.Flags().Duration("price-refresh", 0, "USD price refresh interval")
	root.AddCommand(serveCmd)

	poolsCmd := &cobra.Command{
		Use:   "pools",
		Short: "List pools with reserves and TVL",
		RunE:  runPools,
	}
	addChainFlags(poolsCmd)
	root.AddCommand(poolsCmd)

	positionsCmd := &cobra.Command{
		Use:   "positions <address>",
		Short: "List a wallet's LP positions",
		Args:  cobra.ExactArgs(1),
		RunE:  runPositions,
	}
	addChainFlags(positionsCmd)
	root.AddCommand(positionsCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote <sell> <buy> <amount>",
		Short: "Quote a swap (token address or 'native')",
		Args:  cobra.ExactArgs(3),
		RunE:  runQuote,
	}
	addChainFlags(quoteCmd)
	quoteCmd.Flags().Int("slippage-bps", 50, "slippage tolerance in basis points")
	quoteCmd.Flags().Bool("watch", false, "keep reading amounts from stdin, re-quoting with debouncing")
	root.AddCommand(quoteCmd)

	swapCmd := &cobra.Command{
		Use:   "swap <sell> <buy> <amount>",
		Short: "Quote and execute a swap",
		Args:  cobra.ExactArgs(3),
		RunE:  runSwap,
	}
	addChainFlags(swapCmd)
	addSigningFlags(swapCmd)
	swapCmd.Flags().Int("slippage-bps", 50, "slippage tolerance in basis points")
	root.AddCommand(swapCmd)

	addLiquidityCmd := &cobra.Command{
		Use:   "add-liquidity <tokenA> <tokenB> <amountA> <amountB>",
		Short: "Deposit both legs into a pool",
		Args:  cobra.ExactArgs(4),
		RunE:  runAddLiquidity,
	}
	addChainFlags(addLiquidityCmd)
	addSigningFlags(addLiquidityCmd)
	addLiquidityCmd.Flags().Int("slippage-bps", 50, "accepted ratio drift in basis points")
	root.AddCommand(addLiquidityCmd)

	removeLiquidityCmd := &cobra.Command{
		Use:   "remove-liquidity <pair> <tokenA> <tokenB> <percent>",
		Short: "Burn a percentage of an LP position",
		Args:  cobra.ExactArgs(4),
		RunE:  runRemoveLiquidity,
	}
	addChainFlags(removeLiquidityCmd)
	addSigningFlags(removeLiquidityCmd)
	root.AddCommand(removeLiquidityCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "World Chain RPC URL")
	cmd.Flags().Uint64("chain-id", 480, "chain id")
	cmd.Flags().String("factory", "", "pair factory address")
	cmd.Flags().String("router", "", "swap router address")
	cmd.Flags().String("weth", "", "wrapped native token address")
	cmd.Flags().String("native-symbol", "ETH", "native coin display symbol")
	cmd.Flags().String("base-token", "", "routing base token address (defaults to weth)")
	cmd.Flags().StringSlice("seed-tokens", nil, "token addresses to pre-resolve (comma-separated)")
	cmd.Flags().Int("max-pools", 50, "maximum pools to enumerate")
	cmd.Flags().Float64("fallback-unit-price", 1.5, "USD unit price for pools with no priced leg")
	cmd.Flags().Int("deadline-minutes", 20, "transaction deadline in minutes")
	cmd.Flags().Duration("quote-debounce", 0, "quote debounce quiet period")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func addSigningFlags(cmd *cobra.Command) {
	cmd.Flags().String("private-key", "", "hex private key for signing (or ORBID_PRIVATE_KEY)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
