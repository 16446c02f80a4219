package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orbidswap/internal/chain"
	"orbidswap/internal/config"
	"orbidswap/internal/pools"
	"orbidswap/internal/prices"
	"orbidswap/internal/quote"
	"orbidswap/internal/token"
)

// core bundles the collaborators every subcommand builds the same way.
type core struct {
	cfg      config.Config
	logger   *zap.Logger
	client   *chain.Client
	resolver *token.Resolver
	prices   *prices.CoinGecko
	engine   *quote.Engine
	enum     *pools.Enumerator

	native  token.Token
	factory common.Address
	router  common.Address
	weth    common.Address
	base    common.Address
}

func buildCore(ctx context.Context, cmd *cobra.Command) (*core, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	factory, err := parseAddress("factory", cfg.FactoryAddress)
	if err != nil {
		return nil, err
	}
	router, err := parseAddress("router", cfg.RouterAddress)
	if err != nil {
		return nil, err
	}
	weth, err := parseAddress("weth", cfg.WrappedNative)
	if err != nil {
		return nil, err
	}
	base := weth
	if cfg.BaseTokenAddress != "" {
		if base, err = parseAddress("base-token", cfg.BaseTokenAddress); err != nil {
			return nil, err
		}
	}

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	resolver := token.NewResolver(client, logger)
	for _, raw := range cfg.SeedTokens {
		addr, err := parseAddress("seed-tokens", raw)
		if err != nil {
			client.Close()
			return nil, err
		}
		if _, err := resolver.Resolve(ctx, addr); err != nil {
			logger.Warn("seed token unresolvable", zap.String("token", raw), zap.Error(err))
		}
	}

	baseToken, err := resolver.Resolve(ctx, base)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve base token: %w", err)
	}

	priceSource := prices.NewCoinGecko(logger, prices.WithInterval(cfg.PriceRefresh))
	priceSource.Start(ctx)

	engine := quote.NewEngine(client, priceSource, router, factory, logger)
	enum := pools.NewEnumerator(client, resolver, priceSource, pools.Config{
		Factory:           factory,
		Base:              baseToken,
		FallbackUnitPrice: decimal.NewFromFloat(cfg.FallbackUnitPrice),
	}, logger)

	return &core{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		resolver: resolver,
		prices:   priceSource,
		engine:   engine,
		enum:     enum,
		native:   token.Native(cfg.NativeSymbol, cfg.NativeSymbol, 18),
		factory:  factory,
		router:   router,
		weth:     weth,
		base:     base,
	}, nil
}

func (c *core) close() {
	c.prices.Stop()
	c.client.Close()
	c.logger.Sync()
}

// parseTokenArg maps a CLI token argument to a Token: "native" or a
// contract address resolved from chain.
func (c *core) parseTokenArg(ctx context.Context, raw string) (token.Token, error) {
	if raw == "native" {
		return c.native, nil
	}
	if !common.IsHexAddress(raw) {
		return token.Token{}, fmt.Errorf("token %q is not an address (use 'native' for the coin)", raw)
	}
	return c.resolver.Resolve(ctx, common.HexToAddress(raw))
}

func parseAddress(name, raw string) (common.Address, error) {
	if raw == "" {
		return common.Address{}, fmt.Errorf("%s address is required", name)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s: %q is not a valid address", name, raw)
	}
	return common.HexToAddress(raw), nil
}
