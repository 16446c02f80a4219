package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orbidswap/internal/api"
	"orbidswap/internal/metrics"
	"orbidswap/internal/pools/pgstore"
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.close()

	stats := metrics.New(prometheus.DefaultRegisterer)
	c.client.SetBatchObserver(func(size int) {
		stats.RPCBatchSize.Observe(float64(size))
	})

	var store *pgstore.Store
	if c.cfg.PGDSN != "" {
		store, err = pgstore.NewStore(ctx, c.cfg.PGDSN, c.cfg.ChainID)
		if err != nil {
			return err
		}
		defer store.Close()
		go c.snapshotLoop(ctx, store)
	}

	server := api.NewServer(c.engine, c.enum, c.resolver, stats, api.Config{
		AppID:       c.cfg.AppID,
		VerifierURL: c.cfg.VerifierURL,
		MaxPools:    c.cfg.MaxPools,
		Native:      c.native,
		Base:        c.base,
	}, c.logger)
	if store != nil {
		server.SetSnapshotSource(store)
	}

	c.logger.Info("serving",
		zap.String("listen", c.cfg.ListenAddr),
		zap.String("rpc", c.cfg.RPCURL),
		zap.String("factory", c.factory.Hex()),
		zap.String("router", c.router.Hex()),
		zap.Bool("snapshots", c.cfg.PGDSN != ""),
	)

	errc := make(chan error, 1)
	go func() { errc <- server.Run(c.cfg.ListenAddr) }()

	select {
	case <-ctx.Done():
		c.logger.Info("shutting down")
		return nil
	case err := <-errc:
		return err
	}
}

// snapshotLoop persists the pool list periodically so restarts and RPC
// outages can serve the last known state.
func (c *core) snapshotLoop(ctx context.Context, store *pgstore.Store) {
	interval := c.cfg.PriceRefresh
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		list, err := c.enum.List(ctx, c.cfg.MaxPools)
		if err != nil {
			c.logger.Warn("pool snapshot walk failed", zap.Error(err))
		} else if err := store.UpsertSnapshots(ctx, list); err != nil {
			c.logger.Warn("pool snapshot write failed", zap.Error(err))
		} else {
			c.logger.Debug("pool snapshots stored", zap.Int("pools", len(list)))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
