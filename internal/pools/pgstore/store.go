// Package pgstore persists pool snapshots to Postgres so the pool list
// survives restarts and can be served while the RPC endpoint is unreachable.
package pgstore

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"orbidswap/internal/pools"
	"orbidswap/internal/token"
)

// Store provides Postgres persistence for pool snapshots.
type Store struct {
	pool    *pgxpool.Pool
	chainID uint64
}

func NewStore(ctx context.Context, dsn string, chainID uint64) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, chainID: chainID}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertSnapshots inserts or updates the latest snapshot per pool.
func (s *Store) UpsertSnapshots(ctx context.Context, summaries []pools.Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, sum := range summaries {
		var tvl *string
		if sum.TVLUSD != nil {
			v := sum.TVLUSD.String()
			tvl = &v
		}
		batch.Queue(`
			INSERT INTO pool_snapshots (
				chain_id, pair_address,
				token0_address, token0_symbol, token0_decimals,
				token1_address, token1_symbol, token1_decimals,
				reserve0, reserve1, tvl_usd, exchange_rate,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now(),now())
			ON CONFLICT (chain_id, pair_address)
			DO UPDATE SET
				token0_symbol = EXCLUDED.token0_symbol,
				token0_decimals = EXCLUDED.token0_decimals,
				token1_symbol = EXCLUDED.token1_symbol,
				token1_decimals = EXCLUDED.token1_decimals,
				reserve0 = EXCLUDED.reserve0,
				reserve1 = EXCLUDED.reserve1,
				tvl_usd = EXCLUDED.tvl_usd,
				exchange_rate = EXCLUDED.exchange_rate,
				updated_at = now()
		`,
			int64(s.chainID),
			sum.Address.Hex(),
			sum.Token0.Address.Hex(),
			sum.Token0.Symbol,
			int16(sum.Token0.Decimals),
			sum.Token1.Address.Hex(),
			sum.Token1.Symbol,
			int16(sum.Token1.Decimals),
			sum.Reserve0.String(),
			sum.Reserve1.String(),
			tvl,
			sum.ExchangeRate,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range summaries {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LatestSnapshots returns the stored snapshots in insertion order, capped
// at limit.
func (s *Store) LatestSnapshots(ctx context.Context, limit int) ([]pools.Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pair_address,
		       token0_address, token0_symbol, token0_decimals,
		       token1_address, token1_symbol, token1_decimals,
		       reserve0, reserve1, tvl_usd, exchange_rate
		FROM pool_snapshots
		WHERE chain_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, int64(s.chainID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pools.Summary
	for rows.Next() {
		var (
			pairHex, t0Hex, t0Sym, t1Hex, t1Sym string
			t0Dec, t1Dec                        int16
			r0Str, r1Str, rate                  string
			tvlStr                              *string
		)
		if err := rows.Scan(&pairHex, &t0Hex, &t0Sym, &t0Dec, &t1Hex, &t1Sym, &t1Dec, &r0Str, &r1Str, &tvlStr, &rate); err != nil {
			return nil, err
		}

		r0, ok := new(big.Int).SetString(r0Str, 10)
		if !ok {
			return nil, fmt.Errorf("bad reserve0 %q for %s", r0Str, pairHex)
		}
		r1, ok := new(big.Int).SetString(r1Str, 10)
		if !ok {
			return nil, fmt.Errorf("bad reserve1 %q for %s", r1Str, pairHex)
		}

		sum := pools.Summary{
			Address:      common.HexToAddress(pairHex),
			Token0:       token.ERC20(common.HexToAddress(t0Hex), t0Sym, "", uint8(t0Dec)),
			Token1:       token.ERC20(common.HexToAddress(t1Hex), t1Sym, "", uint8(t1Dec)),
			Reserve0:     r0,
			Reserve1:     r1,
			ExchangeRate: rate,
		}
		if tvlStr != nil {
			tvl, err := decimal.NewFromString(*tvlStr)
			if err != nil {
				return nil, fmt.Errorf("bad tvl %q for %s: %w", *tvlStr, pairHex, err)
			}
			sum.TVLUSD = &tvl
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
