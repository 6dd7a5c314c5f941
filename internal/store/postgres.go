// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store owns the PostgreSQL schema and connection pool shared by the
// durable queue, staging and read-state repositories.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// Error codes for pool setup.
const (
	CodePoolConfig  = "STORE_POOL_CONFIG_INVALID"
	CodePoolConnect = "STORE_POOL_CONNECT_FAILED"
)

// PoolConfig tunes the connection pool. Zero values keep pgxpool defaults.
type PoolConfig struct {
	URL            string
	MaxConns       int32
	ConnectTimeout time.Duration
}

// Open creates a pool for cfg.URL and pings it once.
func Open(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code(CodePoolConfig).Wrap(err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	connectCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, pcfg)
	if err != nil {
		return nil, oops.Code(CodePoolConnect).Wrap(err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, oops.Code(CodePoolConnect).With("operation", "ping").Wrap(err)
	}
	return pool, nil
}
