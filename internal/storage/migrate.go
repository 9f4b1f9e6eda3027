package storage

import (
	"context"
	"fmt"
)

// Schema is applied idempotently at startup. The partial unique index on
// ledger_entries enforces once-only application for entry types that must
// never be journaled twice for the same reference (deposit credits,
// withdrawal lifecycle entries).
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		symbol TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		decimals INT NOT NULL DEFAULT 18,
		contract_address TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		auto_deposit_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		required_confirmations INT NOT NULL DEFAULT 12
	)`,
	`CREATE TABLE IF NOT EXISTS balances (
		user_id UUID NOT NULL,
		asset TEXT NOT NULL,
		available NUMERIC(38, 18) NOT NULL DEFAULT 0 CHECK (available >= 0),
		locked NUMERIC(38, 18) NOT NULL DEFAULT 0 CHECK (locked >= 0),
		version BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, asset)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		asset TEXT NOT NULL,
		delta_available NUMERIC(38, 18) NOT NULL,
		delta_locked NUMERIC(38, 18) NOT NULL,
		entry_type TEXT NOT NULL,
		reference_type TEXT NOT NULL,
		reference_id UUID NOT NULL,
		available_before NUMERIC(38, 18) NOT NULL,
		available_after NUMERIC(38, 18) NOT NULL,
		locked_before NUMERIC(38, 18) NOT NULL,
		locked_after NUMERIC(38, 18) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_asset
		ON ledger_entries (user_id, asset, created_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_once_only
		ON ledger_entries (entry_type, reference_type, reference_id)
		WHERE entry_type IN ('deposit_credit', 'withdrawal_lock', 'withdrawal_debit', 'withdrawal_refund')`,
	`CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		amount NUMERIC(38, 18) NOT NULL,
		price NUMERIC(38, 18),
		lock_price NUMERIC(38, 18) NOT NULL DEFAULT 0,
		filled_amount NUMERIC(38, 18) NOT NULL DEFAULT 0,
		remaining_amount NUMERIC(38, 18) NOT NULL,
		average_price NUMERIC(38, 18) NOT NULL DEFAULT 0,
		fees_paid NUMERIC(38, 18) NOT NULL DEFAULT 0,
		locked_amount NUMERIC(38, 18) NOT NULL,
		locked_asset TEXT NOT NULL,
		status TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		filled_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_symbol_open
		ON orders (symbol, created_at)
		WHERE status IN ('open', 'partially_filled')`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id UUID PRIMARY KEY,
		symbol TEXT NOT NULL,
		buy_order_id UUID NOT NULL,
		sell_order_id UUID NOT NULL,
		maker_side TEXT NOT NULL,
		price NUMERIC(38, 18) NOT NULL,
		quantity NUMERIC(38, 18) NOT NULL,
		total_value NUMERIC(38, 18) NOT NULL,
		buyer_fee NUMERIC(38, 18) NOT NULL DEFAULT 0,
		seller_fee NUMERIC(38, 18) NOT NULL DEFAULT 0,
		trade_time TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol_time ON trades (symbol, trade_time DESC)`,
	`CREATE TABLE IF NOT EXISTS deposits (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		asset TEXT NOT NULL,
		amount NUMERIC(38, 18) NOT NULL,
		tx_hash TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		confirmations INT NOT NULL DEFAULT 0,
		required_confirmations INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		credited_at TIMESTAMPTZ,
		UNIQUE (asset, tx_hash)
	)`,
	`CREATE TABLE IF NOT EXISTS withdrawals (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		asset TEXT NOT NULL,
		amount NUMERIC(38, 18) NOT NULL,
		fee_amount NUMERIC(38, 18) NOT NULL DEFAULT 0,
		to_address TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		tx_hash TEXT,
		error_message TEXT,
		skip_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS reconciliation_reports (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		asset TEXT NOT NULL,
		wallet_balance NUMERIC(38, 18) NOT NULL,
		ledger_sum NUMERIC(38, 18) NOT NULL,
		discrepancy NUMERIC(38, 18) NOT NULL,
		report_date TIMESTAMPTZ NOT NULL DEFAULT now(),
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		resolution_notes TEXT,
		resolved_by TEXT,
		resolved_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS custodial_addresses (
		user_id UUID PRIMARY KEY,
		address TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS engine_settings (
		id INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		maker_fee_pct NUMERIC(10, 6) NOT NULL DEFAULT 0.001,
		taker_fee_pct NUMERIC(10, 6) NOT NULL DEFAULT 0.001,
		matching_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		matching_interval_seconds INT NOT NULL DEFAULT 5,
		matching_max_per_cycle INT NOT NULL DEFAULT 200,
		auto_withdrawal_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		auto_withdrawal_threshold NUMERIC(38, 18) NOT NULL DEFAULT 1000,
		auto_withdrawal_batch_size INT NOT NULL DEFAULT 20,
		withdrawal_fee_pct NUMERIC(10, 6) NOT NULL DEFAULT 0,
		reconciliation_epsilon NUMERIC(38, 18) NOT NULL DEFAULT 0.0001,
		orders_per_minute INT NOT NULL DEFAULT 60,
		market_buy_slippage_bps INT NOT NULL DEFAULT 100,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`INSERT INTO engine_settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
}

func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
