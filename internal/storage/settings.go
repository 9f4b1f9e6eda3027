package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// EngineSettings is the operator-tunable singleton row. Services hold an
// immutable snapshot refreshed on an interval rather than reading the row
// per operation.
type EngineSettings struct {
	MakerFeePct             decimal.Decimal
	TakerFeePct             decimal.Decimal
	MatchingEnabled         bool
	MatchingInterval        time.Duration
	MatchingMaxPerCycle     int
	AutoWithdrawalEnabled   bool
	AutoWithdrawalThreshold decimal.Decimal
	AutoWithdrawalBatchSize int
	WithdrawalFeePct        decimal.Decimal
	ReconciliationEpsilon   decimal.Decimal
	OrdersPerMinute         int
	MarketBuySlippageBps    int
	UpdatedAt               time.Time
}

func (s *Store) LoadEngineSettings(ctx context.Context) (*EngineSettings, error) {
	var es EngineSettings
	var makerFee, takerFee, threshold, withdrawalFee, epsilon string
	var intervalSeconds int
	row := s.pool.QueryRow(ctx, `
		SELECT maker_fee_pct::text, taker_fee_pct::text, matching_enabled, matching_interval_seconds,
			matching_max_per_cycle, auto_withdrawal_enabled, auto_withdrawal_threshold::text,
			auto_withdrawal_batch_size, withdrawal_fee_pct::text, reconciliation_epsilon::text,
			orders_per_minute, market_buy_slippage_bps, updated_at
		FROM engine_settings WHERE id = 1
	`)
	if err := row.Scan(&makerFee, &takerFee, &es.MatchingEnabled, &intervalSeconds,
		&es.MatchingMaxPerCycle, &es.AutoWithdrawalEnabled, &threshold,
		&es.AutoWithdrawalBatchSize, &withdrawalFee, &epsilon,
		&es.OrdersPerMinute, &es.MarketBuySlippageBps, &es.UpdatedAt); err != nil {
		return nil, fmt.Errorf("load engine settings: %w", err)
	}

	var err error
	if es.MakerFeePct, err = decimal.NewFromString(makerFee); err != nil {
		return nil, fmt.Errorf("parse maker fee: %w", err)
	}
	if es.TakerFeePct, err = decimal.NewFromString(takerFee); err != nil {
		return nil, fmt.Errorf("parse taker fee: %w", err)
	}
	if es.AutoWithdrawalThreshold, err = decimal.NewFromString(threshold); err != nil {
		return nil, fmt.Errorf("parse withdrawal threshold: %w", err)
	}
	if es.WithdrawalFeePct, err = decimal.NewFromString(withdrawalFee); err != nil {
		return nil, fmt.Errorf("parse withdrawal fee: %w", err)
	}
	if es.ReconciliationEpsilon, err = decimal.NewFromString(epsilon); err != nil {
		return nil, fmt.Errorf("parse reconciliation epsilon: %w", err)
	}
	es.MatchingInterval = time.Duration(intervalSeconds) * time.Second
	return &es, nil
}

func (s *Store) ListActiveAssets(ctx context.Context) ([]Asset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, name, decimals, contract_address, active, auto_deposit_enabled, required_confirmations
		FROM assets WHERE active = TRUE ORDER BY symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.Symbol, &a.Name, &a.Decimals, &a.ContractAddress,
			&a.Active, &a.AutoDepositEnabled, &a.RequiredConfirmations); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (s *Store) GetAsset(ctx context.Context, symbol string) (*Asset, error) {
	var a Asset
	row := s.pool.QueryRow(ctx, `
		SELECT symbol, name, decimals, contract_address, active, auto_deposit_enabled, required_confirmations
		FROM assets WHERE symbol = $1
	`, symbol)
	if err := row.Scan(&a.Symbol, &a.Name, &a.Decimals, &a.ContractAddress,
		&a.Active, &a.AutoDepositEnabled, &a.RequiredConfirmations); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: asset %s", ErrNotFound, symbol)
		}
		return nil, err
	}
	return &a, nil
}

func (s *Store) UpsertCustodialAddress(ctx context.Context, userID uuid.UUID, address string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO custodial_addresses (user_id, address) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET address = EXCLUDED.address
	`, userID, address)
	return err
}

func (s *Store) ListCustodialAddresses(ctx context.Context) ([]CustodialAddress, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, address, created_at FROM custodial_addresses ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addrs []CustodialAddress
	for rows.Next() {
		var a CustodialAddress
		if err := rows.Scan(&a.UserID, &a.Address, &a.CreatedAt); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

func (s *Store) UserForAddress(ctx context.Context, address string) (uuid.UUID, error) {
	var userID uuid.UUID
	row := s.pool.QueryRow(ctx, `SELECT user_id FROM custodial_addresses WHERE address = $1`, address)
	if err := row.Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("%w: address %s", ErrNotFound, address)
		}
		return uuid.Nil, err
	}
	return userID, nil
}
