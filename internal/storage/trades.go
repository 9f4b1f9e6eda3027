package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const tradeColumns = `id, symbol, buy_order_id, sell_order_id, maker_side, price::text, quantity::text,
	total_value::text, buyer_fee::text, seller_fee::text, trade_time`

func (s *Store) ListTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE symbol = $1
		ORDER BY trade_time DESC
		LIMIT $2
	`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *Store) ListTradesForUser(ctx context.Context, userID uuid.UUID, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeColumns+`
		FROM trades t
		WHERE EXISTS (
			SELECT 1 FROM orders o
			WHERE o.id IN (t.buy_order_id, t.sell_order_id) AND o.user_id = $1
		)
		ORDER BY trade_time DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// LastTradePrice anchors market-order fund locking. ErrNotFound means the
// symbol has never traded.
func (s *Store) LastTradePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var priceStr string
	row := s.pool.QueryRow(ctx, `
		SELECT price::text FROM trades WHERE symbol = $1 ORDER BY trade_time DESC LIMIT 1
	`, symbol)
	if err := row.Scan(&priceStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: no trades for %s", ErrNotFound, symbol)
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(priceStr)
}

func scanTrades(rows pgx.Rows) ([]Trade, error) {
	var trades []Trade
	for rows.Next() {
		var t Trade
		var price, qty, total, buyerFee, sellerFee string
		if err := rows.Scan(&t.ID, &t.Symbol, &t.BuyOrderID, &t.SellOrderID, &t.MakerSide,
			&price, &qty, &total, &buyerFee, &sellerFee, &t.TradeTime); err != nil {
			return nil, err
		}
		var err error
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse trade price: %w", err)
		}
		if t.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("parse trade quantity: %w", err)
		}
		if t.TotalValue, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("parse trade total: %w", err)
		}
		if t.BuyerFee, err = decimal.NewFromString(buyerFee); err != nil {
			return nil, fmt.Errorf("parse trade fee: %w", err)
		}
		if t.SellerFee, err = decimal.NewFromString(sellerFee); err != nil {
			return nil, fmt.Errorf("parse trade fee: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
