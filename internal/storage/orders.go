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

const orderColumns = `id, user_id, symbol, side, type, amount::text, price::text, lock_price::text,
	filled_amount::text, remaining_amount::text, average_price::text, fees_paid::text,
	locked_amount::text, locked_asset, status, version, created_at, filled_at, cancelled_at`

// PlaceOrder persists the order and locks its funds in one transaction.
// A rejected lock (insufficient available balance) leaves no trace of the
// order at all.
func (s *Store) PlaceOrder(ctx context.Context, order *Order) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.applyTx(ctx, tx, ApplyInput{
			UserID:         order.UserID,
			Asset:          order.LockedAsset,
			DeltaAvailable: order.LockedAmount.Neg(),
			DeltaLocked:    order.LockedAmount,
			EntryType:      EntryOrderLock,
			ReferenceType:  ReferenceOrder,
			ReferenceID:    order.ID,
		}); err != nil {
			return err
		}

		var price any
		if order.Price != nil {
			price = order.Price.String()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (id, user_id, symbol, side, type, amount, price, lock_price,
				filled_amount, remaining_amount, average_price, fees_paid, locked_amount, locked_asset,
				status, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`, order.ID, order.UserID, order.Symbol, order.Side, order.Type,
			order.Amount.String(), price, order.LockPrice.String(),
			order.FilledAmount.String(), order.RemainingAmount.String(),
			order.AveragePrice.String(), order.FeesPaid.String(),
			order.LockedAmount.String(), order.LockedAsset,
			order.Status, order.Version, order.CreatedAt)
		return err
	})
}

// CancelOrder releases an order's remaining locked funds and marks it
// cancelled. Cancelling an already-cancelled order is a no-op; cancelling a
// filled order is an error. The order row is locked so a concurrent fill
// and cancel serialize.
func (s *Store) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*Order, error) {
	var result *Order
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		order, err := scanOrder(tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2 FOR UPDATE`,
			orderID, userID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
			}
			return err
		}

		switch order.Status {
		case OrderStatusCancelled:
			result = order
			return nil
		case OrderStatusFilled, OrderStatusRejected:
			return fmt.Errorf("%w: order %s is %s", ErrInvalidState, orderID, order.Status)
		}

		if order.LockedAmount.IsPositive() {
			if _, err := s.applyTx(ctx, tx, ApplyInput{
				UserID:         order.UserID,
				Asset:          order.LockedAsset,
				DeltaAvailable: order.LockedAmount,
				DeltaLocked:    order.LockedAmount.Neg(),
				EntryType:      EntryOrderUnlock,
				ReferenceType:  ReferenceOrder,
				ReferenceID:    order.ID,
			}); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE orders
			SET status = $1, locked_amount = 0, version = version + 1, cancelled_at = $2
			WHERE id = $3
		`, OrderStatusCancelled, now, orderID); err != nil {
			return err
		}

		order.Status = OrderStatusCancelled
		order.LockedAmount = decimal.Zero
		order.Version++
		order.CancelledAt = &now
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	order, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return nil, err
	}
	return order, nil
}

func (s *Store) ListOrders(ctx context.Context, userID uuid.UUID, status string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListOpenOrdersForSymbol returns the resting book for one symbol, oldest
// first. Ordering within the book is the matcher's concern.
func (s *Store) ListOpenOrdersForSymbol(ctx context.Context, symbol string) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE symbol = $1 AND status IN ($2, $3)
		ORDER BY created_at ASC, id ASC
	`, symbol, OrderStatusOpen, OrderStatusPartiallyFilled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *Store) ListOpenSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT symbol FROM orders WHERE status IN ($1, $2) ORDER BY symbol
	`, OrderStatusOpen, OrderStatusPartiallyFilled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var amount, lockPrice, filled, remaining, avgPrice, feesPaid, lockedAmount string
	var price *string
	if err := row.Scan(&o.ID, &o.UserID, &o.Symbol, &o.Side, &o.Type, &amount, &price, &lockPrice,
		&filled, &remaining, &avgPrice, &feesPaid, &lockedAmount, &o.LockedAsset,
		&o.Status, &o.Version, &o.CreatedAt, &o.FilledAt, &o.CancelledAt); err != nil {
		return nil, err
	}

	var err error
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse order amount: %w", err)
	}
	if price != nil {
		p, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, fmt.Errorf("parse order price: %w", err)
		}
		o.Price = &p
	}
	if o.LockPrice, err = decimal.NewFromString(lockPrice); err != nil {
		return nil, fmt.Errorf("parse order lock price: %w", err)
	}
	if o.FilledAmount, err = decimal.NewFromString(filled); err != nil {
		return nil, fmt.Errorf("parse order filled: %w", err)
	}
	if o.RemainingAmount, err = decimal.NewFromString(remaining); err != nil {
		return nil, fmt.Errorf("parse order remaining: %w", err)
	}
	if o.AveragePrice, err = decimal.NewFromString(avgPrice); err != nil {
		return nil, fmt.Errorf("parse order average price: %w", err)
	}
	if o.FeesPaid, err = decimal.NewFromString(feesPaid); err != nil {
		return nil, fmt.Errorf("parse order fees: %w", err)
	}
	if o.LockedAmount, err = decimal.NewFromString(lockedAmount); err != nil {
		return nil, fmt.Errorf("parse order locked amount: %w", err)
	}
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]Order, error) {
	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
