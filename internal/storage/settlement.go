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

// SettlementInput carries one matched fill. Buy and Sell are the matcher's
// snapshots of the two orders; their versions guard against the book having
// moved underneath the matcher.
type SettlementInput struct {
	Trade        *Trade
	Buy          *Order
	Sell         *Order
	FeeAccountID uuid.UUID
}

// SettleTrade applies one fill atomically: the trade record, all balance
// movements for both parties plus the fee account, and both order updates
// commit together or not at all. Orders are re-locked in id order so two
// concurrent settlements touching the same orders cannot deadlock, and the
// version check surfaces ErrStaleVersion when a snapshot is out of date.
func (s *Store) SettleTrade(ctx context.Context, in SettlementInput) error {
	base, quote, err := SplitSymbol(in.Trade.Symbol)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		first, second := in.Buy.ID, in.Sell.ID
		if second.String() < first.String() {
			first, second = second, first
		}
		for _, id := range []uuid.UUID{first, second} {
			var version int64
			row := tx.QueryRow(ctx, `SELECT version FROM orders WHERE id = $1 FOR UPDATE`, id)
			if err := row.Scan(&version); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("%w: order %s", ErrNotFound, id)
				}
				return err
			}
			expected := in.Buy.Version
			if id == in.Sell.ID {
				expected = in.Sell.Version
			}
			if version != expected {
				return fmt.Errorf("%w: order %s moved from version %d to %d", ErrStaleVersion, id, expected, version)
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO trades (id, symbol, buy_order_id, sell_order_id, maker_side, price, quantity,
				total_value, buyer_fee, seller_fee, trade_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, in.Trade.ID, in.Trade.Symbol, in.Trade.BuyOrderID, in.Trade.SellOrderID, in.Trade.MakerSide,
			in.Trade.Price.String(), in.Trade.Quantity.String(), in.Trade.TotalValue.String(),
			in.Trade.BuyerFee.String(), in.Trade.SellerFee.String(), in.Trade.TradeTime); err != nil {
			return err
		}

		for _, entry := range buildSettlementEntries(in, base, quote) {
			if _, err := s.applyTx(ctx, tx, entry); err != nil {
				return err
			}
		}

		qty := in.Trade.Quantity
		buyerRelease := qty.Mul(in.Buy.LockPrice)
		if err := updateOrderFill(ctx, tx, in.Buy, qty, in.Trade.Price, in.Trade.BuyerFee, buyerRelease); err != nil {
			return err
		}
		return updateOrderFill(ctx, tx, in.Sell, qty, in.Trade.Price, in.Trade.SellerFee, qty)
	})
}

// buildSettlementEntries lists every balance movement a fill causes.
// Quantity q at execution price p with buyer lock price lp:
//
//	buyer quote:  locked -q*lp, available +q*(lp-p)  (price improvement back)
//	buyer base:   available +q
//	seller base:  locked -q
//	seller quote: available +q*p
//
// plus fee debits from both parties' quote available and the matching
// credit to the fee account. Fees are always charged in the quote asset.
func buildSettlementEntries(in SettlementInput, base, quote string) []ApplyInput {
	qty := in.Trade.Quantity
	notional := in.Trade.TotalValue
	buyerRelease := qty.Mul(in.Buy.LockPrice)
	surplus := buyerRelease.Sub(notional)

	entries := []ApplyInput{
		{
			UserID:         in.Buy.UserID,
			Asset:          quote,
			DeltaAvailable: surplus,
			DeltaLocked:    buyerRelease.Neg(),
			EntryType:      EntryTradeFill,
			ReferenceType:  ReferenceTrade,
			ReferenceID:    in.Trade.ID,
		},
		{
			UserID:         in.Buy.UserID,
			Asset:          base,
			DeltaAvailable: qty,
			DeltaLocked:    decimal.Zero,
			EntryType:      EntryTradeFill,
			ReferenceType:  ReferenceTrade,
			ReferenceID:    in.Trade.ID,
		},
		{
			UserID:         in.Sell.UserID,
			Asset:          base,
			DeltaAvailable: decimal.Zero,
			DeltaLocked:    qty.Neg(),
			EntryType:      EntryTradeFill,
			ReferenceType:  ReferenceTrade,
			ReferenceID:    in.Trade.ID,
		},
		{
			UserID:         in.Sell.UserID,
			Asset:          quote,
			DeltaAvailable: notional,
			DeltaLocked:    decimal.Zero,
			EntryType:      EntryTradeFill,
			ReferenceType:  ReferenceTrade,
			ReferenceID:    in.Trade.ID,
		},
	}

	if in.Trade.BuyerFee.IsPositive() {
		entries = append(entries, ApplyInput{
			UserID:         in.Buy.UserID,
			Asset:          quote,
			DeltaAvailable: in.Trade.BuyerFee.Neg(),
			DeltaLocked:    decimal.Zero,
			EntryType:      EntryFee,
			ReferenceType:  ReferenceTrade,
			ReferenceID:    in.Trade.ID,
		})
	}
	if in.Trade.SellerFee.IsPositive() {
		entries = append(entries, ApplyInput{
			UserID:         in.Sell.UserID,
			Asset:          quote,
			DeltaAvailable: in.Trade.SellerFee.Neg(),
			DeltaLocked:    decimal.Zero,
			EntryType:      EntryFee,
			ReferenceType:  ReferenceTrade,
			ReferenceID:    in.Trade.ID,
		})
	}
	totalFees := in.Trade.BuyerFee.Add(in.Trade.SellerFee)
	if totalFees.IsPositive() && in.FeeAccountID != uuid.Nil {
		entries = append(entries, ApplyInput{
			UserID:         in.FeeAccountID,
			Asset:          quote,
			DeltaAvailable: totalFees,
			DeltaLocked:    decimal.Zero,
			EntryType:      EntryFee,
			ReferenceType:  ReferenceTrade,
			ReferenceID:    in.Trade.ID,
		})
	}
	return entries
}

// computeFill derives the order's post-fill accounting. Remaining is
// recomputed from amount and filled, never decremented from the snapshot's
// RemainingAmount: the matching engine already consumed the fill quantity
// on the snapshots it hands over, and only settlement advances FilledAmount.
func computeFill(order *Order, qty, price decimal.Decimal) (filled, remaining, avg decimal.Decimal, err error) {
	filled = order.FilledAmount.Add(qty)
	remaining = order.Amount.Sub(filled)
	if remaining.IsNegative() {
		return filled, remaining, avg, fmt.Errorf("%w: order %s overfill by %s", ErrInvalidState, order.ID, remaining.Neg())
	}
	// Volume-weighted average across all fills.
	avg = order.AveragePrice.Mul(order.FilledAmount).Add(price.Mul(qty)).Div(filled)
	return filled, remaining, avg, nil
}

func updateOrderFill(ctx context.Context, tx pgx.Tx, order *Order, qty, price, fee, lockedRelease decimal.Decimal) error {
	newFilled, newRemaining, newAvg, err := computeFill(order, qty, price)
	if err != nil {
		return err
	}

	newLocked := order.LockedAmount.Sub(lockedRelease)
	if newLocked.IsNegative() {
		newLocked = decimal.Zero
	}

	status := OrderStatusPartiallyFilled
	var filledAt *time.Time
	if newRemaining.IsZero() {
		status = OrderStatusFilled
		now := time.Now().UTC()
		filledAt = &now
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET filled_amount = $1, remaining_amount = $2, average_price = $3, fees_paid = fees_paid + $4,
			locked_amount = $5, status = $6, version = version + 1, filled_at = COALESCE($7, filled_at)
		WHERE id = $8 AND version = $9
	`, newFilled.String(), newRemaining.String(), newAvg.String(), fee.String(),
		newLocked.String(), status, filledAt, order.ID, order.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %s", ErrStaleVersion, order.ID)
	}

	order.FilledAmount = newFilled
	order.RemainingAmount = newRemaining
	order.AveragePrice = newAvg
	order.FeesPaid = order.FeesPaid.Add(fee)
	order.LockedAmount = newLocked
	order.Status = status
	order.Version++
	if filledAt != nil {
		order.FilledAt = filledAt
	}
	return nil
}
