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

const withdrawalColumns = `id, user_id, asset, amount::text, fee_amount::text, to_address, status,
	tx_hash, error_message, skip_reason, created_at, updated_at, completed_at`

// CreateWithdrawal locks amount+fee out of the user's available balance and
// records the request as pending, atomically.
func (s *Store) CreateWithdrawal(ctx context.Context, w *Withdrawal) error {
	total := w.Amount.Add(w.FeeAmount)
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.applyTx(ctx, tx, ApplyInput{
			UserID:         w.UserID,
			Asset:          w.Asset,
			DeltaAvailable: total.Neg(),
			DeltaLocked:    total,
			EntryType:      EntryWithdrawalLock,
			ReferenceType:  ReferenceWithdrawal,
			ReferenceID:    w.ID,
		}); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO withdrawals (id, user_id, asset, amount, fee_amount, to_address, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		`, w.ID, w.UserID, w.Asset, w.Amount.String(), w.FeeAmount.String(), w.ToAddress, w.Status, w.CreatedAt)
		return err
	})
}

// ClaimWithdrawal transitions pending -> processing. A false return means
// another worker already claimed it (or it is no longer pending).
func (s *Store) ClaimWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE withdrawals SET status = $1, skip_reason = NULL, updated_at = now()
		WHERE id = $2 AND status = $3
	`, WithdrawalStatusProcessing, withdrawalID, WithdrawalStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RevertWithdrawalToPending returns a claimed withdrawal to the queue,
// recording why it was skipped. Funds stay locked.
func (s *Store) RevertWithdrawalToPending(ctx context.Context, withdrawalID uuid.UUID, skipReason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE withdrawals SET status = $1, skip_reason = $2, updated_at = now()
		WHERE id = $3 AND status = $4
	`, WithdrawalStatusPending, skipReason, withdrawalID, WithdrawalStatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: withdrawal %s is not processing", ErrInvalidState, withdrawalID)
	}
	return nil
}

// SetWithdrawalTxHash records the broadcast hash as soon as the transaction
// is submitted, before confirmation, so a crash cannot lose track of an
// in-flight on-chain transfer.
func (s *Store) SetWithdrawalTxHash(ctx context.Context, withdrawalID uuid.UUID, txHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE withdrawals SET tx_hash = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, txHash, withdrawalID, WithdrawalStatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: withdrawal %s is not processing", ErrInvalidState, withdrawalID)
	}
	return nil
}

// CompleteWithdrawal burns the locked funds after on-chain confirmation.
func (s *Store) CompleteWithdrawal(ctx context.Context, withdrawalID uuid.UUID) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		w, err := s.getWithdrawalForUpdate(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		if w.Status == WithdrawalStatusCompleted {
			return nil
		}
		if w.Status != WithdrawalStatusProcessing {
			return fmt.Errorf("%w: withdrawal %s is %s", ErrInvalidState, withdrawalID, w.Status)
		}

		total := w.Amount.Add(w.FeeAmount)
		if _, err := s.applyTx(ctx, tx, ApplyInput{
			UserID:         w.UserID,
			Asset:          w.Asset,
			DeltaAvailable: decimal.Zero,
			DeltaLocked:    total.Neg(),
			EntryType:      EntryWithdrawalDebit,
			ReferenceType:  ReferenceWithdrawal,
			ReferenceID:    w.ID,
		}); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE withdrawals SET status = $1, updated_at = now(), completed_at = now()
			WHERE id = $2
		`, WithdrawalStatusCompleted, withdrawalID)
		return err
	})
}

// FailWithdrawal refunds the locked funds and records the failure. The
// refund entry and the status change commit together, and the once-only
// index guarantees a withdrawal is never refunded twice.
func (s *Store) FailWithdrawal(ctx context.Context, withdrawalID uuid.UUID, reason string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		w, err := s.getWithdrawalForUpdate(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		if w.Status == WithdrawalStatusFailed {
			return nil
		}
		if w.Status != WithdrawalStatusPending && w.Status != WithdrawalStatusProcessing {
			return fmt.Errorf("%w: withdrawal %s is %s", ErrInvalidState, withdrawalID, w.Status)
		}

		total := w.Amount.Add(w.FeeAmount)
		if _, err := s.applyTx(ctx, tx, ApplyInput{
			UserID:         w.UserID,
			Asset:          w.Asset,
			DeltaAvailable: total,
			DeltaLocked:    total.Neg(),
			EntryType:      EntryWithdrawalRefund,
			ReferenceType:  ReferenceWithdrawal,
			ReferenceID:    w.ID,
		}); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE withdrawals SET status = $1, error_message = $2, updated_at = now()
			WHERE id = $3
		`, WithdrawalStatusFailed, reason, withdrawalID)
		return err
	})
}

func (s *Store) GetWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (*Withdrawal, error) {
	w, err := scanWithdrawal(s.pool.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, withdrawalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: withdrawal %s", ErrNotFound, withdrawalID)
		}
		return nil, err
	}
	return w, nil
}

// ListPendingWithdrawals returns the automation queue, oldest first.
// maxAmount filters out requests above the auto-processing threshold.
func (s *Store) ListPendingWithdrawals(ctx context.Context, maxAmount decimal.Decimal, limit int) ([]Withdrawal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE status = $1 AND amount <= $2
		ORDER BY created_at ASC
		LIMIT $3
	`, WithdrawalStatusPending, maxAmount.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWithdrawals(rows)
}

// ListStuckWithdrawals finds processing rows that have not moved since
// before the cutoff, candidates for the reconciliation sweep.
func (s *Store) ListStuckWithdrawals(ctx context.Context, cutoff time.Time) ([]Withdrawal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
	`, WithdrawalStatusProcessing, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWithdrawals(rows)
}

func (s *Store) ListWithdrawals(ctx context.Context, userID uuid.UUID, limit int) ([]Withdrawal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWithdrawals(rows)
}

func (s *Store) getWithdrawalForUpdate(ctx context.Context, tx pgx.Tx, withdrawalID uuid.UUID) (*Withdrawal, error) {
	w, err := scanWithdrawal(tx.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, withdrawalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: withdrawal %s", ErrNotFound, withdrawalID)
		}
		return nil, err
	}
	return w, nil
}

func scanWithdrawal(row pgx.Row) (*Withdrawal, error) {
	var w Withdrawal
	var amount, fee string
	if err := row.Scan(&w.ID, &w.UserID, &w.Asset, &amount, &fee, &w.ToAddress, &w.Status,
		&w.TxHash, &w.ErrorMessage, &w.SkipReason, &w.CreatedAt, &w.UpdatedAt, &w.CompletedAt); err != nil {
		return nil, err
	}
	var err error
	if w.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse withdrawal amount: %w", err)
	}
	if w.FeeAmount, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse withdrawal fee: %w", err)
	}
	return &w, nil
}

func scanWithdrawals(rows pgx.Rows) ([]Withdrawal, error) {
	var withdrawals []Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, *w)
	}
	return withdrawals, rows.Err()
}
