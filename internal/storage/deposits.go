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

const depositColumns = `id, user_id, asset, amount::text, tx_hash, status, confirmations,
	required_confirmations, created_at, credited_at`

// RecordDiscoveredDeposit registers an on-chain transfer the first time it
// is seen. Re-discovering the same (asset, tx_hash) returns the existing
// row, so the discovery scan can overlap previous windows safely.
func (s *Store) RecordDiscoveredDeposit(ctx context.Context, dep *Deposit) (*Deposit, bool, error) {
	created := true
	row := s.pool.QueryRow(ctx, `
		INSERT INTO deposits (id, user_id, asset, amount, tx_hash, status, confirmations, required_confirmations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (asset, tx_hash) DO NOTHING
		RETURNING `+depositColumns,
		dep.ID, dep.UserID, dep.Asset, dep.Amount.String(), dep.TxHash,
		dep.Status, dep.Confirmations, dep.RequiredConfirmations, dep.CreatedAt)

	existing, err := scanDeposit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		created = false
		existing, err = scanDeposit(s.pool.QueryRow(ctx,
			`SELECT `+depositColumns+` FROM deposits WHERE asset = $1 AND tx_hash = $2`,
			dep.Asset, dep.TxHash))
	}
	if err != nil {
		return nil, false, err
	}
	return existing, created, nil
}

// UpdateDepositConfirmations records the observed depth and promotes the
// deposit to confirmed once it reaches its required depth. Credited and
// failed rows never move.
func (s *Store) UpdateDepositConfirmations(ctx context.Context, depositID uuid.UUID, confirmations int32) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deposits
		SET confirmations = $1,
			status = CASE WHEN $1 >= required_confirmations THEN $2::text ELSE status END
		WHERE id = $3 AND status IN ($4, $2)
	`, confirmations, DepositStatusConfirmed, depositID, DepositStatusPending)
	return err
}

// CreditDeposit moves a confirmed deposit into the user's available balance.
// The status transition and the ledger entry commit together; the once-only
// index on deposit_credit entries makes a replayed credit fail cleanly even
// if the status row was tampered with.
func (s *Store) CreditDeposit(ctx context.Context, depositID uuid.UUID, confirmations int32) (*Deposit, error) {
	var result *Deposit
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		dep, err := scanDeposit(tx.QueryRow(ctx,
			`SELECT `+depositColumns+` FROM deposits WHERE id = $1 FOR UPDATE`, depositID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: deposit %s", ErrNotFound, depositID)
			}
			return err
		}
		if dep.Status == DepositStatusCredited {
			result = dep
			return nil
		}
		if dep.Status != DepositStatusPending && dep.Status != DepositStatusConfirmed {
			return fmt.Errorf("%w: deposit %s is %s", ErrInvalidState, depositID, dep.Status)
		}

		if _, err := s.applyTx(ctx, tx, ApplyInput{
			UserID:         dep.UserID,
			Asset:          dep.Asset,
			DeltaAvailable: dep.Amount,
			DeltaLocked:    decimal.Zero,
			EntryType:      EntryDepositCredit,
			ReferenceType:  ReferenceDeposit,
			ReferenceID:    dep.ID,
		}); err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE deposits SET status = $1, confirmations = $2, credited_at = $3 WHERE id = $4
		`, DepositStatusCredited, confirmations, now, depositID); err != nil {
			return err
		}

		dep.Status = DepositStatusCredited
		dep.Confirmations = confirmations
		dep.CreditedAt = &now
		result = dep
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListPendingDeposits returns deposits still waiting to be credited,
// including confirmed rows so a crash between confirming and crediting
// heals on the next pass.
func (s *Store) ListPendingDeposits(ctx context.Context) ([]Deposit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+depositColumns+` FROM deposits WHERE status IN ($1, $2) ORDER BY created_at ASC
	`, DepositStatusPending, DepositStatusConfirmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeposits(rows)
}

func (s *Store) ListDeposits(ctx context.Context, userID uuid.UUID, limit int) ([]Deposit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+depositColumns+` FROM deposits WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeposits(rows)
}

func scanDeposit(row pgx.Row) (*Deposit, error) {
	var d Deposit
	var amount string
	if err := row.Scan(&d.ID, &d.UserID, &d.Asset, &amount, &d.TxHash, &d.Status,
		&d.Confirmations, &d.RequiredConfirmations, &d.CreatedAt, &d.CreditedAt); err != nil {
		return nil, err
	}
	var err error
	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse deposit amount: %w", err)
	}
	return &d, nil
}

func scanDeposits(rows pgx.Rows) ([]Deposit, error) {
	var deposits []Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, *d)
	}
	return deposits, rows.Err()
}
