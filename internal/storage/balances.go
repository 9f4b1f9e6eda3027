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

// onceOnlyEntryTypes may be journaled at most once per reference. Replays
// surface ErrDuplicateReference instead of mutating the balance again.
var onceOnlyEntryTypes = map[string]bool{
	EntryDepositCredit:    true,
	EntryWithdrawalLock:   true,
	EntryWithdrawalDebit:  true,
	EntryWithdrawalRefund: true,
}

type ApplyInput struct {
	UserID         uuid.UUID
	Asset          string
	DeltaAvailable decimal.Decimal
	DeltaLocked    decimal.Decimal
	EntryType      string
	ReferenceType  string
	ReferenceID    uuid.UUID
}

func (in ApplyInput) validate() error {
	if in.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if in.Asset == "" {
		return fmt.Errorf("asset is required")
	}
	if in.EntryType == "" {
		return fmt.Errorf("entry_type is required")
	}
	if in.ReferenceType == "" || in.ReferenceID == uuid.Nil {
		return fmt.Errorf("reference is required")
	}
	if in.DeltaAvailable.IsZero() && in.DeltaLocked.IsZero() {
		return fmt.Errorf("entry must move funds")
	}
	return nil
}

// Apply atomically mutates a single (user, asset) balance and appends the
// journal entry recording the mutation. The balance row is locked for the
// duration of the transaction, so concurrent applies to the same pair
// serialize while other pairs proceed independently.
func (s *Store) Apply(ctx context.Context, in ApplyInput) (*LedgerEntry, error) {
	var entry *LedgerEntry
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var applyErr error
		entry, applyErr = s.applyTx(ctx, tx, in)
		return applyErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// applyTx is the in-transaction form of Apply, used when an entry is one leg
// of a larger atomic unit (trade settlement, withdrawal state changes).
func (s *Store) applyTx(ctx context.Context, tx pgx.Tx, in ApplyInput) (*LedgerEntry, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	if onceOnlyEntryTypes[in.EntryType] {
		var exists bool
		row := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM ledger_entries
				WHERE entry_type = $1 AND reference_type = $2 AND reference_id = $3
			)
		`, in.EntryType, in.ReferenceType, in.ReferenceID)
		if err := row.Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %s %s/%s", ErrDuplicateReference, in.EntryType, in.ReferenceType, in.ReferenceID)
		}
	}

	bal, err := s.getOrCreateBalanceForUpdate(ctx, tx, in.UserID, in.Asset)
	if err != nil {
		return nil, err
	}

	newAvailable := bal.Available.Add(in.DeltaAvailable)
	newLocked := bal.Locked.Add(in.DeltaLocked)
	if newAvailable.IsNegative() {
		return nil, fmt.Errorf("%w: user %s asset %s needs %s available, has %s",
			ErrInsufficientBalance, in.UserID, in.Asset, in.DeltaAvailable.Neg(), bal.Available)
	}
	if newLocked.IsNegative() {
		return nil, fmt.Errorf("%w: user %s asset %s locked balance would go negative", ErrInvalidState, in.UserID, in.Asset)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE balances
		SET available = $1, locked = $2, version = version + 1, updated_at = $3
		WHERE user_id = $4 AND asset = $5
	`, newAvailable.String(), newLocked.String(), now, in.UserID, in.Asset); err != nil {
		return nil, err
	}

	entry := &LedgerEntry{
		ID:              uuid.New(),
		UserID:          in.UserID,
		Asset:           in.Asset,
		DeltaAvailable:  in.DeltaAvailable,
		DeltaLocked:     in.DeltaLocked,
		EntryType:       in.EntryType,
		ReferenceType:   in.ReferenceType,
		ReferenceID:     in.ReferenceID,
		AvailableBefore: bal.Available,
		AvailableAfter:  newAvailable,
		LockedBefore:    bal.Locked,
		LockedAfter:     newLocked,
		CreatedAt:       now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, user_id, asset, delta_available, delta_locked, entry_type,
			reference_type, reference_id, available_before, available_after, locked_before, locked_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, entry.ID, entry.UserID, entry.Asset, entry.DeltaAvailable.String(), entry.DeltaLocked.String(),
		entry.EntryType, entry.ReferenceType, entry.ReferenceID,
		entry.AvailableBefore.String(), entry.AvailableAfter.String(),
		entry.LockedBefore.String(), entry.LockedAfter.String(), entry.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s %s/%s", ErrDuplicateReference, in.EntryType, in.ReferenceType, in.ReferenceID)
		}
		return nil, err
	}

	return entry, nil
}

func (s *Store) getOrCreateBalanceForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, asset string) (*Balance, error) {
	bal, err := scanBalance(tx.QueryRow(ctx, `
		SELECT user_id, asset, available::text, locked::text, version, updated_at
		FROM balances
		WHERE user_id = $1 AND asset = $2
		FOR UPDATE
	`, userID, asset))
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO balances (user_id, asset) VALUES ($1, $2)
		ON CONFLICT (user_id, asset) DO NOTHING
	`, userID, asset); err != nil {
		return nil, err
	}
	return scanBalance(tx.QueryRow(ctx, `
		SELECT user_id, asset, available::text, locked::text, version, updated_at
		FROM balances
		WHERE user_id = $1 AND asset = $2
		FOR UPDATE
	`, userID, asset))
}

func (s *Store) GetBalance(ctx context.Context, userID uuid.UUID, asset string) (*Balance, error) {
	bal, err := scanBalance(s.pool.QueryRow(ctx, `
		SELECT user_id, asset, available::text, locked::text, version, updated_at
		FROM balances
		WHERE user_id = $1 AND asset = $2
	`, userID, asset))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &Balance{
				UserID:    userID,
				Asset:     asset,
				Available: decimal.Zero,
				Locked:    decimal.Zero,
			}, nil
		}
		return nil, err
	}
	return bal, nil
}

func (s *Store) ListBalances(ctx context.Context) ([]Balance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, asset, available::text, locked::text, version, updated_at
		FROM balances
		ORDER BY user_id, asset
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []Balance
	for rows.Next() {
		bal, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, *bal)
	}
	return balances, rows.Err()
}

func (s *Store) ListEntries(ctx context.Context, userID uuid.UUID, asset string, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, asset, delta_available::text, delta_locked::text, entry_type,
			reference_type, reference_id, available_before::text, available_after::text,
			locked_before::text, locked_after::text, created_at
		FROM ledger_entries
		WHERE user_id = $1 AND asset = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, asset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// VerifyLedger replays every entry for the pair and compares the summed
// deltas to the stored balance row. A mismatch means the append-only
// journal and the balance table have diverged.
func (s *Store) VerifyLedger(ctx context.Context, userID uuid.UUID, asset string) error {
	var availSum, lockedSum string
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(delta_available), 0)::text, COALESCE(SUM(delta_locked), 0)::text
		FROM ledger_entries
		WHERE user_id = $1 AND asset = $2
	`, userID, asset)
	if err := row.Scan(&availSum, &lockedSum); err != nil {
		return err
	}
	replayAvailable, err := decimal.NewFromString(availSum)
	if err != nil {
		return fmt.Errorf("parse replayed available: %w", err)
	}
	replayLocked, err := decimal.NewFromString(lockedSum)
	if err != nil {
		return fmt.Errorf("parse replayed locked: %w", err)
	}

	bal, err := s.GetBalance(ctx, userID, asset)
	if err != nil {
		return err
	}
	if !bal.Available.Equal(replayAvailable) || !bal.Locked.Equal(replayLocked) {
		return fmt.Errorf("ledger divergence for user %s asset %s: stored %s/%s, replayed %s/%s",
			userID, asset, bal.Available, bal.Locked, replayAvailable, replayLocked)
	}
	return nil
}

// AdminAdjust journals a manual correction. It is the only write path that
// is not tied to an order/trade/deposit/withdrawal lifecycle.
func (s *Store) AdminAdjust(ctx context.Context, userID uuid.UUID, asset string, deltaAvailable decimal.Decimal, adjustmentID uuid.UUID) (*LedgerEntry, error) {
	return s.Apply(ctx, ApplyInput{
		UserID:         userID,
		Asset:          asset,
		DeltaAvailable: deltaAvailable,
		DeltaLocked:    decimal.Zero,
		EntryType:      EntryAdminAdjustment,
		ReferenceType:  ReferenceAdjustment,
		ReferenceID:    adjustmentID,
	})
}

func scanBalance(row pgx.Row) (*Balance, error) {
	var bal Balance
	var availableStr, lockedStr string
	if err := row.Scan(&bal.UserID, &bal.Asset, &availableStr, &lockedStr, &bal.Version, &bal.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	bal.Available, err = decimal.NewFromString(availableStr)
	if err != nil {
		return nil, fmt.Errorf("parse available balance: %w", err)
	}
	bal.Locked, err = decimal.NewFromString(lockedStr)
	if err != nil {
		return nil, fmt.Errorf("parse locked balance: %w", err)
	}
	return &bal, nil
}

func scanEntries(rows pgx.Rows) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var dAvail, dLocked, availBefore, availAfter, lockedBefore, lockedAfter string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Asset, &dAvail, &dLocked, &e.EntryType,
			&e.ReferenceType, &e.ReferenceID, &availBefore, &availAfter, &lockedBefore, &lockedAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		var err error
		if e.DeltaAvailable, err = decimal.NewFromString(dAvail); err != nil {
			return nil, fmt.Errorf("parse entry delta: %w", err)
		}
		if e.DeltaLocked, err = decimal.NewFromString(dLocked); err != nil {
			return nil, fmt.Errorf("parse entry delta: %w", err)
		}
		if e.AvailableBefore, err = decimal.NewFromString(availBefore); err != nil {
			return nil, fmt.Errorf("parse entry balance: %w", err)
		}
		if e.AvailableAfter, err = decimal.NewFromString(availAfter); err != nil {
			return nil, fmt.Errorf("parse entry balance: %w", err)
		}
		if e.LockedBefore, err = decimal.NewFromString(lockedBefore); err != nil {
			return nil, fmt.Errorf("parse entry balance: %w", err)
		}
		if e.LockedAfter, err = decimal.NewFromString(lockedAfter); err != nil {
			return nil, fmt.Errorf("parse entry balance: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
