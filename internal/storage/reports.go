package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const reportColumns = `id, user_id, asset, wallet_balance::text, ledger_sum::text, discrepancy::text,
	report_date, resolved, resolution_notes, resolved_by, resolved_at`

func (s *Store) CreateReconciliationReport(ctx context.Context, r *ReconciliationReport) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reconciliation_reports (id, user_id, asset, wallet_balance, ledger_sum, discrepancy, report_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.UserID, r.Asset, r.WalletBalance.String(), r.LedgerSum.String(), r.Discrepancy.String(), r.ReportDate)
	return err
}

func (s *Store) GetReconciliationReport(ctx context.Context, reportID uuid.UUID) (*ReconciliationReport, error) {
	r, err := scanReport(s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reconciliation_reports WHERE id = $1`, reportID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: report %s", ErrNotFound, reportID)
		}
		return nil, err
	}
	return r, nil
}

func (s *Store) ListUnresolvedReports(ctx context.Context, limit int) ([]ReconciliationReport, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+reportColumns+`
		FROM reconciliation_reports
		WHERE resolved = FALSE
		ORDER BY report_date DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []ReconciliationReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

// ResolveReport marks a discrepancy investigated. Resolving twice is an
// error so audit notes are never silently overwritten.
func (s *Store) ResolveReport(ctx context.Context, reportID uuid.UUID, notes, resolvedBy string) (*ReconciliationReport, error) {
	r, err := scanReport(s.pool.QueryRow(ctx, `
		UPDATE reconciliation_reports
		SET resolved = TRUE, resolution_notes = $1, resolved_by = $2, resolved_at = now()
		WHERE id = $3 AND resolved = FALSE
		RETURNING `+reportColumns,
		notes, resolvedBy, reportID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, getErr := s.GetReconciliationReport(ctx, reportID)
			if getErr != nil {
				return nil, getErr
			}
			if existing.Resolved {
				return nil, fmt.Errorf("%w: report %s already resolved", ErrInvalidState, reportID)
			}
			return nil, fmt.Errorf("%w: report %s", ErrNotFound, reportID)
		}
		return nil, err
	}
	return r, nil
}

func scanReport(row pgx.Row) (*ReconciliationReport, error) {
	var r ReconciliationReport
	var wallet, ledger, discrepancy string
	if err := row.Scan(&r.ID, &r.UserID, &r.Asset, &wallet, &ledger, &discrepancy,
		&r.ReportDate, &r.Resolved, &r.ResolutionNotes, &r.ResolvedBy, &r.ResolvedAt); err != nil {
		return nil, err
	}
	var err error
	if r.WalletBalance, err = decimal.NewFromString(wallet); err != nil {
		return nil, fmt.Errorf("parse report wallet balance: %w", err)
	}
	if r.LedgerSum, err = decimal.NewFromString(ledger); err != nil {
		return nil, fmt.Errorf("parse report ledger sum: %w", err)
	}
	if r.Discrepancy, err = decimal.NewFromString(discrepancy); err != nil {
		return nil, fmt.Errorf("parse report discrepancy: %w", err)
	}
	return &r, nil
}
