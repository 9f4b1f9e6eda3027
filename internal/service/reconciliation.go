package service

import (
	"context"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/rosspathan/ipg-app-sub010/internal/chain"
	"github.com/rosspathan/ipg-app-sub010/internal/events"
	"github.com/rosspathan/ipg-app-sub010/internal/storage"
	"github.com/rosspathan/ipg-app-sub010/libs/kafka"
)

type reconStore interface {
	ListActiveAssets(ctx context.Context) ([]storage.Asset, error)
	ListCustodialAddresses(ctx context.Context) ([]storage.CustodialAddress, error)
	GetBalance(ctx context.Context, userID uuid.UUID, asset string) (*storage.Balance, error)
	VerifyLedger(ctx context.Context, userID uuid.UUID, asset string) error
	CreateReconciliationReport(ctx context.Context, r *storage.ReconciliationReport) error
	ListUnresolvedReports(ctx context.Context, limit int) ([]storage.ReconciliationReport, error)
	ResolveReport(ctx context.Context, reportID uuid.UUID, notes, resolvedBy string) (*storage.ReconciliationReport, error)
}

type ReconciliationService struct {
	store    reconStore
	chain    chain.Client
	settings *SettingsLoader
	emitter  *events.Emitter
	logger   *slog.Logger
	metrics  *Metrics
}

func NewReconciliationService(store reconStore, chainClient chain.Client, settings *SettingsLoader, emitter *events.Emitter, logger *slog.Logger, metrics *Metrics) *ReconciliationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconciliationService{
		store:    store,
		chain:    chainClient,
		settings: settings,
		emitter:  emitter,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run compares every custodial address against the ledger for every active
// asset and files a report for each discrepancy beyond the configured
// epsilon. The ledger itself is also replayed per pair; a divergence there
// means corruption rather than drift and is logged and counted separately.
func (s *ReconciliationService) Run(ctx context.Context) (int, error) {
	epsilon := s.settings.Current().ReconciliationEpsilon

	assets, err := s.store.ListActiveAssets(ctx)
	if err != nil {
		return 0, err
	}
	addresses, err := s.store.ListCustodialAddresses(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, addr := range addresses {
		for _, asset := range assets {
			if err := s.store.VerifyLedger(ctx, addr.UserID, asset.Symbol); err != nil {
				if s.metrics != nil {
					s.metrics.LedgerDivergence.Inc()
				}
				s.logger.Error("ledger replay divergence", "user_id", addr.UserID, "asset", asset.Symbol, "error", err)
			}

			walletBalance, err := s.chain.AddressBalance(ctx, addr.Address, asset.Symbol)
			if err != nil {
				s.logger.Error("wallet balance check failed", "address", addr.Address, "asset", asset.Symbol, "error", err)
				continue
			}
			ledger, err := s.store.GetBalance(ctx, addr.UserID, asset.Symbol)
			if err != nil {
				s.logger.Error("ledger balance lookup failed", "user_id", addr.UserID, "asset", asset.Symbol, "error", err)
				continue
			}

			discrepancy := walletBalance.Sub(ledger.TotalBalance())
			if discrepancy.Abs().LessThanOrEqual(epsilon) {
				continue
			}

			report := &storage.ReconciliationReport{
				ID:            uuid.New(),
				UserID:        addr.UserID,
				Asset:         asset.Symbol,
				WalletBalance: walletBalance,
				LedgerSum:     ledger.TotalBalance(),
				Discrepancy:   discrepancy,
				ReportDate:    time.Now().UTC(),
			}
			if err := s.store.CreateReconciliationReport(ctx, report); err != nil {
				s.logger.Error("create reconciliation report", "user_id", addr.UserID, "asset", asset.Symbol, "error", err)
				continue
			}
			created++
			if s.metrics != nil {
				s.metrics.ReconReportsCreated.Inc()
			}
			s.logger.Warn("reconciliation discrepancy",
				"report_id", report.ID, "user_id", addr.UserID, "asset", asset.Symbol,
				"wallet", walletBalance, "ledger", ledger.TotalBalance(), "discrepancy", discrepancy)

			s.emitter.Emit(ctx, events.TopicRecon, events.TypeReconDiscrepancy, report.ID.String(), addr.UserID.String(), func(env kafka.Envelope) any {
				return events.ReconEvent{
					Envelope:    env,
					ReportID:    report.ID.String(),
					UserID:      addr.UserID.String(),
					Asset:       asset.Symbol,
					Discrepancy: discrepancy,
				}
			})
		}
	}
	return created, nil
}

func (s *ReconciliationService) ListUnresolved(ctx context.Context, limit int) ([]storage.ReconciliationReport, error) {
	return s.store.ListUnresolvedReports(ctx, limit)
}

// Resolve closes a report with an audit trail. Notes are mandatory.
func (s *ReconciliationService) Resolve(ctx context.Context, reportID uuid.UUID, notes, resolvedBy string) (*storage.ReconciliationReport, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, ErrEmptyNotes
	}
	return s.store.ResolveReport(ctx, reportID, strings.TrimSpace(notes), strings.TrimSpace(resolvedBy))
}
