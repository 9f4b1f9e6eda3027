package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/rosspathan/ipg-app-sub010/internal/chain"
	"github.com/rosspathan/ipg-app-sub010/internal/events"
	"github.com/rosspathan/ipg-app-sub010/internal/storage"
	"github.com/rosspathan/ipg-app-sub010/libs/kafka"
)

type depositStore interface {
	ListActiveAssets(ctx context.Context) ([]storage.Asset, error)
	ListCustodialAddresses(ctx context.Context) ([]storage.CustodialAddress, error)
	RecordDiscoveredDeposit(ctx context.Context, dep *storage.Deposit) (*storage.Deposit, bool, error)
	ListPendingDeposits(ctx context.Context) ([]storage.Deposit, error)
	UpdateDepositConfirmations(ctx context.Context, depositID uuid.UUID, confirmations int32) error
	CreditDeposit(ctx context.Context, depositID uuid.UUID, confirmations int32) (*storage.Deposit, error)
}

type DepositService struct {
	store          depositStore
	chain          chain.Client
	emitter        *events.Emitter
	logger         *slog.Logger
	metrics        *Metrics
	lookbackBlocks int64
}

func NewDepositService(store depositStore, chainClient chain.Client, emitter *events.Emitter, logger *slog.Logger, metrics *Metrics, lookbackBlocks int64) *DepositService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DepositService{
		store:          store,
		chain:          chainClient,
		emitter:        emitter,
		logger:         logger,
		metrics:        metrics,
		lookbackBlocks: lookbackBlocks,
	}
}

// DiscoverInput narrows one discovery pass. The zero value scans every
// custodial address for every auto-deposit asset over the configured window.
type DiscoverInput struct {
	UserID         uuid.UUID // restrict to one user's addresses; Nil scans all
	Asset          string    // restrict to one asset; empty or "*" scans all
	LookbackBlocks int64     // overrides the configured window when positive
}

// DiscoverResult tallies one discovery pass. Discovered counts every
// transfer the scan saw, Created the deposits recorded for the first time,
// Ignored the transfers already on file from an earlier pass.
type DiscoverResult struct {
	Discovered int `json:"discovered"`
	Created    int `json:"created"`
	Ignored    int `json:"ignored"`
}

// Discover scans custodial addresses for incoming transfers of auto-deposit
// assets. Scan windows overlap on purpose; re-seeing a transfer is absorbed
// by the (asset, tx hash) uniqueness and reported as ignored, so a missed or
// partial scan heals on the next pass.
func (s *DepositService) Discover(ctx context.Context, in DiscoverInput) (DiscoverResult, error) {
	var result DiscoverResult

	assetFilter := strings.ToUpper(strings.TrimSpace(in.Asset))
	if assetFilter == "*" {
		assetFilter = ""
	}
	lookback := s.lookbackBlocks
	if in.LookbackBlocks > 0 {
		lookback = in.LookbackBlocks
	}

	assets, err := s.store.ListActiveAssets(ctx)
	if err != nil {
		return result, err
	}
	addresses, err := s.store.ListCustodialAddresses(ctx)
	if err != nil {
		return result, err
	}

	for _, asset := range assets {
		if !asset.AutoDepositEnabled {
			continue
		}
		if assetFilter != "" && asset.Symbol != assetFilter {
			continue
		}
		for _, addr := range addresses {
			if in.UserID != uuid.Nil && addr.UserID != in.UserID {
				continue
			}
			transfers, err := s.chain.IncomingTransfers(ctx, addr.Address, asset.Symbol, lookback)
			if err != nil {
				s.logger.Error("transfer scan failed", "address", addr.Address, "asset", asset.Symbol, "error", err)
				continue
			}
			for _, transfer := range transfers {
				if !transfer.Amount.IsPositive() {
					continue
				}
				result.Discovered++
				_, created, err := s.store.RecordDiscoveredDeposit(ctx, &storage.Deposit{
					ID:                    uuid.New(),
					UserID:                addr.UserID,
					Asset:                 asset.Symbol,
					Amount:                transfer.Amount,
					TxHash:                transfer.TxHash,
					Status:                storage.DepositStatusPending,
					RequiredConfirmations: asset.RequiredConfirmations,
					CreatedAt:             time.Now().UTC(),
				})
				if err != nil {
					s.logger.Error("record deposit failed", "tx_hash", transfer.TxHash, "error", err)
					continue
				}
				if created {
					result.Created++
					s.logger.Info("deposit discovered",
						"user_id", addr.UserID, "asset", asset.Symbol,
						"amount", transfer.Amount, "tx_hash", transfer.TxHash)
				} else {
					result.Ignored++
				}
			}
		}
	}
	return result, nil
}

// AdvanceConfirmations rechecks every pending deposit against the chain and
// credits those that have reached their required depth. Crediting is
// idempotent end to end: a deposit seen as ready twice produces one ledger
// entry.
func (s *DepositService) AdvanceConfirmations(ctx context.Context) (int, error) {
	pending, err := s.store.ListPendingDeposits(ctx)
	if err != nil {
		return 0, err
	}

	credited := 0
	for _, dep := range pending {
		confs, err := s.chain.Confirmations(ctx, dep.TxHash)
		if err != nil {
			if errors.Is(err, chain.ErrTxNotFound) {
				s.logger.Warn("pending deposit not found on chain", "deposit_id", dep.ID, "tx_hash", dep.TxHash)
			} else {
				s.logger.Error("confirmation check failed", "deposit_id", dep.ID, "error", err)
			}
			continue
		}

		// Persist the observed depth first: at the required depth this
		// promotes the row to confirmed, so a crash before crediting leaves
		// a row the next pass still picks up.
		if err := s.store.UpdateDepositConfirmations(ctx, dep.ID, int32(confs)); err != nil {
			s.logger.Error("update deposit confirmations", "deposit_id", dep.ID, "error", err)
			continue
		}
		if confs < int64(dep.RequiredConfirmations) {
			continue
		}

		creditedDep, err := s.store.CreditDeposit(ctx, dep.ID, int32(confs))
		if err != nil {
			if s.metrics != nil {
				s.metrics.DepositsCredited.WithLabelValues("error").Inc()
			}
			s.logger.Error("credit deposit failed", "deposit_id", dep.ID, "error", err)
			continue
		}
		credited++
		if s.metrics != nil {
			s.metrics.DepositsCredited.WithLabelValues("success").Inc()
		}
		s.emitter.Emit(ctx, events.TopicDeposits, events.TypeDepositCredited, creditedDep.ID.String(), creditedDep.UserID.String(), func(env kafka.Envelope) any {
			return events.DepositEvent{
				Envelope:  env,
				DepositID: creditedDep.ID.String(),
				UserID:    creditedDep.UserID.String(),
				Asset:     creditedDep.Asset,
				Amount:    creditedDep.Amount,
				TxHash:    creditedDep.TxHash,
			}
		})
	}
	return credited, nil
}
