package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rosspathan/ipg-app-sub010/internal/chain"
	"github.com/rosspathan/ipg-app-sub010/internal/events"
	"github.com/rosspathan/ipg-app-sub010/internal/storage"
	"github.com/rosspathan/ipg-app-sub010/libs/kafka"
)

const skipInsufficientHotWallet = "insufficient hot wallet balance"

type withdrawalStore interface {
	CreateWithdrawal(ctx context.Context, w *storage.Withdrawal) error
	GetWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (*storage.Withdrawal, error)
	ListPendingWithdrawals(ctx context.Context, maxAmount decimal.Decimal, limit int) ([]storage.Withdrawal, error)
	ClaimWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (bool, error)
	RevertWithdrawalToPending(ctx context.Context, withdrawalID uuid.UUID, skipReason string) error
	SetWithdrawalTxHash(ctx context.Context, withdrawalID uuid.UUID, txHash string) error
	CompleteWithdrawal(ctx context.Context, withdrawalID uuid.UUID) error
	FailWithdrawal(ctx context.Context, withdrawalID uuid.UUID, reason string) error
	ListStuckWithdrawals(ctx context.Context, cutoff time.Time) ([]storage.Withdrawal, error)
}

type WithdrawalConfig struct {
	HotWalletAddress      string
	ConfirmTimeout        time.Duration
	RequiredConfirmations int64
	StuckAfter            time.Duration
}

type RequestWithdrawalInput struct {
	UserID    uuid.UUID
	Asset     string
	Amount    decimal.Decimal
	ToAddress string
}

// WithdrawalOutcome reports what one automation pass did with a single
// withdrawal.
type WithdrawalOutcome struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id"`
	Status       string    `json:"status"`
	Detail       string    `json:"detail,omitempty"`
}

// ProcessResult summarizes one automation pass over the pending queue.
type ProcessResult struct {
	Processed int
	Skipped   int
	Failed    int
	TimedOut  int
	Results   []WithdrawalOutcome
}

func (r *ProcessResult) record(id uuid.UUID, status, detail string) {
	r.Results = append(r.Results, WithdrawalOutcome{WithdrawalID: id, Status: status, Detail: detail})
}

type WithdrawalService struct {
	store    withdrawalStore
	chain    chain.Client
	settings *SettingsLoader
	emitter  *events.Emitter
	logger   *slog.Logger
	metrics  *Metrics
	cfg      WithdrawalConfig
}

func NewWithdrawalService(store withdrawalStore, chainClient chain.Client, settings *SettingsLoader, emitter *events.Emitter, logger *slog.Logger, metrics *Metrics, cfg WithdrawalConfig) *WithdrawalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WithdrawalService{
		store:    store,
		chain:    chainClient,
		settings: settings,
		emitter:  emitter,
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// HotWalletBalance reports the configured hot wallet's on-chain balance
// for one asset.
func (s *WithdrawalService) HotWalletBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return decimal.Zero, fmt.Errorf("%w: asset is required", ErrValidation)
	}
	return s.chain.AddressBalance(ctx, s.cfg.HotWalletAddress, asset)
}

// Request locks amount plus fee out of the user's available balance and
// queues the withdrawal for the automation pass.
func (s *WithdrawalService) Request(ctx context.Context, in RequestWithdrawalInput) (*storage.Withdrawal, error) {
	if in.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	asset := strings.ToUpper(strings.TrimSpace(in.Asset))
	if asset == "" {
		return nil, fmt.Errorf("%w: asset is required", ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if strings.TrimSpace(in.ToAddress) == "" {
		return nil, fmt.Errorf("%w: destination address is required", ErrValidation)
	}

	w := &storage.Withdrawal{
		ID:        uuid.New(),
		UserID:    in.UserID,
		Asset:     asset,
		Amount:    in.Amount,
		FeeAmount: in.Amount.Mul(s.settings.Current().WithdrawalFeePct),
		ToAddress: strings.TrimSpace(in.ToAddress),
		Status:    storage.WithdrawalStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateWithdrawal(ctx, w); err != nil {
		return nil, err
	}
	s.logger.Info("withdrawal requested", "withdrawal_id", w.ID, "user_id", w.UserID, "asset", w.Asset, "amount", w.Amount)
	return w, nil
}

// ProcessPending drains one batch of the pending queue. Each withdrawal is
// claimed before work starts, so two overlapping passes never double-send;
// a claim that fails means another pass owns the row.
func (s *WithdrawalService) ProcessPending(ctx context.Context) (ProcessResult, error) {
	var result ProcessResult
	settings := s.settings.Current()
	if !settings.AutoWithdrawalEnabled {
		return result, nil
	}

	pending, err := s.store.ListPendingWithdrawals(ctx, settings.AutoWithdrawalThreshold, settings.AutoWithdrawalBatchSize)
	if err != nil {
		return result, err
	}

	for _, w := range pending {
		claimed, err := s.store.ClaimWithdrawal(ctx, w.ID)
		if err != nil {
			return result, err
		}
		if !claimed {
			continue
		}
		s.processOne(ctx, w, &result)
	}
	return result, nil
}

func (s *WithdrawalService) processOne(ctx context.Context, w storage.Withdrawal, result *ProcessResult) {
	hotBalance, err := s.chain.AddressBalance(ctx, s.cfg.HotWalletAddress, w.Asset)
	if err != nil {
		s.logger.Error("hot wallet balance check failed", "withdrawal_id", w.ID, "error", err)
		s.revert(ctx, w.ID, "hot wallet unreachable")
		result.Skipped++
		result.record(w.ID, "skipped", "hot wallet unreachable")
		s.metrics.IncWithdrawal("skipped")
		return
	}
	if hotBalance.LessThan(w.Amount) {
		s.logger.Warn("hot wallet short for withdrawal",
			"withdrawal_id", w.ID, "asset", w.Asset, "needed", w.Amount, "hot_balance", hotBalance)
		s.revert(ctx, w.ID, skipInsufficientHotWallet)
		result.Skipped++
		result.record(w.ID, "skipped", skipInsufficientHotWallet)
		s.metrics.IncWithdrawal("skipped")
		return
	}

	txHash, err := s.chain.Submit(ctx, w.Asset, w.ToAddress, w.Amount)
	if err != nil {
		reason := fmt.Sprintf("broadcast failed: %v", err)
		s.fail(ctx, w, reason)
		result.Failed++
		result.record(w.ID, "failed", reason)
		s.metrics.IncWithdrawal("failed")
		return
	}
	if err := s.store.SetWithdrawalTxHash(ctx, w.ID, txHash); err != nil {
		s.logger.Error("record tx hash failed", "withdrawal_id", w.ID, "tx_hash", txHash, "error", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	err = s.chain.WaitConfirmed(waitCtx, txHash, s.cfg.RequiredConfirmations)
	cancel()
	switch {
	case err == nil:
		if err := s.store.CompleteWithdrawal(ctx, w.ID); err != nil {
			s.logger.Error("complete withdrawal failed", "withdrawal_id", w.ID, "error", err)
			return
		}
		result.Processed++
		result.record(w.ID, "completed", txHash)
		s.metrics.IncWithdrawal("completed")
		s.emitWithdrawal(ctx, events.TypeWithdrawalComplete, &w, txHash, "")
	case errors.Is(err, chain.ErrTxReverted):
		reason := fmt.Sprintf("transaction reverted: %s", txHash)
		s.fail(ctx, w, reason)
		result.Failed++
		result.record(w.ID, "failed", reason)
		s.metrics.IncWithdrawal("failed")
	default:
		// Still unresolved on chain. The row stays processing with its tx
		// hash; the stuck sweep settles it once the chain decides.
		s.logger.Warn("withdrawal confirmation timed out", "withdrawal_id", w.ID, "tx_hash", txHash)
		result.TimedOut++
		result.record(w.ID, "timeout", txHash)
		s.metrics.IncWithdrawal("timeout")
	}
}

// SweepStuck resolves processing rows that stopped moving. The chain is
// always consulted before refunding: a transfer that did land must complete,
// never refund, or the user would be paid twice.
func (s *WithdrawalService) SweepStuck(ctx context.Context) (ProcessResult, error) {
	var result ProcessResult
	stuck, err := s.store.ListStuckWithdrawals(ctx, time.Now().Add(-s.cfg.StuckAfter))
	if err != nil {
		return result, err
	}

	for _, w := range stuck {
		if w.TxHash == nil || *w.TxHash == "" {
			s.fail(ctx, w, "stuck before broadcast")
			result.Failed++
			result.record(w.ID, "failed", "stuck before broadcast")
			s.metrics.IncWithdrawal("failed")
			continue
		}

		status, err := s.chain.TransactionStatus(ctx, *w.TxHash)
		if err != nil {
			s.logger.Error("stuck withdrawal status check failed", "withdrawal_id", w.ID, "error", err)
			continue
		}
		switch status {
		case chain.TxStatusConfirmed:
			if err := s.store.CompleteWithdrawal(ctx, w.ID); err != nil {
				s.logger.Error("complete stuck withdrawal failed", "withdrawal_id", w.ID, "error", err)
				continue
			}
			result.Processed++
			result.record(w.ID, "completed", *w.TxHash)
			s.metrics.IncWithdrawal("completed")
			s.emitWithdrawal(ctx, events.TypeWithdrawalComplete, &w, *w.TxHash, "")
		case chain.TxStatusReverted, chain.TxStatusNotFound:
			reason := fmt.Sprintf("stuck transaction %s: %s", *w.TxHash, status)
			s.fail(ctx, w, reason)
			result.Failed++
			result.record(w.ID, "failed", reason)
			s.metrics.IncWithdrawal("failed")
		default:
			result.TimedOut++
			result.record(w.ID, "timeout", *w.TxHash)
		}
	}
	return result, nil
}

func (s *WithdrawalService) revert(ctx context.Context, withdrawalID uuid.UUID, reason string) {
	if err := s.store.RevertWithdrawalToPending(ctx, withdrawalID, reason); err != nil {
		s.logger.Error("revert withdrawal failed", "withdrawal_id", withdrawalID, "error", err)
	}
}

func (s *WithdrawalService) fail(ctx context.Context, w storage.Withdrawal, reason string) {
	if err := s.store.FailWithdrawal(ctx, w.ID, reason); err != nil {
		s.logger.Error("fail withdrawal failed", "withdrawal_id", w.ID, "error", err)
		return
	}
	s.emitWithdrawal(ctx, events.TypeWithdrawalFailed, &w, "", reason)
}

func (s *WithdrawalService) emitWithdrawal(ctx context.Context, eventType string, w *storage.Withdrawal, txHash, reason string) {
	s.emitter.Emit(ctx, events.TopicWithdrawals, eventType, w.ID.String(), w.UserID.String(), func(env kafka.Envelope) any {
		return events.WithdrawalEvent{
			Envelope:     env,
			WithdrawalID: w.ID.String(),
			UserID:       w.UserID.String(),
			Asset:        w.Asset,
			Amount:       w.Amount,
			ToAddress:    w.ToAddress,
			TxHash:       txHash,
			Reason:       reason,
		}
	})
}
