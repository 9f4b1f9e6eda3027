package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rosspathan/ipg-app-sub010/internal/chain"
	"github.com/rosspathan/ipg-app-sub010/internal/storage"
)

type fakeWithdrawalStore struct {
	rows map[uuid.UUID]*storage.Withdrawal
}

func newFakeWithdrawalStore() *fakeWithdrawalStore {
	return &fakeWithdrawalStore{rows: map[uuid.UUID]*storage.Withdrawal{}}
}

func (f *fakeWithdrawalStore) CreateWithdrawal(_ context.Context, w *storage.Withdrawal) error {
	clone := *w
	f.rows[w.ID] = &clone
	return nil
}

func (f *fakeWithdrawalStore) GetWithdrawal(_ context.Context, id uuid.UUID) (*storage.Withdrawal, error) {
	w, ok := f.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return w, nil
}

func (f *fakeWithdrawalStore) ListPendingWithdrawals(_ context.Context, maxAmount decimal.Decimal, _ int) ([]storage.Withdrawal, error) {
	var out []storage.Withdrawal
	for _, w := range f.rows {
		if w.Status == storage.WithdrawalStatusPending && w.Amount.LessThanOrEqual(maxAmount) {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (f *fakeWithdrawalStore) ClaimWithdrawal(_ context.Context, id uuid.UUID) (bool, error) {
	w, ok := f.rows[id]
	if !ok || w.Status != storage.WithdrawalStatusPending {
		return false, nil
	}
	w.Status = storage.WithdrawalStatusProcessing
	return true, nil
}

func (f *fakeWithdrawalStore) RevertWithdrawalToPending(_ context.Context, id uuid.UUID, skipReason string) error {
	w, ok := f.rows[id]
	if !ok || w.Status != storage.WithdrawalStatusProcessing {
		return storage.ErrInvalidState
	}
	w.Status = storage.WithdrawalStatusPending
	w.SkipReason = &skipReason
	return nil
}

func (f *fakeWithdrawalStore) SetWithdrawalTxHash(_ context.Context, id uuid.UUID, txHash string) error {
	f.rows[id].TxHash = &txHash
	return nil
}

func (f *fakeWithdrawalStore) CompleteWithdrawal(_ context.Context, id uuid.UUID) error {
	w := f.rows[id]
	if w.Status != storage.WithdrawalStatusProcessing {
		return storage.ErrInvalidState
	}
	w.Status = storage.WithdrawalStatusCompleted
	return nil
}

func (f *fakeWithdrawalStore) FailWithdrawal(_ context.Context, id uuid.UUID, reason string) error {
	w := f.rows[id]
	if w.Status != storage.WithdrawalStatusPending && w.Status != storage.WithdrawalStatusProcessing {
		return storage.ErrInvalidState
	}
	w.Status = storage.WithdrawalStatusFailed
	w.ErrorMessage = &reason
	return nil
}

func (f *fakeWithdrawalStore) ListStuckWithdrawals(_ context.Context, _ time.Time) ([]storage.Withdrawal, error) {
	var out []storage.Withdrawal
	for _, w := range f.rows {
		if w.Status == storage.WithdrawalStatusProcessing {
			out = append(out, *w)
		}
	}
	return out, nil
}

func withdrawalService(store *fakeWithdrawalStore, chainClient *fakeChain) *WithdrawalService {
	return NewWithdrawalService(store, chainClient, testSettings(), nil, nil, nil, WithdrawalConfig{
		HotWalletAddress:      "0xhot",
		ConfirmTimeout:        time.Second,
		RequiredConfirmations: 12,
		StuckAfter:            time.Minute,
	})
}

func pendingWithdrawal(store *fakeWithdrawalStore, amount int64) *storage.Withdrawal {
	w := &storage.Withdrawal{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Asset:     "ETH",
		Amount:    decimal.NewFromInt(amount),
		FeeAmount: decimal.Zero,
		ToAddress: "0xdest",
		Status:    storage.WithdrawalStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	store.rows[w.ID] = w
	return w
}

func TestRequestWithdrawalComputesFee(t *testing.T) {
	store := newFakeWithdrawalStore()
	settings := settingsWith(func(s *storage.EngineSettings) {
		s.WithdrawalFeePct = decimal.NewFromFloat(0.01)
	})
	svc := NewWithdrawalService(store, newFakeChain(), settings, nil, nil, nil, WithdrawalConfig{})

	w, err := svc.Request(context.Background(), RequestWithdrawalInput{
		UserID:    uuid.New(),
		Asset:     "eth",
		Amount:    decimal.NewFromInt(100),
		ToAddress: "0xdest",
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if w.Asset != "ETH" {
		t.Fatalf("expected normalized asset, got %s", w.Asset)
	}
	if !w.FeeAmount.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected fee 1, got %s", w.FeeAmount)
	}
	if w.Status != storage.WithdrawalStatusPending {
		t.Fatalf("expected pending, got %s", w.Status)
	}
}

func TestRequestWithdrawalValidation(t *testing.T) {
	svc := withdrawalService(newFakeWithdrawalStore(), newFakeChain())
	cases := []RequestWithdrawalInput{
		{Asset: "ETH", Amount: decimal.NewFromInt(1), ToAddress: "0xdest"},
		{UserID: uuid.New(), Amount: decimal.NewFromInt(1), ToAddress: "0xdest"},
		{UserID: uuid.New(), Asset: "ETH", Amount: decimal.Zero, ToAddress: "0xdest"},
		{UserID: uuid.New(), Asset: "ETH", Amount: decimal.NewFromInt(1)},
	}
	for i, in := range cases {
		if _, err := svc.Request(context.Background(), in); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestProcessPendingCompletesWithdrawal(t *testing.T) {
	store := newFakeWithdrawalStore()
	chainClient := newFakeChain()
	chainClient.setBalance("0xhot", "ETH", decimal.NewFromInt(1000))
	w := pendingWithdrawal(store, 10)

	svc := withdrawalService(store, chainClient)
	result, err := svc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("expected 1 processed, got %+v", result)
	}
	if len(result.Results) != 1 || result.Results[0].WithdrawalID != w.ID || result.Results[0].Status != "completed" {
		t.Fatalf("expected per-withdrawal completed outcome, got %+v", result.Results)
	}
	row := store.rows[w.ID]
	if row.Status != storage.WithdrawalStatusCompleted {
		t.Fatalf("expected completed, got %s", row.Status)
	}
	if row.TxHash == nil || *row.TxHash == "" {
		t.Fatalf("expected tx hash recorded")
	}
}

func TestProcessPendingSkipsOnHotWalletShortfall(t *testing.T) {
	store := newFakeWithdrawalStore()
	chainClient := newFakeChain()
	chainClient.setBalance("0xhot", "ETH", decimal.NewFromInt(5))
	w := pendingWithdrawal(store, 10)

	svc := withdrawalService(store, chainClient)
	result, err := svc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Skipped != 1 || result.Processed != 0 || result.Failed != 0 {
		t.Fatalf("expected 1 skipped, got %+v", result)
	}
	if len(result.Results) != 1 || result.Results[0].Status != "skipped" || result.Results[0].Detail != skipInsufficientHotWallet {
		t.Fatalf("expected skipped outcome with reason, got %+v", result.Results)
	}
	row := store.rows[w.ID]
	if row.Status != storage.WithdrawalStatusPending {
		t.Fatalf("expected back to pending, got %s", row.Status)
	}
	if row.SkipReason == nil || *row.SkipReason != skipInsufficientHotWallet {
		t.Fatalf("expected skip reason recorded")
	}
	if len(chainClient.submitted) != 0 {
		t.Fatalf("expected no broadcast")
	}
}

func TestProcessPendingFailsAndRefundsOnBroadcastError(t *testing.T) {
	store := newFakeWithdrawalStore()
	chainClient := newFakeChain()
	chainClient.setBalance("0xhot", "ETH", decimal.NewFromInt(1000))
	chainClient.submitErr = errors.New("nonce gap")
	w := pendingWithdrawal(store, 10)

	svc := withdrawalService(store, chainClient)
	result, err := svc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected 1 failed, got %+v", result)
	}
	row := store.rows[w.ID]
	if row.Status != storage.WithdrawalStatusFailed {
		t.Fatalf("expected failed, got %s", row.Status)
	}
	if row.ErrorMessage == nil {
		t.Fatalf("expected error message recorded")
	}
}

func TestProcessPendingLeavesTimedOutProcessing(t *testing.T) {
	store := newFakeWithdrawalStore()
	chainClient := newFakeChain()
	chainClient.setBalance("0xhot", "ETH", decimal.NewFromInt(1000))
	chainClient.waitErr = chain.ErrConfirmTimeout
	w := pendingWithdrawal(store, 10)

	svc := withdrawalService(store, chainClient)
	result, err := svc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.TimedOut != 1 {
		t.Fatalf("expected 1 timed out, got %+v", result)
	}
	if store.rows[w.ID].Status != storage.WithdrawalStatusProcessing {
		t.Fatalf("expected still processing for sweep, got %s", store.rows[w.ID].Status)
	}
}

func TestProcessPendingRespectsThreshold(t *testing.T) {
	store := newFakeWithdrawalStore()
	chainClient := newFakeChain()
	chainClient.setBalance("0xhot", "ETH", decimal.NewFromInt(100000))
	small := pendingWithdrawal(store, 10)
	large := pendingWithdrawal(store, 5000)

	svc := withdrawalService(store, chainClient)
	if _, err := svc.ProcessPending(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if store.rows[small.ID].Status != storage.WithdrawalStatusCompleted {
		t.Fatalf("expected small withdrawal completed")
	}
	if store.rows[large.ID].Status != storage.WithdrawalStatusPending {
		t.Fatalf("expected above-threshold withdrawal untouched, got %s", store.rows[large.ID].Status)
	}
}

func TestSweepStuckCompletesConfirmed(t *testing.T) {
	store := newFakeWithdrawalStore()
	chainClient := newFakeChain()
	w := pendingWithdrawal(store, 10)
	w.Status = storage.WithdrawalStatusProcessing
	hash := "0xstuck"
	w.TxHash = &hash
	chainClient.statuses[hash] = chain.TxStatusConfirmed

	svc := withdrawalService(store, chainClient)
	result, err := svc.SweepStuck(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("expected 1 completed, got %+v", result)
	}
	if store.rows[w.ID].Status != storage.WithdrawalStatusCompleted {
		t.Fatalf("expected completed, got %s", store.rows[w.ID].Status)
	}
}

func TestSweepStuckFailsRevertedAndUnbroadcast(t *testing.T) {
	store := newFakeWithdrawalStore()
	chainClient := newFakeChain()

	reverted := pendingWithdrawal(store, 10)
	reverted.Status = storage.WithdrawalStatusProcessing
	hash := "0xreverted"
	reverted.TxHash = &hash
	chainClient.statuses[hash] = chain.TxStatusReverted

	unbroadcast := pendingWithdrawal(store, 20)
	unbroadcast.Status = storage.WithdrawalStatusProcessing

	svc := withdrawalService(store, chainClient)
	result, err := svc.SweepStuck(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Failed != 2 {
		t.Fatalf("expected 2 failed, got %+v", result)
	}
	if store.rows[reverted.ID].Status != storage.WithdrawalStatusFailed {
		t.Fatalf("expected reverted withdrawal failed")
	}
	if store.rows[unbroadcast.ID].Status != storage.WithdrawalStatusFailed {
		t.Fatalf("expected unbroadcast withdrawal failed")
	}
}

func TestSweepStuckLeavesPendingChainState(t *testing.T) {
	store := newFakeWithdrawalStore()
	chainClient := newFakeChain()
	w := pendingWithdrawal(store, 10)
	w.Status = storage.WithdrawalStatusProcessing
	hash := "0xslow"
	w.TxHash = &hash
	chainClient.statuses[hash] = chain.TxStatusPending

	svc := withdrawalService(store, chainClient)
	result, err := svc.SweepStuck(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Failed != 0 || result.Processed != 0 {
		t.Fatalf("expected still-pending tx untouched, got %+v", result)
	}
	if store.rows[w.ID].Status != storage.WithdrawalStatusProcessing {
		t.Fatalf("expected still processing")
	}
}

func TestProcessPendingDisabledBySettings(t *testing.T) {
	store := newFakeWithdrawalStore()
	chainClient := newFakeChain()
	pendingWithdrawal(store, 10)

	settings := settingsWith(func(s *storage.EngineSettings) { s.AutoWithdrawalEnabled = false })
	svc := NewWithdrawalService(store, chainClient, settings, nil, nil, nil, WithdrawalConfig{HotWalletAddress: "0xhot"})

	result, err := svc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Processed != 0 || result.Skipped != 0 || result.Failed != 0 {
		t.Fatalf("expected no work when disabled, got %+v", result)
	}
}
