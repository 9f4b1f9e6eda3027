package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rosspathan/ipg-app-sub010/internal/storage"
)

type fakeMatchStore struct {
	orders    []storage.Order
	settled   []storage.SettlementInput
	cancelled []uuid.UUID
	staleOnce bool
}

func (f *fakeMatchStore) ListOpenSymbols(_ context.Context) ([]string, error) {
	return []string{"BTC-USDT"}, nil
}

func (f *fakeMatchStore) ListOpenOrdersForSymbol(_ context.Context, _ string) ([]storage.Order, error) {
	out := make([]storage.Order, len(f.orders))
	copy(out, f.orders)
	return out, nil
}

// SettleTrade applies the same fill accounting as the real store, on the
// snapshots the cycle hands over: filled advances by the trade quantity and
// remaining is rederived from the order's total amount.
func (f *fakeMatchStore) SettleTrade(_ context.Context, in storage.SettlementInput) error {
	if f.staleOnce {
		f.staleOnce = false
		return storage.ErrStaleVersion
	}
	for _, o := range []*storage.Order{in.Buy, in.Sell} {
		filled := o.FilledAmount.Add(in.Trade.Quantity)
		remaining := o.Amount.Sub(filled)
		if remaining.IsNegative() {
			return fmt.Errorf("%w: order %s overfill", storage.ErrInvalidState, o.ID)
		}
		o.FilledAmount = filled
		o.RemainingAmount = remaining
		o.Version++
		if remaining.IsZero() {
			o.Status = storage.OrderStatusFilled
		} else {
			o.Status = storage.OrderStatusPartiallyFilled
		}
	}
	f.settled = append(f.settled, in)
	for i := range f.orders {
		if f.orders[i].ID == in.Buy.ID {
			f.orders[i] = *in.Buy
		}
		if f.orders[i].ID == in.Sell.ID {
			f.orders[i] = *in.Sell
		}
	}
	return nil
}

func (f *fakeMatchStore) CancelOrder(_ context.Context, orderID, _ uuid.UUID) (*storage.Order, error) {
	f.cancelled = append(f.cancelled, orderID)
	return &storage.Order{ID: orderID, Status: storage.OrderStatusCancelled}, nil
}

func openLimit(side string, price, amount int64, at time.Time) storage.Order {
	p := decimal.NewFromInt(price)
	return storage.Order{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Symbol:          "BTC-USDT",
		Side:            side,
		Type:            storage.TypeLimit,
		Amount:          decimal.NewFromInt(amount),
		Price:           &p,
		LockPrice:       p,
		RemainingAmount: decimal.NewFromInt(amount),
		LockedAmount:    decimal.NewFromInt(amount * price),
		Status:          storage.OrderStatusOpen,
		CreatedAt:       at,
	}
}

func TestRunCycleSettlesCrossedOrders(t *testing.T) {
	base := time.Now().UTC()
	store := &fakeMatchStore{orders: []storage.Order{
		openLimit(storage.SideSell, 100, 1, base),
		openLimit(storage.SideBuy, 105, 1, base.Add(time.Second)),
	}}
	svc := NewMatchingService(store, testSettings(), nil, nil, nil, uuid.New())

	matched, err := svc.RunCycle(context.Background(), "BTC-USDT")
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if matched != 1 {
		t.Fatalf("expected matched count 1, got %d", matched)
	}
	if len(store.settled) != 1 {
		t.Fatalf("expected 1 settlement, got %d", len(store.settled))
	}
	trade := store.settled[0].Trade
	if !trade.Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected maker price 100, got %s", trade.Price)
	}
	if trade.MakerSide != storage.SideSell {
		t.Fatalf("expected sell maker, got %s", trade.MakerSide)
	}
	buy := store.settled[0].Buy
	if !buy.RemainingAmount.IsZero() || buy.Status != storage.OrderStatusFilled {
		t.Fatalf("expected buy fully filled, got remaining %s status %s", buy.RemainingAmount, buy.Status)
	}
}

// A resting order that fills across two matches in one cycle must end at
// exactly zero remaining; a second settlement must never double-reduce it.
func TestRunCycleFillsRestingOrderAcrossMatches(t *testing.T) {
	base := time.Now().UTC()
	sell := openLimit(storage.SideSell, 100, 2, base)
	store := &fakeMatchStore{orders: []storage.Order{
		sell,
		openLimit(storage.SideBuy, 100, 1, base.Add(time.Second)),
		openLimit(storage.SideBuy, 100, 1, base.Add(2*time.Second)),
	}}
	svc := NewMatchingService(store, testSettings(), nil, nil, nil, uuid.New())

	matched, err := svc.RunCycle(context.Background(), "BTC-USDT")
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if matched != 2 {
		t.Fatalf("expected matched count 2, got %d", matched)
	}
	for i := range store.orders {
		if store.orders[i].ID != sell.ID {
			continue
		}
		if !store.orders[i].RemainingAmount.IsZero() {
			t.Fatalf("expected seller remaining 0, got %s", store.orders[i].RemainingAmount)
		}
		if store.orders[i].Status != storage.OrderStatusFilled {
			t.Fatalf("expected seller filled, got %s", store.orders[i].Status)
		}
	}
}

func TestRunCycleAppliesMakerTakerFees(t *testing.T) {
	base := time.Now().UTC()
	store := &fakeMatchStore{orders: []storage.Order{
		openLimit(storage.SideSell, 100, 1, base),
		openLimit(storage.SideBuy, 100, 1, base.Add(time.Second)),
	}}
	settings := settingsWith(func(s *storage.EngineSettings) {
		s.MakerFeePct = decimal.NewFromFloat(0.001)
		s.TakerFeePct = decimal.NewFromFloat(0.002)
	})
	svc := NewMatchingService(store, settings, nil, nil, nil, uuid.New())

	if _, err := svc.RunCycle(context.Background(), "BTC-USDT"); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	trade := store.settled[0].Trade
	// Seller rested first, so the seller pays the maker rate.
	if !trade.SellerFee.Equal(decimal.NewFromFloat(0.1)) {
		t.Fatalf("expected seller maker fee 0.1, got %s", trade.SellerFee)
	}
	if !trade.BuyerFee.Equal(decimal.NewFromFloat(0.2)) {
		t.Fatalf("expected buyer taker fee 0.2, got %s", trade.BuyerFee)
	}
}

func TestRunCycleCircuitBreaker(t *testing.T) {
	store := &fakeMatchStore{}
	settings := settingsWith(func(s *storage.EngineSettings) { s.MatchingEnabled = false })
	svc := NewMatchingService(store, settings, nil, nil, nil, uuid.New())

	if _, err := svc.RunCycle(context.Background(), "BTC-USDT"); !errors.Is(err, ErrCircuitBreakerActive) {
		t.Fatalf("expected circuit breaker error, got %v", err)
	}
	if len(store.settled) != 0 {
		t.Fatalf("expected no settlements")
	}
}

func TestRunCycleReloadsOnStaleVersion(t *testing.T) {
	base := time.Now().UTC()
	store := &fakeMatchStore{
		orders: []storage.Order{
			openLimit(storage.SideSell, 100, 1, base),
			openLimit(storage.SideBuy, 100, 1, base.Add(time.Second)),
		},
		staleOnce: true,
	}
	svc := NewMatchingService(store, testSettings(), nil, nil, nil, uuid.New())

	matched, err := svc.RunCycle(context.Background(), "BTC-USDT")
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if matched != 1 || len(store.settled) != 1 {
		t.Fatalf("expected settlement after reload, got matched %d settled %d", matched, len(store.settled))
	}
}

func TestRunCycleCancelsUnfilledMarketOrders(t *testing.T) {
	base := time.Now().UTC()
	market := storage.Order{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Symbol:          "BTC-USDT",
		Side:            storage.SideBuy,
		Type:            storage.TypeMarket,
		Amount:          decimal.NewFromInt(1),
		RemainingAmount: decimal.NewFromInt(1),
		Status:          storage.OrderStatusOpen,
		CreatedAt:       base,
	}
	store := &fakeMatchStore{orders: []storage.Order{market}}
	svc := NewMatchingService(store, testSettings(), nil, nil, nil, uuid.New())

	if _, err := svc.RunCycle(context.Background(), "BTC-USDT"); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(store.cancelled) != 1 || store.cancelled[0] != market.ID {
		t.Fatalf("expected unfilled market order cancelled")
	}
}

func TestMatchAllStopsOnCircuitBreaker(t *testing.T) {
	store := &fakeMatchStore{}
	settings := settingsWith(func(s *storage.EngineSettings) { s.MatchingEnabled = false })
	svc := NewMatchingService(store, settings, nil, nil, nil, uuid.New())

	if _, err := svc.MatchAll(context.Background()); !errors.Is(err, ErrCircuitBreakerActive) {
		t.Fatalf("expected circuit breaker error, got %v", err)
	}
}

// A market buy whose lock price is below the best ask sits out the cycle
// and is cancelled with the other unfilled market orders instead of failing
// settlement over and over.
func TestRunCycleSkipsMarketBuyPricedOverLock(t *testing.T) {
	base := time.Now().UTC()
	market := storage.Order{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Symbol:          "BTC-USDT",
		Side:            storage.SideBuy,
		Type:            storage.TypeMarket,
		Amount:          decimal.NewFromInt(1),
		LockPrice:       decimal.NewFromInt(102),
		RemainingAmount: decimal.NewFromInt(1),
		LockedAmount:    decimal.NewFromInt(102),
		Status:          storage.OrderStatusOpen,
		CreatedAt:       base,
	}
	store := &fakeMatchStore{orders: []storage.Order{
		openLimit(storage.SideSell, 110, 1, base.Add(time.Second)),
		market,
	}}
	svc := NewMatchingService(store, testSettings(), nil, nil, nil, uuid.New())

	matched, err := svc.RunCycle(context.Background(), "BTC-USDT")
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if matched != 0 || len(store.settled) != 0 {
		t.Fatalf("expected no settlements, got matched %d settled %d", matched, len(store.settled))
	}
	if len(store.cancelled) != 1 || store.cancelled[0] != market.ID {
		t.Fatalf("expected overpriced market buy cancelled")
	}
}
