package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rosspathan/ipg-app-sub010/internal/rate"
	"github.com/rosspathan/ipg-app-sub010/internal/storage"
)

type fakeOrderStore struct {
	placed    []*storage.Order
	cancelled []uuid.UUID
	placeErr  error
	lastPrice decimal.Decimal
	lastErr   error
}

func (f *fakeOrderStore) PlaceOrder(_ context.Context, order *storage.Order) error {
	if f.placeErr != nil {
		return f.placeErr
	}
	f.placed = append(f.placed, order)
	return nil
}

func (f *fakeOrderStore) CancelOrder(_ context.Context, orderID, _ uuid.UUID) (*storage.Order, error) {
	f.cancelled = append(f.cancelled, orderID)
	return &storage.Order{ID: orderID, Status: storage.OrderStatusCancelled}, nil
}

func (f *fakeOrderStore) GetOrder(_ context.Context, orderID uuid.UUID) (*storage.Order, error) {
	return nil, fmt.Errorf("%w: order %s", storage.ErrNotFound, orderID)
}

func (f *fakeOrderStore) LastTradePrice(_ context.Context, _ string) (decimal.Decimal, error) {
	if f.lastErr != nil {
		return decimal.Zero, f.lastErr
	}
	return f.lastPrice, nil
}

func TestPlaceOrderLimitBuyLocksQuoteAtLimitPrice(t *testing.T) {
	store := &fakeOrderStore{}
	svc := NewOrderService(store, nil, testSettings(), nil, nil, nil)

	price := decimal.NewFromInt(100)
	order, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID: uuid.New(),
		Symbol: "btc-usdt",
		Side:   storage.SideBuy,
		Type:   storage.TypeLimit,
		Amount: decimal.NewFromInt(2),
		Price:  &price,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.Symbol != "BTC-USDT" {
		t.Fatalf("expected normalized symbol, got %s", order.Symbol)
	}
	if order.LockedAsset != "USDT" {
		t.Fatalf("expected quote lock, got %s", order.LockedAsset)
	}
	if !order.LockedAmount.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected lock 200, got %s", order.LockedAmount)
	}
	if !order.LockPrice.Equal(price) {
		t.Fatalf("expected lock price %s, got %s", price, order.LockPrice)
	}
}

func TestPlaceOrderSellLocksBaseAmount(t *testing.T) {
	store := &fakeOrderStore{}
	svc := NewOrderService(store, nil, testSettings(), nil, nil, nil)

	price := decimal.NewFromInt(100)
	order, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID: uuid.New(),
		Symbol: "BTC-USDT",
		Side:   storage.SideSell,
		Type:   storage.TypeLimit,
		Amount: decimal.NewFromInt(3),
		Price:  &price,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.LockedAsset != "BTC" {
		t.Fatalf("expected base lock, got %s", order.LockedAsset)
	}
	if !order.LockedAmount.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected lock 3, got %s", order.LockedAmount)
	}
}

func TestPlaceOrderMarketBuyLocksPaddedLastPrice(t *testing.T) {
	store := &fakeOrderStore{lastPrice: decimal.NewFromInt(100)}
	settings := settingsWith(func(s *storage.EngineSettings) { s.MarketBuySlippageBps = 200 })
	svc := NewOrderService(store, nil, settings, nil, nil, nil)

	order, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID: uuid.New(),
		Symbol: "BTC-USDT",
		Side:   storage.SideBuy,
		Type:   storage.TypeMarket,
		Amount: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if !order.LockPrice.Equal(decimal.NewFromInt(102)) {
		t.Fatalf("expected lock price 102 with 2%% slippage pad, got %s", order.LockPrice)
	}
	if !order.LockedAmount.Equal(decimal.NewFromInt(102)) {
		t.Fatalf("expected lock 102, got %s", order.LockedAmount)
	}
}

func TestPlaceOrderMarketBuyWithoutTradesRejected(t *testing.T) {
	store := &fakeOrderStore{lastErr: fmt.Errorf("%w: no trades", storage.ErrNotFound)}
	svc := NewOrderService(store, nil, testSettings(), nil, nil, nil)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID: uuid.New(),
		Symbol: "BTC-USDT",
		Side:   storage.SideBuy,
		Type:   storage.TypeMarket,
		Amount: decimal.NewFromInt(1),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(store.placed) != 0 {
		t.Fatalf("expected no order persisted")
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	svc := NewOrderService(&fakeOrderStore{}, nil, testSettings(), nil, nil, nil)
	price := decimal.NewFromInt(100)
	zero := decimal.Zero

	cases := []struct {
		name string
		in   PlaceOrderInput
	}{
		{"missing user", PlaceOrderInput{Symbol: "BTC-USDT", Side: "buy", Type: "limit", Amount: decimal.NewFromInt(1), Price: &price}},
		{"bad side", PlaceOrderInput{UserID: uuid.New(), Symbol: "BTC-USDT", Side: "hold", Type: "limit", Amount: decimal.NewFromInt(1), Price: &price}},
		{"zero amount", PlaceOrderInput{UserID: uuid.New(), Symbol: "BTC-USDT", Side: "buy", Type: "limit", Amount: decimal.Zero, Price: &price}},
		{"limit without price", PlaceOrderInput{UserID: uuid.New(), Symbol: "BTC-USDT", Side: "buy", Type: "limit", Amount: decimal.NewFromInt(1)}},
		{"limit zero price", PlaceOrderInput{UserID: uuid.New(), Symbol: "BTC-USDT", Side: "buy", Type: "limit", Amount: decimal.NewFromInt(1), Price: &zero}},
		{"market with price", PlaceOrderInput{UserID: uuid.New(), Symbol: "BTC-USDT", Side: "buy", Type: "market", Amount: decimal.NewFromInt(1), Price: &price}},
	}
	for _, tc := range cases {
		if _, err := svc.PlaceOrder(context.Background(), tc.in); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestPlaceOrderRateLimited(t *testing.T) {
	store := &fakeOrderStore{}
	limiter := rate.NewMemory(1, time.Minute)
	svc := NewOrderService(store, limiter, testSettings(), nil, nil, nil)

	userID := uuid.New()
	price := decimal.NewFromInt(100)
	in := PlaceOrderInput{
		UserID: userID,
		Symbol: "BTC-USDT",
		Side:   storage.SideBuy,
		Type:   storage.TypeLimit,
		Amount: decimal.NewFromInt(1),
		Price:  &price,
	}

	if _, err := svc.PlaceOrder(context.Background(), in); err != nil {
		t.Fatalf("first order: %v", err)
	}
	if _, err := svc.PlaceOrder(context.Background(), in); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if len(store.placed) != 1 {
		t.Fatalf("expected exactly one order persisted, got %d", len(store.placed))
	}
}

func TestPlaceOrderInsufficientBalancePropagates(t *testing.T) {
	store := &fakeOrderStore{placeErr: fmt.Errorf("%w: needs more", storage.ErrInsufficientBalance)}
	svc := NewOrderService(store, nil, testSettings(), nil, nil, nil)

	price := decimal.NewFromInt(100)
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID: uuid.New(),
		Symbol: "BTC-USDT",
		Side:   storage.SideBuy,
		Type:   storage.TypeLimit,
		Amount: decimal.NewFromInt(1),
		Price:  &price,
	})
	if !errors.Is(err, storage.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}
