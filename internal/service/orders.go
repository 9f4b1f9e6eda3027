package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rosspathan/ipg-app-sub010/internal/events"
	"github.com/rosspathan/ipg-app-sub010/internal/rate"
	"github.com/rosspathan/ipg-app-sub010/internal/storage"
	"github.com/rosspathan/ipg-app-sub010/libs/kafka"
)

type orderStore interface {
	PlaceOrder(ctx context.Context, order *storage.Order) error
	CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*storage.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*storage.Order, error)
	LastTradePrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type PlaceOrderInput struct {
	UserID uuid.UUID
	Symbol string
	Side   string
	Type   string
	Amount decimal.Decimal
	Price  *decimal.Decimal
}

type OrderService struct {
	store    orderStore
	limiter  rate.Limiter
	settings *SettingsLoader
	emitter  *events.Emitter
	logger   *slog.Logger
	metrics  *Metrics
}

func NewOrderService(store orderStore, limiter rate.Limiter, settings *SettingsLoader, emitter *events.Emitter, logger *slog.Logger, metrics *Metrics) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{
		store:    store,
		limiter:  limiter,
		settings: settings,
		emitter:  emitter,
		logger:   logger,
		metrics:  metrics,
	}
}

// PlaceOrder validates the request, figures the funds to lock, and persists
// the order with its lock in one transaction. Buy orders lock quote at the
// limit price (market buys at the last trade price padded for slippage);
// sell orders lock the base amount.
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*storage.Order, error) {
	if err := s.validatePlace(&in); err != nil {
		s.metrics.IncOrderPlaced("invalid")
		return nil, err
	}

	if s.limiter != nil {
		allowed, retryAfter, err := s.limiter.Allow(ctx, in.UserID.String(), time.Now())
		if err != nil {
			s.logger.Error("rate limiter unavailable", "error", err)
		} else if !allowed {
			s.metrics.IncOrderPlaced("rate_limited")
			return nil, fmt.Errorf("%w: retry after %s", ErrRateLimited, retryAfter.Round(time.Millisecond))
		}
	}

	base, quote, err := storage.SplitSymbol(in.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	order := &storage.Order{
		ID:              uuid.New(),
		UserID:          in.UserID,
		Symbol:          strings.ToUpper(base + "-" + quote),
		Side:            in.Side,
		Type:            in.Type,
		Amount:          in.Amount,
		Price:           in.Price,
		FilledAmount:    decimal.Zero,
		RemainingAmount: in.Amount,
		AveragePrice:    decimal.Zero,
		FeesPaid:        decimal.Zero,
		Status:          storage.OrderStatusOpen,
		CreatedAt:       time.Now().UTC(),
	}

	if in.Side == storage.SideBuy {
		lockPrice, err := s.buyLockPrice(ctx, order)
		if err != nil {
			s.metrics.IncOrderPlaced("invalid")
			return nil, err
		}
		order.LockPrice = lockPrice
		order.LockedAmount = in.Amount.Mul(lockPrice)
		order.LockedAsset = quote
	} else {
		order.LockPrice = decimal.Zero
		order.LockedAmount = in.Amount
		order.LockedAsset = base
	}

	if err := s.store.PlaceOrder(ctx, order); err != nil {
		s.metrics.IncOrderPlaced("rejected")
		return nil, err
	}
	s.metrics.IncOrderPlaced("accepted")

	s.emitter.Emit(ctx, events.TopicOrders, events.TypeOrderPlaced, order.ID.String(), order.Symbol, func(env kafka.Envelope) any {
		return orderEvent(env, order)
	})
	return order, nil
}

func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*storage.Order, error) {
	order, err := s.store.CancelOrder(ctx, orderID, userID)
	if err != nil {
		if s.metrics != nil {
			s.metrics.OrdersCancelled.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.OrdersCancelled.WithLabelValues("success").Inc()
	}

	s.emitter.Emit(ctx, events.TopicOrders, events.TypeOrderCancelled, order.ID.String(), order.Symbol, func(env kafka.Envelope) any {
		return orderEvent(env, order)
	})
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*storage.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

func (s *OrderService) validatePlace(in *PlaceOrderInput) error {
	if in.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if in.Side != storage.SideBuy && in.Side != storage.SideSell {
		return fmt.Errorf("%w: side must be buy or sell", ErrValidation)
	}
	if in.Type != storage.TypeLimit && in.Type != storage.TypeMarket {
		return fmt.Errorf("%w: type must be limit or market", ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if in.Type == storage.TypeLimit {
		if in.Price == nil || !in.Price.IsPositive() {
			return fmt.Errorf("%w: limit orders require a positive price", ErrValidation)
		}
	} else if in.Price != nil {
		return fmt.Errorf("%w: market orders must not carry a price", ErrValidation)
	}
	return nil
}

// buyLockPrice is the per-unit quote amount reserved for a buy. Limit buys
// reserve at the limit price. Market buys have no price of their own, so
// the last trade price padded by the slippage allowance is reserved; a
// symbol that has never traded cannot price a market buy.
func (s *OrderService) buyLockPrice(ctx context.Context, order *storage.Order) (decimal.Decimal, error) {
	if order.Price != nil {
		return *order.Price, nil
	}
	last, err := s.store.LastTradePrice(ctx, order.Symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: cannot price market buy for %s: %v", ErrValidation, order.Symbol, err)
	}
	slippage := decimal.NewFromInt(int64(s.settings.Current().MarketBuySlippageBps)).Div(decimal.NewFromInt(10000))
	return last.Mul(decimal.NewFromInt(1).Add(slippage)), nil
}

func orderEvent(env kafka.Envelope, order *storage.Order) events.OrderEvent {
	price := ""
	if order.Price != nil {
		price = order.Price.String()
	}
	return events.OrderEvent{
		Envelope: env,
		OrderID:  order.ID.String(),
		UserID:   order.UserID.String(),
		Symbol:   order.Symbol,
		Side:     order.Side,
		Type:     order.Type,
		Amount:   order.Amount,
		Price:    price,
		Status:   order.Status,
	}
}
