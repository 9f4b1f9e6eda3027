package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/rosspathan/ipg-app-sub010/internal/engine"
	"github.com/rosspathan/ipg-app-sub010/internal/events"
	"github.com/rosspathan/ipg-app-sub010/internal/storage"
	"github.com/rosspathan/ipg-app-sub010/libs/kafka"
)

type matchStore interface {
	ListOpenSymbols(ctx context.Context) ([]string, error)
	ListOpenOrdersForSymbol(ctx context.Context, symbol string) ([]storage.Order, error)
	SettleTrade(ctx context.Context, in storage.SettlementInput) error
	CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*storage.Order, error)
}

type MatchingService struct {
	store        matchStore
	settings     *SettingsLoader
	emitter      *events.Emitter
	logger       *slog.Logger
	metrics      *Metrics
	feeAccountID uuid.UUID

	mu       sync.Mutex
	inFlight map[string]*sync.Mutex
}

func NewMatchingService(store matchStore, settings *SettingsLoader, emitter *events.Emitter, logger *slog.Logger, metrics *Metrics, feeAccountID uuid.UUID) *MatchingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatchingService{
		store:        store,
		settings:     settings,
		emitter:      emitter,
		logger:       logger,
		metrics:      metrics,
		feeAccountID: feeAccountID,
		inFlight:     map[string]*sync.Mutex{},
	}
}

// MatchAll runs one matching cycle for every symbol with resting orders and
// reports the total number of trades settled.
func (s *MatchingService) MatchAll(ctx context.Context) (int, error) {
	symbols, err := s.store.ListOpenSymbols(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, symbol := range symbols {
		matched, err := s.RunCycle(ctx, symbol)
		total += matched
		if err != nil {
			if errors.Is(err, ErrCircuitBreakerActive) {
				return total, err
			}
			s.logger.Error("matching cycle failed", "symbol", symbol, "error", err)
		}
	}
	return total, nil
}

// RunCycle matches one symbol's book until the spread opens or the per-cycle
// budget is spent, and reports how many trades settled. Only one cycle per
// symbol runs at a time in this process; a trigger that arrives mid-cycle is
// a no-op. A stale order snapshot reloads the book once, so a concurrent
// cancel costs the cycle a rebuild, not a failure.
func (s *MatchingService) RunCycle(ctx context.Context, symbol string) (int, error) {
	settings := s.settings.Current()
	if !settings.MatchingEnabled {
		return 0, ErrCircuitBreakerActive
	}

	lock := s.symbolLock(symbol)
	if !lock.TryLock() {
		return 0, nil
	}
	defer lock.Unlock()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.MatchCycleDuration.Observe(time.Since(start).Seconds())
		}
	}()

	book, err := s.loadBook(ctx, symbol)
	if err != nil {
		return 0, err
	}

	matched := 0
	reloaded := false
	for matched < settings.MatchingMaxPerCycle {
		match, ok := book.NextMatch()
		if !ok {
			break
		}

		trade := s.buildTrade(match, settings)
		err := s.store.SettleTrade(ctx, storage.SettlementInput{
			Trade:        trade,
			Buy:          match.Buy,
			Sell:         match.Sell,
			FeeAccountID: s.feeAccountID,
		})
		if err != nil {
			if errors.Is(err, storage.ErrStaleVersion) && !reloaded {
				reloaded = true
				if book, err = s.loadBook(ctx, symbol); err != nil {
					return matched, err
				}
				continue
			}
			if s.metrics != nil {
				s.metrics.TradesSettled.WithLabelValues("error").Inc()
			}
			return matched, err
		}
		matched++
		if s.metrics != nil {
			s.metrics.TradesSettled.WithLabelValues("success").Inc()
		}
		s.emitTrade(ctx, trade)
	}

	for _, leftover := range book.UnfilledMarketOrders() {
		if _, err := s.store.CancelOrder(ctx, leftover.ID, leftover.UserID); err != nil {
			s.logger.Error("cancel unfilled market order", "order_id", leftover.ID, "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.MatchCycles.WithLabelValues("success").Inc()
	}
	return matched, nil
}

func (s *MatchingService) loadBook(ctx context.Context, symbol string) (*engine.Book, error) {
	orders, err := s.store.ListOpenOrdersForSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return engine.NewBook(symbol, orders), nil
}

// buildTrade prices the fees off the settings snapshot: maker rate for the
// resting side, taker rate for the aggressor, both charged in quote.
func (s *MatchingService) buildTrade(match *engine.Match, settings *storage.EngineSettings) *storage.Trade {
	notional := match.Quantity.Mul(match.Price)

	buyerRate := settings.TakerFeePct
	sellerRate := settings.TakerFeePct
	if match.MakerSide == storage.SideBuy {
		buyerRate = settings.MakerFeePct
	} else {
		sellerRate = settings.MakerFeePct
	}

	return &storage.Trade{
		ID:          uuid.New(),
		Symbol:      match.Buy.Symbol,
		BuyOrderID:  match.Buy.ID,
		SellOrderID: match.Sell.ID,
		MakerSide:   match.MakerSide,
		Price:       match.Price,
		Quantity:    match.Quantity,
		TotalValue:  notional,
		BuyerFee:    notional.Mul(buyerRate),
		SellerFee:   notional.Mul(sellerRate),
		TradeTime:   time.Now().UTC(),
	}
}

func (s *MatchingService) emitTrade(ctx context.Context, trade *storage.Trade) {
	s.emitter.Emit(ctx, events.TopicTrades, events.TypeTradeExecuted, trade.ID.String(), trade.Symbol, func(env kafka.Envelope) any {
		return events.TradeEvent{
			Envelope:    env,
			TradeID:     trade.ID.String(),
			Symbol:      trade.Symbol,
			BuyOrderID:  trade.BuyOrderID.String(),
			SellOrderID: trade.SellOrderID.String(),
			MakerSide:   trade.MakerSide,
			Price:       trade.Price,
			Quantity:    trade.Quantity,
			TotalValue:  trade.TotalValue,
			ExecutedAt:  trade.TradeTime,
		}
	})
}

func (s *MatchingService) symbolLock(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.inFlight[symbol]
	if !ok {
		lock = &sync.Mutex{}
		s.inFlight[symbol] = lock
	}
	return lock
}
