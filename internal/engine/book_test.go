package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rosspathan/ipg-app-sub010/internal/storage"
)

func limitOrder(side string, price int64, amount int64, at time.Time) storage.Order {
	p := decimal.NewFromInt(price)
	return storage.Order{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Symbol:          "BTC-USDT",
		Side:            side,
		Type:            storage.TypeLimit,
		Amount:          decimal.NewFromInt(amount),
		Price:           &p,
		RemainingAmount: decimal.NewFromInt(amount),
		Status:          storage.OrderStatusOpen,
		CreatedAt:       at,
	}
}

func marketOrder(side string, amount int64, at time.Time) storage.Order {
	return storage.Order{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Symbol:          "BTC-USDT",
		Side:            side,
		Type:            storage.TypeMarket,
		Amount:          decimal.NewFromInt(amount),
		RemainingAmount: decimal.NewFromInt(amount),
		Status:          storage.OrderStatusOpen,
		CreatedAt:       at,
	}
}

func TestBookMatchesAtMakerPrice(t *testing.T) {
	base := time.Now().UTC()
	sell := limitOrder(storage.SideSell, 100, 1, base)
	buy := limitOrder(storage.SideBuy, 105, 1, base.Add(time.Second))

	book := NewBook("BTC-USDT", []storage.Order{sell, buy})
	match, ok := book.NextMatch()
	if !ok {
		t.Fatalf("expected a match")
	}
	if !match.Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected maker price 100, got %s", match.Price)
	}
	if match.MakerSide != storage.SideSell {
		t.Fatalf("expected sell maker, got %s", match.MakerSide)
	}
	if _, ok := book.NextMatch(); ok {
		t.Fatalf("expected book exhausted")
	}
}

func TestBookNoMatchWhenSpreadOpen(t *testing.T) {
	base := time.Now().UTC()
	book := NewBook("BTC-USDT", []storage.Order{
		limitOrder(storage.SideSell, 110, 1, base),
		limitOrder(storage.SideBuy, 100, 1, base),
	})
	if _, ok := book.NextMatch(); ok {
		t.Fatalf("expected no match with bid 100 below ask 110")
	}
}

func TestBookPriceTimePriority(t *testing.T) {
	base := time.Now().UTC()
	cheapLate := limitOrder(storage.SideSell, 99, 1, base.Add(2*time.Second))
	expensiveEarly := limitOrder(storage.SideSell, 101, 1, base)
	buy := limitOrder(storage.SideBuy, 105, 2, base.Add(3*time.Second))

	book := NewBook("BTC-USDT", []storage.Order{expensiveEarly, cheapLate, buy})

	first, ok := book.NextMatch()
	if !ok {
		t.Fatalf("expected first match")
	}
	if first.Sell.ID != cheapLate.ID {
		t.Fatalf("expected better-priced ask to match first")
	}
	if !first.Price.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("expected price 99, got %s", first.Price)
	}

	second, ok := book.NextMatch()
	if !ok {
		t.Fatalf("expected second match")
	}
	if second.Sell.ID != expensiveEarly.ID {
		t.Fatalf("expected remaining ask to match second")
	}
	if !second.Price.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("expected price 101, got %s", second.Price)
	}
}

func TestBookTimeThenIDTieBreak(t *testing.T) {
	base := time.Now().UTC()
	a := limitOrder(storage.SideSell, 100, 1, base)
	b := limitOrder(storage.SideSell, 100, 1, base)
	buy := limitOrder(storage.SideBuy, 100, 1, base.Add(time.Second))

	book := NewBook("BTC-USDT", []storage.Order{b, a, buy})
	match, ok := book.NextMatch()
	if !ok {
		t.Fatalf("expected a match")
	}
	wantFirst := a.ID
	if b.ID.String() < a.ID.String() {
		wantFirst = b.ID
	}
	if match.Sell.ID != wantFirst {
		t.Fatalf("expected lexicographically smaller id to match first")
	}
}

func TestBookPartialFillCarriesRemainder(t *testing.T) {
	base := time.Now().UTC()
	sell := limitOrder(storage.SideSell, 100, 5, base)
	buy := limitOrder(storage.SideBuy, 100, 2, base.Add(time.Second))

	book := NewBook("BTC-USDT", []storage.Order{sell, buy})
	match, ok := book.NextMatch()
	if !ok {
		t.Fatalf("expected a match")
	}
	if !match.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected quantity 2, got %s", match.Quantity)
	}
	if !match.Sell.RemainingAmount.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected seller remainder 3, got %s", match.Sell.RemainingAmount)
	}
	if _, ok := book.NextMatch(); ok {
		t.Fatalf("expected no further matches")
	}
}

func TestBookMarketTakerUsesRestingPrice(t *testing.T) {
	base := time.Now().UTC()
	sell := limitOrder(storage.SideSell, 100, 1, base)
	buy := marketOrder(storage.SideBuy, 1, base.Add(time.Second))

	book := NewBook("BTC-USDT", []storage.Order{sell, buy})
	match, ok := book.NextMatch()
	if !ok {
		t.Fatalf("expected market order to match")
	}
	if !match.Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected execution at resting price 100, got %s", match.Price)
	}
	if match.MakerSide != storage.SideSell {
		t.Fatalf("expected resting sell to be maker")
	}
}

func TestBookMarketBuyCappedAtLockPrice(t *testing.T) {
	base := time.Now().UTC()
	buy := marketOrder(storage.SideBuy, 1, base)
	buy.LockPrice = decimal.NewFromInt(102)
	buy.LockedAmount = decimal.NewFromInt(102)
	sell := limitOrder(storage.SideSell, 110, 1, base.Add(time.Second))

	book := NewBook("BTC-USDT", []storage.Order{buy, sell})
	if _, ok := book.NextMatch(); ok {
		t.Fatalf("expected no match above the buy's lock price")
	}
	leftovers := book.UnfilledMarketOrders()
	if len(leftovers) != 1 || leftovers[0].ID != buy.ID {
		t.Fatalf("expected overpriced market buy reported unfilled")
	}
}

func TestBookMarketBuySetAsideKeepsLimitBidMatching(t *testing.T) {
	base := time.Now().UTC()
	market := marketOrder(storage.SideBuy, 1, base)
	market.LockPrice = decimal.NewFromInt(102)
	market.LockedAmount = decimal.NewFromInt(102)
	limit := limitOrder(storage.SideBuy, 110, 1, base.Add(time.Second))
	sell := limitOrder(storage.SideSell, 110, 1, base.Add(2*time.Second))

	book := NewBook("BTC-USDT", []storage.Order{market, limit, sell})
	match, ok := book.NextMatch()
	if !ok {
		t.Fatalf("expected the limit bid behind the market buy to match")
	}
	if match.Buy.ID != limit.ID {
		t.Fatalf("expected limit bid to match, got %s", match.Buy.ID)
	}
	if !match.Price.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("expected price 110, got %s", match.Price)
	}
	leftovers := book.UnfilledMarketOrders()
	if len(leftovers) != 1 || leftovers[0].ID != market.ID {
		t.Fatalf("expected set-aside market buy reported unfilled")
	}
}

func TestBookTwoMarketOrdersDoNotCross(t *testing.T) {
	base := time.Now().UTC()
	book := NewBook("BTC-USDT", []storage.Order{
		marketOrder(storage.SideBuy, 1, base),
		marketOrder(storage.SideSell, 1, base.Add(time.Second)),
	})
	if _, ok := book.NextMatch(); ok {
		t.Fatalf("expected no match between two market orders")
	}
	if got := len(book.UnfilledMarketOrders()); got != 2 {
		t.Fatalf("expected both market orders tracked as unfilled, got %d", got)
	}
}

func TestBookUnfilledMarketOrdersReported(t *testing.T) {
	base := time.Now().UTC()
	buy := marketOrder(storage.SideBuy, 3, base)
	sell := limitOrder(storage.SideSell, 100, 1, base.Add(time.Second))

	book := NewBook("BTC-USDT", []storage.Order{buy, sell})
	if _, ok := book.NextMatch(); !ok {
		t.Fatalf("expected partial match")
	}
	if _, ok := book.NextMatch(); ok {
		t.Fatalf("expected book exhausted")
	}
	leftovers := book.UnfilledMarketOrders()
	if len(leftovers) != 1 || leftovers[0].ID != buy.ID {
		t.Fatalf("expected the market buy remainder to be reported")
	}
	if !leftovers[0].RemainingAmount.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected remainder 2, got %s", leftovers[0].RemainingAmount)
	}
}
