// Package engine implements price-time priority matching over a snapshot of
// one symbol's resting orders. The book is an in-memory working set for a
// single matching cycle; durable state lives in storage.
package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rosspathan/ipg-app-sub010/internal/storage"
)

// Match is one crossed pair ready for settlement. Price is the maker's
// limit price, so the taker always executes at the maker's terms.
type Match struct {
	Buy       *storage.Order
	Sell      *storage.Order
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	MakerSide string
}

type Book struct {
	symbol string
	bids   []*storage.Order
	asks   []*storage.Order
	aside  []*storage.Order
}

// NewBook sorts the open orders into the two sides. Bids rank highest price
// first, asks lowest first; within a price level older orders rank first,
// with the lexicographically smaller id breaking exact timestamp ties.
// Market orders outrank every limit order on their side.
func NewBook(symbol string, orders []storage.Order) *Book {
	b := &Book{symbol: symbol}
	for i := range orders {
		o := &orders[i]
		if !o.RemainingAmount.IsPositive() {
			continue
		}
		if o.Side == storage.SideBuy {
			b.bids = append(b.bids, o)
		} else {
			b.asks = append(b.asks, o)
		}
	}
	sort.Slice(b.bids, func(i, j int) bool { return rankBefore(b.bids[i], b.bids[j], true) })
	sort.Slice(b.asks, func(i, j int) bool { return rankBefore(b.asks[i], b.asks[j], false) })
	return b
}

func rankBefore(a, b *storage.Order, descending bool) bool {
	switch {
	case a.Price == nil && b.Price != nil:
		return true
	case a.Price != nil && b.Price == nil:
		return false
	case a.Price != nil && b.Price != nil:
		if cmp := a.Price.Cmp(*b.Price); cmp != 0 {
			if descending {
				return cmp > 0
			}
			return cmp < 0
		}
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// NextMatch pops the next crossed pair off the book, reducing the in-memory
// remaining quantities as if the fill had settled. It returns false when the
// best bid no longer crosses the best ask. Two market orders cannot price
// each other; when both tops are market, the newer one is set aside for the
// rest of the cycle.
func (b *Book) NextMatch() (*Match, bool) {
	for {
		b.trim()
		if len(b.bids) == 0 || len(b.asks) == 0 {
			return nil, false
		}
		buy, sell := b.bids[0], b.asks[0]

		if buy.Price == nil && sell.Price == nil {
			if olderThan(buy, sell) {
				b.aside = append(b.aside, sell)
				b.asks = b.asks[1:]
			} else {
				b.aside = append(b.aside, buy)
				b.bids = b.bids[1:]
			}
			continue
		}
		if buy.Price != nil && sell.Price != nil && buy.Price.LessThan(*sell.Price) {
			return nil, false
		}

		maker, taker := buy, sell
		if olderThan(sell, buy) {
			maker, taker = sell, buy
		}
		price := execPrice(maker, taker)

		// A market buy can only spend what it locked at placement. When the
		// best ask already prices above its lock price no deeper ask can be
		// cheaper, so the order sits out the rest of the cycle instead of
		// blocking the bid queue.
		if buy.Price == nil && buy.LockPrice.IsPositive() && price.GreaterThan(buy.LockPrice) {
			b.aside = append(b.aside, buy)
			b.bids = b.bids[1:]
			continue
		}

		qty := buy.RemainingAmount
		if sell.RemainingAmount.LessThan(qty) {
			qty = sell.RemainingAmount
		}

		buy.RemainingAmount = buy.RemainingAmount.Sub(qty)
		sell.RemainingAmount = sell.RemainingAmount.Sub(qty)

		return &Match{
			Buy:       buy,
			Sell:      sell,
			Price:     price,
			Quantity:  qty,
			MakerSide: maker.Side,
		}, true
	}
}

// UnfilledMarketOrders reports market orders still resting after the cycle.
// Market orders never carry over to the next cycle; the caller cancels them.
func (b *Book) UnfilledMarketOrders() []*storage.Order {
	var out []*storage.Order
	rest := append(append([]*storage.Order{}, b.bids...), b.asks...)
	for _, o := range append(rest, b.aside...) {
		if o.Price == nil && o.RemainingAmount.IsPositive() {
			out = append(out, o)
		}
	}
	return out
}

func (b *Book) trim() {
	for len(b.bids) > 0 && !b.bids[0].RemainingAmount.IsPositive() {
		b.bids = b.bids[1:]
	}
	for len(b.asks) > 0 && !b.asks[0].RemainingAmount.IsPositive() {
		b.asks = b.asks[1:]
	}
}

// olderThan decides the maker: the order that was resting first, with the
// lexicographically smaller id breaking exact timestamp ties.
func olderThan(a, b *storage.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// execPrice is the maker's limit price. A market maker has no price of its
// own, so the taker's limit price applies instead.
func execPrice(maker, taker *storage.Order) decimal.Decimal {
	if maker.Price != nil {
		return *maker.Price
	}
	return *taker.Price
}
