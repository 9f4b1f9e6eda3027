// Package events publishes domain events after state has committed.
// Publishing is best-effort: a broker outage never fails the operation that
// produced the event, and failed publishes land on the DLQ via the
// publisher itself.
package events

import (
	"context"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/rosspathan/ipg-app-sub010/libs/kafka"
)

const (
	TopicOrders      = "exchange.orders"
	TopicTrades      = "exchange.trades"
	TopicDeposits    = "exchange.deposits"
	TopicWithdrawals = "exchange.withdrawals"
	TopicRecon       = "exchange.reconciliation"
)

const (
	TypeOrderPlaced        = "order.placed"
	TypeOrderCancelled     = "order.cancelled"
	TypeTradeExecuted      = "trade.executed"
	TypeDepositCredited    = "deposit.credited"
	TypeWithdrawalComplete = "withdrawal.completed"
	TypeWithdrawalFailed   = "withdrawal.failed"
	TypeReconDiscrepancy   = "reconciliation.discrepancy"
)

type OrderEvent struct {
	kafka.Envelope
	OrderID string          `json:"order_id"`
	UserID  string          `json:"user_id"`
	Symbol  string          `json:"symbol"`
	Side    string          `json:"side"`
	Type    string          `json:"type"`
	Amount  decimal.Decimal `json:"amount"`
	Price   string          `json:"price,omitempty"`
	Status  string          `json:"status"`
}

type TradeEvent struct {
	kafka.Envelope
	TradeID     string          `json:"trade_id"`
	Symbol      string          `json:"symbol"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	MakerSide   string          `json:"maker_side"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	TotalValue  decimal.Decimal `json:"total_value"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

type DepositEvent struct {
	kafka.Envelope
	DepositID string          `json:"deposit_id"`
	UserID    string          `json:"user_id"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	TxHash    string          `json:"tx_hash"`
}

type WithdrawalEvent struct {
	kafka.Envelope
	WithdrawalID string          `json:"withdrawal_id"`
	UserID       string          `json:"user_id"`
	Asset        string          `json:"asset"`
	Amount       decimal.Decimal `json:"amount"`
	ToAddress    string          `json:"to_address"`
	TxHash       string          `json:"tx_hash,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

type ReconEvent struct {
	kafka.Envelope
	ReportID    string          `json:"report_id"`
	UserID      string          `json:"user_id"`
	Asset       string          `json:"asset"`
	Discrepancy decimal.Decimal `json:"discrepancy"`
}

type Emitter struct {
	publisher kafka.Publisher
	logger    *slog.Logger
}

func NewEmitter(publisher kafka.Publisher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{publisher: publisher, logger: logger}
}

// Emit publishes one event keyed for partition ordering. The event id is
// derived from the event type and entity id, so a replayed emit of the same
// logical event is deduplicatable downstream.
func (e *Emitter) Emit(ctx context.Context, topic, eventType, entityID, key string, build func(env kafka.Envelope) any) {
	if e == nil || e.publisher == nil {
		return
	}
	env, err := kafka.NewEnvelopeWithID(kafka.DeterministicEventID(eventType, entityID), eventType, 1, "")
	if err != nil {
		e.logger.Error("build event envelope", "event_type", eventType, "error", err)
		return
	}
	if _, _, err := e.publisher.PublishJSON(ctx, topic, key, build(env)); err != nil {
		e.logger.Error("publish domain event", "topic", topic, "event_type", eventType, "error", err)
	}
}
