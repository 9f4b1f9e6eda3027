package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger entry types. Replaying every entry for a (user, asset) pair from
// zero must reproduce the stored balance exactly.
const (
	EntryOrderLock        = "order_lock"
	EntryOrderUnlock      = "order_unlock"
	EntryTradeFill        = "trade_fill"
	EntryFee              = "fee"
	EntryDepositCredit    = "deposit_credit"
	EntryWithdrawalLock   = "withdrawal_lock"
	EntryWithdrawalDebit  = "withdrawal_debit"
	EntryWithdrawalRefund = "withdrawal_refund"
	EntryAdminAdjustment  = "admin_adjustment"
)

const (
	ReferenceOrder      = "order"
	ReferenceTrade      = "trade"
	ReferenceDeposit    = "deposit"
	ReferenceWithdrawal = "withdrawal"
	ReferenceAdjustment = "adjustment"
)

const (
	OrderStatusOpen            = "open"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCancelled       = "cancelled"
	OrderStatusRejected        = "rejected"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

const (
	TypeLimit  = "limit"
	TypeMarket = "market"
)

const (
	DepositStatusPending   = "pending"
	DepositStatusConfirmed = "confirmed"
	DepositStatusCredited  = "credited"
	DepositStatusFailed    = "failed"
)

const (
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusFailed     = "failed"
)

type Asset struct {
	Symbol                string
	Name                  string
	Decimals              int32
	ContractAddress       *string
	Active                bool
	AutoDepositEnabled    bool
	RequiredConfirmations int32
}

type Balance struct {
	UserID    uuid.UUID
	Asset     string
	Available decimal.Decimal
	Locked    decimal.Decimal
	Version   int64
	UpdatedAt time.Time
}

type LedgerEntry struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Asset           string
	DeltaAvailable  decimal.Decimal
	DeltaLocked     decimal.Decimal
	EntryType       string
	ReferenceType   string
	ReferenceID     uuid.UUID
	AvailableBefore decimal.Decimal
	AvailableAfter  decimal.Decimal
	LockedBefore    decimal.Decimal
	LockedAfter     decimal.Decimal
	CreatedAt       time.Time
}

type Order struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Symbol          string
	Side            string
	Type            string
	Amount          decimal.Decimal
	Price           *decimal.Decimal
	LockPrice       decimal.Decimal
	FilledAmount    decimal.Decimal
	RemainingAmount decimal.Decimal
	AveragePrice    decimal.Decimal
	FeesPaid        decimal.Decimal
	LockedAmount    decimal.Decimal
	LockedAsset     string
	Status          string
	Version         int64
	CreatedAt       time.Time
	FilledAt        *time.Time
	CancelledAt     *time.Time
}

type Trade struct {
	ID          uuid.UUID
	Symbol      string
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	MakerSide   string
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	TotalValue  decimal.Decimal
	BuyerFee    decimal.Decimal
	SellerFee   decimal.Decimal
	TradeTime   time.Time
}

type Deposit struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	Asset                 string
	Amount                decimal.Decimal
	TxHash                string
	Status                string
	Confirmations         int32
	RequiredConfirmations int32
	CreatedAt             time.Time
	CreditedAt            *time.Time
}

type Withdrawal struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Asset        string
	Amount       decimal.Decimal
	FeeAmount    decimal.Decimal
	ToAddress    string
	Status       string
	TxHash       *string
	ErrorMessage *string
	SkipReason   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

type ReconciliationReport struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Asset           string
	WalletBalance   decimal.Decimal
	LedgerSum       decimal.Decimal
	Discrepancy     decimal.Decimal
	ReportDate      time.Time
	Resolved        bool
	ResolutionNotes *string
	ResolvedBy      *string
	ResolvedAt      *time.Time
}

type CustodialAddress struct {
	UserID    uuid.UUID
	Address   string
	CreatedAt time.Time
}

// TotalBalance is the ledger-derived figure compared against the wallet
// during reconciliation.
func (b Balance) TotalBalance() decimal.Decimal {
	return b.Available.Add(b.Locked)
}
