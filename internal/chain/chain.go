// Package chain talks to the wallet gateway that fronts the custodial
// hot wallet and chain indexer. Everything the engine knows about on-chain
// state comes through this client.
package chain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrConfirmTimeout = errors.New("confirmation timeout")
	ErrTxReverted     = errors.New("transaction reverted")
	ErrTxNotFound     = errors.New("transaction not found")
)

// TxStatus is the terminal view of a broadcast transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusReverted  TxStatus = "reverted"
	TxStatusNotFound  TxStatus = "not_found"
)

// Transfer is one incoming on-chain movement into a custodial address.
type Transfer struct {
	TxHash      string          `json:"tx_hash"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	BlockNumber int64           `json:"block_number"`
}

type Client interface {
	// AddressBalance reports the on-chain balance of one address for one asset.
	AddressBalance(ctx context.Context, address, asset string) (decimal.Decimal, error)

	// IncomingTransfers lists transfers received by the address within the
	// indexer's lookback window. The same transfer may appear across
	// overlapping scans; callers deduplicate by (asset, tx hash).
	IncomingTransfers(ctx context.Context, address, asset string, lookbackBlocks int64) ([]Transfer, error)

	// Confirmations reports how many blocks have been mined on top of the
	// transaction's block. ErrTxNotFound if the hash is unknown.
	Confirmations(ctx context.Context, txHash string) (int64, error)

	// Submit broadcasts a transfer from the hot wallet and returns the
	// transaction hash. A returned hash does not imply confirmation.
	Submit(ctx context.Context, asset, toAddress string, amount decimal.Decimal) (string, error)

	// WaitConfirmed blocks until the transaction reaches the required
	// confirmation depth, fails with ErrTxReverted, or the context expires
	// (reported as ErrConfirmTimeout).
	WaitConfirmed(ctx context.Context, txHash string, required int64) error

	// TransactionStatus resolves the current state of a broadcast hash.
	TransactionStatus(ctx context.Context, txHash string) (TxStatus, error)
}
