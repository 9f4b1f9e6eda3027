package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rosspathan/ipg-app-sub010/internal/chain"
	"github.com/rosspathan/ipg-app-sub010/internal/storage"
)

// fakeChain scripts the wallet gateway for tests.
type fakeChain struct {
	mu            sync.Mutex
	balances      map[string]decimal.Decimal // address|asset
	transfers     map[string][]chain.Transfer
	confirmations map[string]int64
	statuses      map[string]chain.TxStatus
	submitErr     error
	submitHashes  []string
	waitErr       error
	submitted     []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balances:      map[string]decimal.Decimal{},
		transfers:     map[string][]chain.Transfer{},
		confirmations: map[string]int64{},
		statuses:      map[string]chain.TxStatus{},
	}
}

func (c *fakeChain) AddressBalance(_ context.Context, address, asset string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[address+"|"+asset], nil
}

func (c *fakeChain) IncomingTransfers(_ context.Context, address, asset string, _ int64) ([]chain.Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transfers[address+"|"+asset], nil
}

func (c *fakeChain) Confirmations(_ context.Context, txHash string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	confs, ok := c.confirmations[txHash]
	if !ok {
		return 0, fmt.Errorf("%w: %s", chain.ErrTxNotFound, txHash)
	}
	return confs, nil
}

func (c *fakeChain) Submit(_ context.Context, _, _ string, _ decimal.Decimal) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return "", c.submitErr
	}
	hash := fmt.Sprintf("0xtx%d", len(c.submitted)+1)
	if len(c.submitHashes) > len(c.submitted) {
		hash = c.submitHashes[len(c.submitted)]
	}
	c.submitted = append(c.submitted, hash)
	return hash, nil
}

func (c *fakeChain) WaitConfirmed(_ context.Context, _ string, _ int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitErr
}

func (c *fakeChain) TransactionStatus(_ context.Context, txHash string) (chain.TxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[txHash]
	if !ok {
		return chain.TxStatusNotFound, nil
	}
	return status, nil
}

func (c *fakeChain) setBalance(address, asset string, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[address+"|"+asset] = amount
}

// testSettings serves the built-in defaults.
func testSettings() *SettingsLoader {
	return NewSettingsLoader(nil, nil)
}

type fakeSettingsStore struct {
	settings *storage.EngineSettings
}

func (f fakeSettingsStore) LoadEngineSettings(context.Context) (*storage.EngineSettings, error) {
	return f.settings, nil
}

func settingsWith(mutate func(*storage.EngineSettings)) *SettingsLoader {
	s := defaultSettings()
	mutate(s)
	loader := NewSettingsLoader(fakeSettingsStore{settings: s}, nil)
	_ = loader.Refresh(context.Background())
	return loader
}
