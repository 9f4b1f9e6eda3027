package service

import (
	"context"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/rosspathan/ipg-app-sub010/internal/storage"
)

type settingsStore interface {
	LoadEngineSettings(ctx context.Context) (*storage.EngineSettings, error)
}

// SettingsLoader holds an immutable snapshot of the operator settings row.
// Services read the snapshot in effect when an operation starts; changes
// apply from the next refresh, never mid-operation.
type SettingsLoader struct {
	store   settingsStore
	logger  *slog.Logger
	current atomic.Pointer[storage.EngineSettings]
}

func NewSettingsLoader(store settingsStore, logger *slog.Logger) *SettingsLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsLoader{store: store, logger: logger}
}

func (l *SettingsLoader) Refresh(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	settings, err := l.store.LoadEngineSettings(ctx)
	if err != nil {
		return err
	}
	l.current.Store(settings)
	return nil
}

// Current never returns nil; before the first successful refresh it serves
// conservative built-in defaults.
func (l *SettingsLoader) Current() *storage.EngineSettings {
	if s := l.current.Load(); s != nil {
		return s
	}
	return defaultSettings()
}

// Run refreshes the snapshot on an interval until the context is cancelled.
// A failed refresh keeps the previous snapshot.
func (l *SettingsLoader) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil {
				l.logger.Error("settings refresh failed", "error", err)
			}
		}
	}
}

func defaultSettings() *storage.EngineSettings {
	return &storage.EngineSettings{
		MakerFeePct:             dec("0.001"),
		TakerFeePct:             dec("0.001"),
		MatchingEnabled:         true,
		MatchingInterval:        5 * time.Second,
		MatchingMaxPerCycle:     200,
		AutoWithdrawalEnabled:   true,
		AutoWithdrawalThreshold: dec("1000"),
		AutoWithdrawalBatchSize: 20,
		WithdrawalFeePct:        dec("0"),
		ReconciliationEpsilon:   dec("0.0001"),
		OrdersPerMinute:         60,
		MarketBuySlippageBps:    100,
	}
}
