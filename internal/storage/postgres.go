package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidState        = errors.New("invalid state")
	ErrDuplicateReference  = errors.New("duplicate reference")
	ErrStaleVersion        = errors.New("stale version")
)

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// withTx runs fn inside a transaction, rolling back unless fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// SplitSymbol parses "BASE-QUOTE" (or "BASE/QUOTE") trading pair symbols.
func SplitSymbol(symbol string) (string, string, error) {
	trimmed := strings.TrimSpace(symbol)
	if trimmed == "" {
		return "", "", fmt.Errorf("symbol is required")
	}
	for _, sep := range []string{"-", "/"} {
		if strings.Contains(trimmed, sep) {
			parts := strings.Split(trimmed, sep)
			if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
				return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
			}
		}
	}
	return "", "", fmt.Errorf("symbol must be in BASE-QUOTE format")
}

func QuoteAsset(symbol string) string {
	_, quote, err := SplitSymbol(symbol)
	if err != nil {
		return ""
	}
	return quote
}

func BaseAsset(symbol string) string {
	base, _, err := SplitSymbol(symbol)
	if err != nil {
		return ""
	}
	return base
}
