package service

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrRateLimited          = errors.New("rate limited")
	ErrCircuitBreakerActive = errors.New("matching circuit breaker active")
	ErrEmptyNotes           = errors.New("resolution notes required")
	ErrValidation           = errors.New("validation failed")
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
