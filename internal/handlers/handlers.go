package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rosspathan/ipg-app-sub010/internal/service"
	"github.com/rosspathan/ipg-app-sub010/internal/storage"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, in service.PlaceOrderInput) (*storage.Order, error)
	CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*storage.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*storage.Order, error)
}

type WithdrawalService interface {
	Request(ctx context.Context, in service.RequestWithdrawalInput) (*storage.Withdrawal, error)
	ProcessPending(ctx context.Context) (service.ProcessResult, error)
	SweepStuck(ctx context.Context) (service.ProcessResult, error)
	HotWalletBalance(ctx context.Context, asset string) (decimal.Decimal, error)
}

type DepositService interface {
	Discover(ctx context.Context, in service.DiscoverInput) (service.DiscoverResult, error)
	AdvanceConfirmations(ctx context.Context) (int, error)
}

type MatchingService interface {
	RunCycle(ctx context.Context, symbol string) (int, error)
	MatchAll(ctx context.Context) (int, error)
}

type ReconciliationService interface {
	Run(ctx context.Context) (int, error)
	ListUnresolved(ctx context.Context, limit int) ([]storage.ReconciliationReport, error)
	Resolve(ctx context.Context, reportID uuid.UUID, notes, resolvedBy string) (*storage.ReconciliationReport, error)
}

// QueryStore is the read side backing the inspect endpoints.
type QueryStore interface {
	GetBalance(ctx context.Context, userID uuid.UUID, asset string) (*storage.Balance, error)
	ListEntries(ctx context.Context, userID uuid.UUID, asset string, limit int) ([]storage.LedgerEntry, error)
	ListOrders(ctx context.Context, userID uuid.UUID, status string, limit int) ([]storage.Order, error)
	ListTrades(ctx context.Context, symbol string, limit int) ([]storage.Trade, error)
	ListTradesForUser(ctx context.Context, userID uuid.UUID, limit int) ([]storage.Trade, error)
	ListDeposits(ctx context.Context, userID uuid.UUID, limit int) ([]storage.Deposit, error)
	ListWithdrawals(ctx context.Context, userID uuid.UUID, limit int) ([]storage.Withdrawal, error)
	GetWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (*storage.Withdrawal, error)
	VerifyLedger(ctx context.Context, userID uuid.UUID, asset string) error
}

type Handler struct {
	Orders      OrderService
	Withdrawals WithdrawalService
	Deposits    DepositService
	Matching    MatchingService
	Recon       ReconciliationService
	Store       QueryStore
	Logger      *slog.Logger
}

func New(orders OrderService, withdrawals WithdrawalService, deposits DepositService, matching MatchingService, recon ReconciliationService, store QueryStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Orders:      orders,
		Withdrawals: withdrawals,
		Deposits:    deposits,
		Matching:    matching,
		Recon:       recon,
		Store:       store,
		Logger:      logger,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	r.POST("/orders", h.PlaceOrder)
	r.GET("/orders/:id", h.GetOrder)
	r.DELETE("/orders/:id", h.CancelOrder)

	r.GET("/users/:user_id/balances/:asset", h.GetBalance)
	r.GET("/users/:user_id/balances/:asset/entries", h.ListEntries)
	r.GET("/users/:user_id/orders", h.ListOrders)
	r.GET("/users/:user_id/trades", h.ListUserTrades)
	r.GET("/users/:user_id/deposits", h.ListDeposits)
	r.GET("/users/:user_id/withdrawals", h.ListWithdrawals)

	r.GET("/symbols/:symbol/trades", h.ListTrades)

	r.POST("/withdrawals", h.RequestWithdrawal)
	r.GET("/withdrawals/:id", h.GetWithdrawal)

	admin := r.Group("/admin")
	admin.POST("/matching/run", h.RunMatching)
	admin.POST("/withdrawals/process", h.ProcessWithdrawals)
	admin.POST("/withdrawals/sweep-stuck", h.SweepStuckWithdrawals)
	admin.POST("/deposits/scan", h.ScanDeposits)
	admin.POST("/reconciliation/run", h.RunReconciliation)
	admin.GET("/reconciliation/reports", h.ListReports)
	admin.POST("/reconciliation/reports/:id/resolve", h.ResolveReport)
	admin.GET("/ledger/verify", h.VerifyLedger)
	admin.GET("/hot-wallet/:asset", h.HotWalletBalance)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}

// writeServiceError maps domain errors onto HTTP semantics. Conflict-class
// failures (duplicate references, invalid lifecycle transitions) are 409 so
// clients can tell a replay from a bad request.
func (h *Handler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrEmptyNotes):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, storage.ErrInsufficientBalance):
		writeError(c, http.StatusBadRequest, "INSUFFICIENT_BALANCE", "insufficient balance")
	case errors.Is(err, service.ErrRateLimited):
		writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, storage.ErrInvalidState):
		writeError(c, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, storage.ErrDuplicateReference):
		writeError(c, http.StatusConflict, "DUPLICATE_REFERENCE", err.Error())
	case errors.Is(err, service.ErrCircuitBreakerActive):
		writeError(c, http.StatusServiceUnavailable, "CIRCUIT_BREAKER_ACTIVE", "matching is disabled")
	default:
		h.Logger.Error("request failed", "path", c.FullPath(), "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func parseUUIDParam(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func limitQuery(c *gin.Context) int {
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 100
}

func parseAmount(raw string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}
