package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rosspathan/ipg-app-sub010/internal/service"
	"github.com/rosspathan/ipg-app-sub010/internal/storage"
)

type requestWithdrawalRequest struct {
	UserID    string `json:"user_id"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	ToAddress string `json:"to_address"`
}

type withdrawalResponse struct {
	WithdrawalID string `json:"withdrawal_id"`
	UserID       string `json:"user_id"`
	Asset        string `json:"asset"`
	Amount       string `json:"amount"`
	FeeAmount    string `json:"fee_amount"`
	ToAddress    string `json:"to_address"`
	Status       string `json:"status"`
	TxHash       string `json:"tx_hash,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	SkipReason   string `json:"skip_reason,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type depositResponse struct {
	DepositID             string `json:"deposit_id"`
	UserID                string `json:"user_id"`
	Asset                 string `json:"asset"`
	Amount                string `json:"amount"`
	TxHash                string `json:"tx_hash"`
	Status                string `json:"status"`
	Confirmations         int32  `json:"confirmations"`
	RequiredConfirmations int32  `json:"required_confirmations"`
	CreatedAt             string `json:"created_at"`
}

type tradeResponse struct {
	TradeID     string `json:"trade_id"`
	Symbol      string `json:"symbol"`
	BuyOrderID  string `json:"buy_order_id"`
	SellOrderID string `json:"sell_order_id"`
	MakerSide   string `json:"maker_side"`
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	TotalValue  string `json:"total_value"`
	TradeTime   string `json:"trade_time"`
}

func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req requestWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	userID, err := parseUUIDParam(req.UserID)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user_id")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid amount")
		return
	}

	w, err := h.Withdrawals.Request(c.Request.Context(), service.RequestWithdrawalInput{
		UserID:    userID,
		Asset:     req.Asset,
		Amount:    amount,
		ToAddress: req.ToAddress,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, withdrawalToResponse(w))
}

func (h *Handler) GetWithdrawal(c *gin.Context) {
	withdrawalID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid withdrawal id")
		return
	}
	w, err := h.Store.GetWithdrawal(c.Request.Context(), withdrawalID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, withdrawalToResponse(w))
}

func (h *Handler) ListWithdrawals(c *gin.Context) {
	userID, err := parseUUIDParam(c.Param("user_id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user_id")
		return
	}
	withdrawals, err := h.Store.ListWithdrawals(c.Request.Context(), userID, limitQuery(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	items := make([]withdrawalResponse, 0, len(withdrawals))
	for i := range withdrawals {
		items = append(items, withdrawalToResponse(&withdrawals[i]))
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": items})
}

func (h *Handler) ListDeposits(c *gin.Context) {
	userID, err := parseUUIDParam(c.Param("user_id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user_id")
		return
	}
	deposits, err := h.Store.ListDeposits(c.Request.Context(), userID, limitQuery(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	items := make([]depositResponse, 0, len(deposits))
	for _, d := range deposits {
		items = append(items, depositResponse{
			DepositID:             d.ID.String(),
			UserID:                d.UserID.String(),
			Asset:                 d.Asset,
			Amount:                d.Amount.String(),
			TxHash:                d.TxHash,
			Status:                d.Status,
			Confirmations:         d.Confirmations,
			RequiredConfirmations: d.RequiredConfirmations,
			CreatedAt:             d.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"deposits": items})
}

func (h *Handler) ListTrades(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	trades, err := h.Store.ListTrades(c.Request.Context(), symbol, limitQuery(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": tradesToResponse(trades)})
}

func (h *Handler) ListUserTrades(c *gin.Context) {
	userID, err := parseUUIDParam(c.Param("user_id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user_id")
		return
	}
	trades, err := h.Store.ListTradesForUser(c.Request.Context(), userID, limitQuery(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": tradesToResponse(trades)})
}

func withdrawalToResponse(w *storage.Withdrawal) withdrawalResponse {
	resp := withdrawalResponse{
		WithdrawalID: w.ID.String(),
		UserID:       w.UserID.String(),
		Asset:        w.Asset,
		Amount:       w.Amount.String(),
		FeeAmount:    w.FeeAmount.String(),
		ToAddress:    w.ToAddress,
		Status:       w.Status,
		CreatedAt:    w.CreatedAt.UTC().Format(time.RFC3339),
	}
	if w.TxHash != nil {
		resp.TxHash = *w.TxHash
	}
	if w.ErrorMessage != nil {
		resp.ErrorMessage = *w.ErrorMessage
	}
	if w.SkipReason != nil {
		resp.SkipReason = *w.SkipReason
	}
	return resp
}

func tradesToResponse(trades []storage.Trade) []tradeResponse {
	items := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		items = append(items, tradeResponse{
			TradeID:     t.ID.String(),
			Symbol:      t.Symbol,
			BuyOrderID:  t.BuyOrderID.String(),
			SellOrderID: t.SellOrderID.String(),
			MakerSide:   t.MakerSide,
			Price:       t.Price.String(),
			Quantity:    t.Quantity.String(),
			TotalValue:  t.TotalValue.String(),
			TradeTime:   t.TradeTime.UTC().Format(time.RFC3339),
		})
	}
	return items
}
