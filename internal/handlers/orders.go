package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rosspathan/ipg-app-sub010/internal/service"
	"github.com/rosspathan/ipg-app-sub010/internal/storage"
)

type placeOrderRequest struct {
	UserID string `json:"user_id"`
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Type   string `json:"type"`
	Amount string `json:"amount"`
	Price  string `json:"price,omitempty"`
}

type orderResponse struct {
	OrderID         string `json:"order_id"`
	UserID          string `json:"user_id"`
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	Type            string `json:"type"`
	Amount          string `json:"amount"`
	Price           string `json:"price,omitempty"`
	FilledAmount    string `json:"filled_amount"`
	RemainingAmount string `json:"remaining_amount"`
	AveragePrice    string `json:"average_price"`
	FeesPaid        string `json:"fees_paid"`
	LockedAmount    string `json:"locked_amount"`
	LockedAsset     string `json:"locked_asset"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
}

func orderToResponse(order *storage.Order) orderResponse {
	price := ""
	if order.Price != nil {
		price = order.Price.String()
	}
	return orderResponse{
		OrderID:         order.ID.String(),
		UserID:          order.UserID.String(),
		Symbol:          order.Symbol,
		Side:            order.Side,
		Type:            order.Type,
		Amount:          order.Amount.String(),
		Price:           price,
		FilledAmount:    order.FilledAmount.String(),
		RemainingAmount: order.RemainingAmount.String(),
		AveragePrice:    order.AveragePrice.String(),
		FeesPaid:        order.FeesPaid.String(),
		LockedAmount:    order.LockedAmount.String(),
		LockedAsset:     order.LockedAsset,
		Status:          order.Status,
		CreatedAt:       order.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) PlaceOrder(c *gin.Context) {
	var req placeOrderRequest
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

	var pricePtr *decimal.Decimal
	if strings.TrimSpace(req.Price) != "" {
		price, ok := parseAmount(req.Price)
		if !ok {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid price")
			return
		}
		pricePtr = &price
	}

	order, err := h.Orders.PlaceOrder(c.Request.Context(), service.PlaceOrderInput{
		UserID: userID,
		Symbol: req.Symbol,
		Side:   strings.ToLower(strings.TrimSpace(req.Side)),
		Type:   strings.ToLower(strings.TrimSpace(req.Type)),
		Amount: amount,
		Price:  pricePtr,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, orderToResponse(order))
}

func (h *Handler) GetOrder(c *gin.Context) {
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id")
		return
	}
	order, err := h.Orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderToResponse(order))
}

func (h *Handler) CancelOrder(c *gin.Context) {
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id")
		return
	}
	userID, err := parseUUIDParam(c.Query("user_id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user_id")
		return
	}

	order, err := h.Orders.CancelOrder(c.Request.Context(), orderID, userID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderToResponse(order))
}

func (h *Handler) ListOrders(c *gin.Context) {
	userID, err := parseUUIDParam(c.Param("user_id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user_id")
		return
	}
	status := strings.ToLower(strings.TrimSpace(c.Query("status")))

	orders, err := h.Store.ListOrders(c.Request.Context(), userID, status, limitQuery(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	items := make([]orderResponse, 0, len(orders))
	for i := range orders {
		items = append(items, orderToResponse(&orders[i]))
	}
	c.JSON(http.StatusOK, gin.H{"orders": items})
}
