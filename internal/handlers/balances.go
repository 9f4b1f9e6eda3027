package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rosspathan/ipg-app-sub010/internal/storage"
)

type balanceResponse struct {
	UserID    string `json:"user_id"`
	Asset     string `json:"asset"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Total     string `json:"total"`
}

type entryResponse struct {
	EntryID         string `json:"entry_id"`
	Asset           string `json:"asset"`
	DeltaAvailable  string `json:"delta_available"`
	DeltaLocked     string `json:"delta_locked"`
	EntryType       string `json:"entry_type"`
	ReferenceType   string `json:"reference_type"`
	ReferenceID     string `json:"reference_id"`
	AvailableBefore string `json:"available_before"`
	AvailableAfter  string `json:"available_after"`
	LockedBefore    string `json:"locked_before"`
	LockedAfter     string `json:"locked_after"`
	CreatedAt       string `json:"created_at"`
}

func (h *Handler) GetBalance(c *gin.Context) {
	userID, err := parseUUIDParam(c.Param("user_id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user_id")
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(c.Param("asset")))
	if asset == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "asset is required")
		return
	}

	bal, err := h.Store.GetBalance(c.Request.Context(), userID, asset)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{
		UserID:    bal.UserID.String(),
		Asset:     bal.Asset,
		Available: bal.Available.String(),
		Locked:    bal.Locked.String(),
		Total:     bal.TotalBalance().String(),
	})
}

func (h *Handler) ListEntries(c *gin.Context) {
	userID, err := parseUUIDParam(c.Param("user_id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user_id")
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(c.Param("asset")))

	entries, err := h.Store.ListEntries(c.Request.Context(), userID, asset, limitQuery(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	items := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, entryToResponse(e))
	}
	c.JSON(http.StatusOK, gin.H{"entries": items})
}

func (h *Handler) VerifyLedger(c *gin.Context) {
	userID, err := parseUUIDParam(c.Query("user_id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user_id")
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(c.Query("asset")))
	if asset == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "asset is required")
		return
	}

	if err := h.Store.VerifyLedger(c.Request.Context(), userID, asset); err != nil {
		c.JSON(http.StatusConflict, gin.H{"consistent": false, "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"consistent": true})
}

func entryToResponse(e storage.LedgerEntry) entryResponse {
	return entryResponse{
		EntryID:         e.ID.String(),
		Asset:           e.Asset,
		DeltaAvailable:  e.DeltaAvailable.String(),
		DeltaLocked:     e.DeltaLocked.String(),
		EntryType:       e.EntryType,
		ReferenceType:   e.ReferenceType,
		ReferenceID:     e.ReferenceID.String(),
		AvailableBefore: e.AvailableBefore.String(),
		AvailableAfter:  e.AvailableAfter.String(),
		LockedBefore:    e.LockedBefore.String(),
		LockedAfter:     e.LockedAfter.String(),
		CreatedAt:       e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
