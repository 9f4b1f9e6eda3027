package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rosspathan/ipg-app-sub010/internal/service"
	"github.com/rosspathan/ipg-app-sub010/internal/storage"
)

type runMatchingRequest struct {
	Symbol string `json:"symbol"`
}

type resolveReportRequest struct {
	Notes      string `json:"notes"`
	ResolvedBy string `json:"resolved_by"`
}

type reportResponse struct {
	ReportID        string `json:"report_id"`
	UserID          string `json:"user_id"`
	Asset           string `json:"asset"`
	WalletBalance   string `json:"wallet_balance"`
	LedgerSum       string `json:"ledger_sum"`
	Discrepancy     string `json:"discrepancy"`
	ReportDate      string `json:"report_date"`
	Resolved        bool   `json:"resolved"`
	ResolutionNotes string `json:"resolution_notes,omitempty"`
	ResolvedBy      string `json:"resolved_by,omitempty"`
	ResolvedAt      string `json:"resolved_at,omitempty"`
}

// RunMatching triggers a matching cycle for one symbol, or for every symbol
// with resting orders when no symbol is given.
func (h *Handler) RunMatching(c *gin.Context) {
	var req runMatchingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
			return
		}
	}
	if req.Symbol == "" {
		req.Symbol = c.Query("symbol")
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	var matched int
	var err error
	if symbol == "" {
		matched, err = h.Matching.MatchAll(c.Request.Context())
	} else {
		matched, err = h.Matching.RunCycle(c.Request.Context(), symbol)
	}
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched_count": matched})
}

func (h *Handler) ProcessWithdrawals(c *gin.Context) {
	result, err := h.Withdrawals.ProcessPending(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processed": result.Processed,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
		"timed_out": result.TimedOut,
		"results":   outcomeList(result),
	})
}

func (h *Handler) SweepStuckWithdrawals(c *gin.Context) {
	result, err := h.Withdrawals.SweepStuck(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processed": result.Processed,
		"failed":    result.Failed,
		"results":   outcomeList(result),
	})
}

func outcomeList(result service.ProcessResult) []service.WithdrawalOutcome {
	if result.Results == nil {
		return []service.WithdrawalOutcome{}
	}
	return result.Results
}

// ScanDeposits runs one discovery pass, optionally narrowed to one user or
// asset, followed by one confirmation pass, the same pair the background
// scheduler runs.
func (h *Handler) ScanDeposits(c *gin.Context) {
	in := service.DiscoverInput{Asset: c.Query("asset")}
	if raw := c.Query("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user_id")
			return
		}
		in.UserID = userID
	}
	if raw := c.Query("lookback_blocks"); raw != "" {
		lookback, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || lookback <= 0 {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid lookback_blocks")
			return
		}
		in.LookbackBlocks = lookback
	}

	result, err := h.Deposits.Discover(c.Request.Context(), in)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	credited, err := h.Deposits.AdvanceConfirmations(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"discovered": result.Discovered,
		"created":    result.Created,
		"ignored":    result.Ignored,
		"credited":   credited,
	})
}

func (h *Handler) RunReconciliation(c *gin.Context) {
	discrepancies, err := h.Recon.Run(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discrepancies": discrepancies})
}

func (h *Handler) ListReports(c *gin.Context) {
	reports, err := h.Recon.ListUnresolved(c.Request.Context(), limitQuery(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	items := make([]reportResponse, 0, len(reports))
	for i := range reports {
		items = append(items, reportToResponse(&reports[i]))
	}
	c.JSON(http.StatusOK, gin.H{"reports": items})
}

func (h *Handler) ResolveReport(c *gin.Context) {
	reportID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid report id")
		return
	}
	var req resolveReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	report, err := h.Recon.Resolve(c.Request.Context(), reportID, req.Notes, req.ResolvedBy)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, reportToResponse(report))
}

func (h *Handler) HotWalletBalance(c *gin.Context) {
	asset := c.Param("asset")
	balance, err := h.Withdrawals.HotWalletBalance(c.Request.Context(), asset)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"asset":   strings.ToUpper(strings.TrimSpace(asset)),
		"balance": balance.String(),
	})
}

func reportToResponse(r *storage.ReconciliationReport) reportResponse {
	resp := reportResponse{
		ReportID:      r.ID.String(),
		UserID:        r.UserID.String(),
		Asset:         r.Asset,
		WalletBalance: r.WalletBalance.String(),
		LedgerSum:     r.LedgerSum.String(),
		Discrepancy:   r.Discrepancy.String(),
		ReportDate:    r.ReportDate.UTC().Format(time.RFC3339),
		Resolved:      r.Resolved,
	}
	if r.ResolutionNotes != nil {
		resp.ResolutionNotes = *r.ResolutionNotes
	}
	if r.ResolvedBy != nil {
		resp.ResolvedBy = *r.ResolvedBy
	}
	if r.ResolvedAt != nil {
		resp.ResolvedAt = r.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
