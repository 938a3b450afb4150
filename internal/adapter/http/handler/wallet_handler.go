package handler

import (
	"strconv"

	"nebripop-wallet-service/internal/adapter/http/dto"
	"nebripop-wallet-service/internal/adapter/http/middleware"
	"nebripop-wallet-service/internal/core/domain"
	"nebripop-wallet-service/internal/core/ports"
	"nebripop-wallet-service/pkg/apperror"
	"nebripop-wallet-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// WalletHandler handles wallet endpoints.
type WalletHandler struct {
	ledgerSvc ports.LedgerService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledgerSvc ports.LedgerService) *WalletHandler {
	return &WalletHandler{ledgerSvc: ledgerSvc}
}

// GetBalance handles GET /api/v1/wallet/balance.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	account, err := h.ledgerSvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewWalletResponse(account))
}

// Deposit handles POST /api/v1/wallet/deposit.
func (h *WalletHandler) Deposit(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	var req dto.MutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	account, svcErr := h.ledgerSvc.Deposit(c.Request.Context(), ports.MutationRequest{
		UserID:         userID,
		Amount:         amount,
		IdempotencyKey: c.GetHeader(middleware.HeaderIdempotencyKey),
	})
	if svcErr != nil {
		response.Error(c, svcErr)
		return
	}

	response.OK(c, dto.NewWalletResponse(account))
}

// Withdraw handles POST /api/v1/wallet/withdraw.
func (h *WalletHandler) Withdraw(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	var req dto.MutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	account, svcErr := h.ledgerSvc.Withdraw(c.Request.Context(), ports.MutationRequest{
		UserID:         userID,
		Amount:         amount,
		IdempotencyKey: c.GetHeader(middleware.HeaderIdempotencyKey),
	})
	if svcErr != nil {
		response.Error(c, svcErr)
		return
	}

	response.OK(c, dto.NewWalletResponse(account))
}

// Purchase handles POST /api/v1/wallet/purchase.
func (h *WalletHandler) Purchase(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	var req dto.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	amount, err := parseAmount(req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	account, svcErr := h.ledgerSvc.Purchase(c.Request.Context(), ports.PurchaseRequest{
		BuyerID:        userID,
		SellerID:       req.SellerID,
		Amount:         amount,
		Memo:           req.Memo,
		IdempotencyKey: c.GetHeader(middleware.HeaderIdempotencyKey),
	})
	if svcErr != nil {
		response.Error(c, svcErr)
		return
	}

	response.OK(c, dto.NewWalletResponse(account))
}

// ListTransactions handles GET /api/v1/wallet/transactions.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	params := ports.EntryListParams{
		UserID:   userID,
		Page:     page,
		PageSize: pageSize,
	}
	if kindStr := c.Query("kind"); kindStr != "" {
		kind := domain.EntryKind(kindStr)
		if !kind.Valid() {
			response.Error(c, apperror.Validation("kind must be deposit or withdrawal"))
			return
		}
		params.Kind = &kind
	}

	entries, total, err := h.ledgerSvc.ListEntries(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.EntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, dto.NewEntryResponse(e))
	}

	totalPages := int(total) / params.PageSize
	if int(total)%params.PageSize > 0 {
		totalPages++
	}

	response.OK(c, dto.EntryListResponse{
		Items:      items,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: totalPages,
	})
}

// authedUserID extracts the authenticated user ID set by JWTAuth.
func authedUserID(c *gin.Context) (int64, bool) {
	userID, ok := c.Get(middleware.CtxUserID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return 0, false
	}
	return userID.(int64), true
}

// parseAmount converts a decimal amount into positive minor units.
func parseAmount(amount decimal.Decimal) (int64, *apperror.AppError) {
	minor, err := domain.MinorUnits(amount)
	if err != nil {
		return 0, apperror.ErrInvalidAmount()
	}
	if minor <= 0 {
		return 0, apperror.ErrInvalidAmount()
	}
	return minor, nil
}
