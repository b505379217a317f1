package trading

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ksred/stock-ledger/internal/ledger"
	"github.com/ksred/stock-ledger/internal/types"
	"github.com/ksred/stock-ledger/pkg/response"
	"github.com/shopspring/decimal"
)

// BuyRequest is the body of a buy order
type BuyRequest struct {
	UserID    string          `json:"user_id" binding:"required"`
	CompanyID string          `json:"company_id" binding:"required"`
	Quantity  int64           `json:"quantity" binding:"required,min=1"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
}

// SellRequest is the body of a sell order
type SellRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	CompanyID string `json:"company_id" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required,min=1"`
}

// WithdrawRequest is the body of a wallet withdrawal
type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// GinHandlers contains HTTP handlers for trading endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for trading endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	response.RegisterError(ErrNotFound, http.StatusNotFound, response.ErrCodeNotFound, "User or company not found")
	response.RegisterError(ErrInsufficientFunds, http.StatusConflict, response.ErrCodeInsufficientFunds, "Insufficient wallet balance")
	response.RegisterError(ErrInsufficientShares, http.StatusConflict, response.ErrCodeInsufficientShares, "Not enough shares to sell")
	response.RegisterError(ErrInvalidOrder, http.StatusBadRequest, response.ErrCodeValidationFailed, "Quantity and price must be positive")
	response.RegisterError(ErrInvalidTransactionType, http.StatusBadRequest, response.ErrCodeValidationFailed, "Transaction type must be Buy or Sell")
	response.RegisterError(ErrInvalidAmount, http.StatusBadRequest, response.ErrCodeValidationFailed, "Amount must be positive")
	response.RegisterError(ErrIdempotencyKeyReused, http.StatusConflict, response.ErrCodeIdempotencyKey, "Idempotency key was already used for a different order")
	response.RegisterError(ErrTradeFailed, http.StatusInternalServerError, response.ErrCodeTradeFailed, "The trade could not be completed")
	response.RegisterError(ErrWithdrawalFailed, http.StatusInternalServerError, response.ErrCodeInternalError, "The withdrawal could not be completed")

	return &GinHandlers{
		service: service,
	}
}

// RegisterRoutes mounts the trading endpoints on an /api/v1 group
func (h *GinHandlers) RegisterRoutes(v1 *gin.RouterGroup) {
	stocks := v1.Group("/stocks")
	{
		stocks.POST("/buy", h.BuyHandler())
		stocks.POST("/sell", h.SellHandler())
	}

	users := v1.Group("/users/:user_id")
	{
		users.GET("", h.GetUserHandler())
		users.GET("/stocks", h.GetHoldingsHandler())
		users.GET("/stocks/:company_id", h.GetLotsHandler())
		users.GET("/profits", h.GetProfitsHandler())
		users.POST("/withdrawals", h.WithdrawHandler())
		users.GET("/withdrawals", h.ListWithdrawalsHandler())
	}

	companies := v1.Group("/companies")
	{
		companies.GET("", h.ListCompaniesHandler())
		companies.GET("/:company_id", h.GetCompanyHandler())
	}

	v1.GET("/transactions", h.ListTransactionsHandler())
}

// BuyHandler handles POST requests to buy shares
// An optional Idempotency-Key header makes retries safe
func (h *GinHandlers) BuyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BuyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		user, err := h.service.Buy(c.Request.Context(), BuyOrder{
			UserID:         req.UserID,
			CompanyID:      req.CompanyID,
			Quantity:       req.Quantity,
			Price:          req.BuyPrice,
			IdempotencyKey: c.GetHeader("Idempotency-Key"),
		})
		response.Handle(c, user, err)
	}
}

// SellHandler handles POST requests to sell shares
func (h *GinHandlers) SellHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SellRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		user, err := h.service.Sell(c.Request.Context(), SellOrder{
			UserID:         req.UserID,
			CompanyID:      req.CompanyID,
			Quantity:       req.Quantity,
			IdempotencyKey: c.GetHeader("Idempotency-Key"),
		})
		response.Handle(c, user, err)
	}
}

// GetUserHandler handles GET requests for a user's balances
// URL parameter: user_id
func (h *GinHandlers) GetUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.service.GetUser(c.Request.Context(), c.Param("user_id"))
		response.Handle(c, user, err)
	}
}

// GetHoldingsHandler handles GET requests for a user's open lots
// URL parameter: user_id
func (h *GinHandlers) GetHoldingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		holdings, err := h.service.GetHoldings(c.Request.Context(), c.Param("user_id"))
		response.Handle(c, holdings, err)
	}
}

// GetLotsHandler handles GET requests for a user's lots in one company
// URL parameters: user_id, company_id
func (h *GinHandlers) GetLotsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		held, err := h.service.GetLots(c.Request.Context(), c.Param("user_id"), c.Param("company_id"))
		response.Handle(c, held, err)
	}
}

// GetProfitsHandler handles GET requests for a user's realized profits
// URL parameter: user_id
func (h *GinHandlers) GetProfitsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		profits, err := h.service.GetProfits(c.Request.Context(), c.Param("user_id"))
		response.Handle(c, profits, err)
	}
}

// WithdrawHandler handles POST requests to take cash out of a wallet
// URL parameter: user_id
func (h *GinHandlers) WithdrawHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req WithdrawRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		user, err := h.service.Withdraw(c.Request.Context(), c.Param("user_id"), req.Amount)
		response.Handle(c, user, err)
	}
}

// ListWithdrawalsHandler handles GET requests for a user's withdrawals
// URL parameter: user_id
func (h *GinHandlers) ListWithdrawalsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		withdrawals, err := h.service.ListWithdrawals(c.Request.Context(), c.Param("user_id"))
		response.Handle(c, withdrawals, err)
	}
}

// ListCompaniesHandler handles GET requests for tradable companies
// Query parameter: max_price, to list only what a balance can afford
func (h *GinHandlers) ListCompaniesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var maxPrice *decimal.Decimal
		if raw := c.Query("max_price"); raw != "" {
			parsed, err := decimal.NewFromString(raw)
			if err != nil || parsed.IsNegative() {
				response.BadRequest(c, "max_price must be a non-negative number")
				return
			}
			maxPrice = &parsed
		}

		companies, err := h.service.ListCompanies(c.Request.Context(), maxPrice)
		response.Handle(c, companies, err)
	}
}

// GetCompanyHandler handles GET requests for one company
// URL parameter: company_id
func (h *GinHandlers) GetCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		company, err := h.service.GetCompany(c.Request.Context(), c.Param("company_id"))
		response.Handle(c, company, err)
	}
}

// ListTransactionsHandler handles GET requests for transaction history
// Query parameters: type (Buy or Sell), page, order (asc or desc), user_id
func (h *GinHandlers) ListTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page := 1
		if raw := c.Query("page"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				response.BadRequest(c, "page must be a positive integer")
				return
			}
			page = parsed
		}

		order := c.DefaultQuery("order", "desc")
		if order != "asc" && order != "desc" {
			response.BadRequest(c, "order must be asc or desc")
			return
		}

		result, err := h.service.ListTransactions(c.Request.Context(), ledger.TransactionFilter{
			UserID: c.Query("user_id"),
			Type:   types.TransactionType(c.Query("type")),
			Page:   page,
			Order:  order,
		})
		response.Handle(c, result, err)
	}
}
