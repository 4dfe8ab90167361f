package wallet

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/settlement-api/internal/handler"
	"github.com/jwalitptl/settlement-api/internal/middleware"
	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/service/wallet"
	"github.com/jwalitptl/settlement-api/pkg/httputil"
)

type Handler struct {
	service *wallet.Service
}

func NewHandler(service *wallet.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, _ *middleware.AuthMiddleware) {
	wallets := r.Group("/wallets/:doctorId")
	{
		wallets.GET("", h.Get)
		wallets.GET("/transactions", h.Transactions)
		wallets.PUT("/bank-details", h.UpdateBankDetails)
	}
}

func (h *Handler) Get(c *gin.Context) {
	doctorID, ok := handler.ParamUUID(c, "doctorId")
	if !ok || !handler.AllowDoctor(c, doctorID) {
		return
	}

	w, err := h.service.GetOrCreate(c.Request.Context(), doctorID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, w)
}

func (h *Handler) Transactions(c *gin.Context) {
	doctorID, ok := handler.ParamUUID(c, "doctorId")
	if !ok || !handler.AllowDoctor(c, doctorID) {
		return
	}
	page, ok := handler.QueryPagination(c)
	if !ok {
		return
	}
	var txType *model.WalletTransactionType
	if raw := c.Query("type"); raw != "" {
		t := model.WalletTransactionType(raw)
		txType = &t
	}

	txs, total, err := h.service.Transactions(c.Request.Context(), doctorID, txType, page)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithPagination(c, txs, page.Page, page.PageSize, total)
}

func (h *Handler) UpdateBankDetails(c *gin.Context) {
	doctorID, ok := handler.ParamUUID(c, "doctorId")
	if !ok || !handler.AllowDoctor(c, doctorID) {
		return
	}
	var req model.UpdateBankDetailsRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	w, err := h.service.UpdateBankDetails(c.Request.Context(), doctorID, &req.BankDetails, middleware.ActorID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, w)
}
