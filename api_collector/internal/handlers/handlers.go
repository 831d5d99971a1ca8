package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"billingstack/api_collector/internal/provider"
	"billingstack/api_collector/internal/service"
	collectorapi "billingstack/pkg/api/collector"
	"billingstack/pkg/api/common"
	"billingstack/pkg/auth"
	"billingstack/pkg/logging"
	"billingstack/pkg/middleware"
	"billingstack/pkg/models"
)

// Handlers serves the collector REST API.
type Handlers struct {
	svc          *service.Service
	logger       logging.Logger
	stuckDefault time.Duration
}

func New(svc *service.Service, logger logging.Logger, stuckDefault time.Duration) *Handlers {
	return &Handlers{svc: svc, logger: logger, stuckDefault: stuckDefault}
}

// Register mounts the /v2 routes. authMW authenticates every route; idem,
// when not nil, guards the create endpoints.
func (h *Handlers) Register(r gin.IRouter, authMW gin.HandlerFunc, idem gin.HandlerFunc) {
	create := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		if idem == nil {
			return []gin.HandlerFunc{handler}
		}
		return []gin.HandlerFunc{idem, handler}
	}
	admin := auth.RequireAdmin()

	v2 := r.Group("/v2", authMW)

	v2.GET("/providers", h.ListProviders)
	v2.GET("/providers/:provider_id", h.GetProvider)
	v2.POST("/providers/sync", admin, h.SyncProviders)

	cfgs := v2.Group("/merchants/:merchant_id/payment-gateway-configs", h.requireMerchant)
	cfgs.POST("", create(h.CreatePGConfig)...)
	cfgs.GET("", h.ListPGConfigs)
	cfgs.GET("/:config_id", h.GetPGConfig)
	cfgs.DELETE("/:config_id", h.DeletePGConfig)
	cfgs.POST("/:config_id/retry", admin, h.RetryPGConfig)
	cfgs.POST("/:config_id/cancel", admin, h.CancelPGConfig)

	pms := v2.Group("/customers/:customer_id/payment-methods")
	pms.POST("", create(h.CreatePaymentMethod)...)
	pms.GET("", h.ListPaymentMethods)
	pms.GET("/:method_id", h.GetPaymentMethod)
	pms.DELETE("/:method_id", h.DeletePaymentMethod)
	pms.POST("/:method_id/retry", admin, h.RetryPaymentMethod)
	pms.POST("/:method_id/cancel", admin, h.CancelPaymentMethod)
	pms.POST("/:method_id/transactions", create(h.Charge)...)

	txs := v2.Group("/payment-gateway-configs/:config_id/transactions/:transaction_id")
	txs.GET("", h.GetTransaction)
	txs.POST("/settle", h.SettleTransaction)
	txs.POST("/void", h.VoidTransaction)
	txs.POST("/refund", h.RefundTransaction)

	v2.GET("/admin/stuck", admin, h.ListStuck)
}

// requestContext is the caller identity set by the auth middleware plus the
// request id.
func requestContext(c *gin.Context) models.RequestContext {
	rc := auth.FromContext(c.Request.Context())
	rc.RequestID = middleware.GetRequestID(c)
	return rc
}

// requireMerchant keeps tenant callers inside their own merchant. Routes that
// reach a config by id are scoped by the service instead.
func (h *Handlers) requireMerchant(c *gin.Context) {
	if err := service.CheckMerchant(requestContext(c), c.Param("merchant_id")); err != nil {
		h.fail(c, err)
		c.Abort()
		return
	}
	c.Next()
}

var kindStatus = map[string]struct {
	status int
	code   string
}{
	service.KindNotFound:        {http.StatusNotFound, common.CodeNotFound},
	service.KindDuplicate:       {http.StatusConflict, common.CodeConflict},
	service.KindReferenced:      {http.StatusConflict, common.CodeConflict},
	service.KindInvalidState:    {http.StatusConflict, common.CodeInvalidState},
	service.KindInvalidConfig:   {http.StatusUnprocessableEntity, common.CodeInvalidConfig},
	service.KindBadRequest:      {http.StatusBadRequest, common.CodeBadRequest},
	service.KindInvalidArgument: {http.StatusBadRequest, common.CodeBadRequest},
	service.KindForbidden:       {http.StatusForbidden, common.CodeForbidden},
	service.KindNotSupported:    {http.StatusNotImplemented, common.CodeNotSupported},
	service.KindUnavailable:     {http.StatusServiceUnavailable, common.CodeInternal},
}

func (h *Handlers) fail(c *gin.Context, err error) {
	kind := service.Classify(err)
	mapped, ok := kindStatus[kind]
	if !ok {
		middleware.GetContextLogger(c, h.logger).WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{
			Error: "internal error",
			Code:  common.CodeInternal,
		})
		return
	}
	c.JSON(mapped.status, common.ErrorResponse{
		Error:   err.Error(),
		Code:    mapped.code,
		Details: map[string]interface{}{"kind": kind},
	})
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, common.ErrorResponse{
		Error: err.Error(),
		Code:  common.CodeBadRequest,
	})
}

func (h *Handlers) ListProviders(c *gin.Context) {
	providers, err := h.svc.ListPGProviders(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewListResponse(providers))
}

func (h *Handlers) GetProvider(c *gin.Context) {
	p, err := h.svc.GetPGProvider(c.Request.Context(), c.Param("provider_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handlers) SyncProviders(c *gin.Context) {
	providers, err := h.svc.SyncProviders(c.Request.Context(), requestContext(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, collectorapi.SyncProvidersResponse{Providers: providers})
}

func toTransaction(tx *provider.Transaction) collectorapi.Transaction {
	return collectorapi.Transaction{
		ID:              tx.ID,
		Amount:          tx.Amount,
		AmountRefunded:  tx.AmountRefunded,
		Currency:        tx.Currency,
		Status:          tx.Status,
		PaymentMethodID: tx.PaymentMethodID,
		CreatedAt:       tx.CreatedAt,
	}
}
