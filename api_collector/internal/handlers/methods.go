package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"billingstack/api_collector/internal/provider"
	collectorapi "billingstack/pkg/api/collector"
	"billingstack/pkg/api/common"
	"billingstack/pkg/models"
)

// CreatePaymentMethod stores a payment method and registers it with the
// gateway. A successful response carries state pending.
func (h *Handlers) CreatePaymentMethod(c *gin.Context) {
	var req collectorapi.CreatePaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	values := models.PaymentMethodValues{
		Name:             req.Name,
		Identifier:       req.Identifier,
		Expires:          req.Expires,
		Properties:       req.Properties,
		CustomerID:       c.Param("customer_id"),
		ProviderConfigID: req.ProviderConfigID,
	}
	pm, err := h.svc.CreatePaymentMethod(c.Request.Context(), requestContext(c), values)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, pm)
}

func (h *Handlers) ListPaymentMethods(c *gin.Context) {
	pms, err := h.svc.ListPaymentMethods(c.Request.Context(), requestContext(c), c.Param("customer_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewListResponse(pms))
}

func (h *Handlers) GetPaymentMethod(c *gin.Context) {
	pm, err := h.svc.GetPaymentMethod(c.Request.Context(), requestContext(c), c.Param("customer_id"), c.Param("method_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pm)
}

func (h *Handlers) DeletePaymentMethod(c *gin.Context) {
	if err := h.svc.DeletePaymentMethod(c.Request.Context(), requestContext(c), c.Param("customer_id"), c.Param("method_id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) RetryPaymentMethod(c *gin.Context) {
	h.reconcilePaymentMethod(c, h.svc.RetryPaymentMethod)
}

func (h *Handlers) CancelPaymentMethod(c *gin.Context) {
	h.reconcilePaymentMethod(c, h.svc.CancelPaymentMethod)
}

func (h *Handlers) reconcilePaymentMethod(c *gin.Context, action func(context.Context, models.RequestContext, string) (*models.PaymentMethod, error)) {
	ctx := c.Request.Context()
	rc := requestContext(c)
	pm, err := h.svc.GetPaymentMethod(ctx, rc, c.Param("customer_id"), c.Param("method_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	pm, err = action(ctx, rc, pm.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pm)
}

// Charge creates a transaction against a payment method.
func (h *Handlers) Charge(c *gin.Context) {
	var req collectorapi.ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	tx, err := h.svc.Charge(c.Request.Context(), requestContext(c), c.Param("customer_id"), c.Param("method_id"), provider.Charge{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTransaction(tx))
}
