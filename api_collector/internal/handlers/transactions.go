package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	collectorapi "billingstack/pkg/api/collector"
)

func (h *Handlers) GetTransaction(c *gin.Context) {
	tx, err := h.svc.GetTransaction(c.Request.Context(), requestContext(c), c.Param("config_id"), c.Param("transaction_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransaction(tx))
}

func (h *Handlers) SettleTransaction(c *gin.Context) {
	tx, err := h.svc.SettleTransaction(c.Request.Context(), requestContext(c), c.Param("config_id"), c.Param("transaction_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransaction(tx))
}

func (h *Handlers) VoidTransaction(c *gin.Context) {
	tx, err := h.svc.VoidTransaction(c.Request.Context(), requestContext(c), c.Param("config_id"), c.Param("transaction_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransaction(tx))
}

// RefundTransaction accepts an empty body for a full refund.
func (h *Handlers) RefundTransaction(c *gin.Context) {
	var req collectorapi.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(c, err)
		return
	}
	tx, err := h.svc.RefundTransaction(c.Request.Context(), requestContext(c), c.Param("config_id"), c.Param("transaction_id"), req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransaction(tx))
}

// ListStuck lists entities stuck longer than ?older_than (a Go duration).
func (h *Handlers) ListStuck(c *gin.Context) {
	olderThan := h.stuckDefault
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			h.badRequest(c, err)
			return
		}
		olderThan = d
	}
	stuck, err := h.svc.ListStuck(c.Request.Context(), requestContext(c), olderThan)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, collectorapi.StuckResponse{
		OlderThan:      olderThan.String(),
		PGConfigs:      nonNil(stuck.PGConfigs),
		PaymentMethods: nonNil(stuck.PaymentMethods),
	})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
