package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	collectorapi "billingstack/pkg/api/collector"
	"billingstack/pkg/api/common"
	"billingstack/pkg/logging"
	"billingstack/pkg/middleware"
	"billingstack/pkg/models"
)

// CreatePGConfig creates and verifies a gateway config. The response carries
// the row as stored after verification.
func (h *Handlers) CreatePGConfig(c *gin.Context) {
	var req collectorapi.CreatePGConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	values := models.PGConfigValues{
		Name:       req.Name,
		Title:      req.Title,
		MerchantID: c.Param("merchant_id"),
		ProviderID: req.ProviderID,
		Properties: req.Properties,
	}
	cfg, err := h.svc.CreatePGConfig(c.Request.Context(), requestContext(c), values)
	if err != nil {
		h.fail(c, err)
		return
	}
	middleware.GetContextLogger(c, h.logger).WithFields(logging.Fields{
		"pg_config_id": cfg.ID,
		"state":        cfg.State,
	}).Info("Gateway config created")
	c.JSON(http.StatusCreated, cfg)
}

func (h *Handlers) ListPGConfigs(c *gin.Context) {
	cfgs, err := h.svc.ListPGConfigs(c.Request.Context(), c.Param("merchant_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewListResponse(cfgs))
}

func (h *Handlers) GetPGConfig(c *gin.Context) {
	cfg, err := h.svc.GetPGConfig(c.Request.Context(), c.Param("merchant_id"), c.Param("config_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handlers) DeletePGConfig(c *gin.Context) {
	if err := h.svc.DeletePGConfig(c.Request.Context(), c.Param("merchant_id"), c.Param("config_id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) RetryPGConfig(c *gin.Context) {
	h.reconcilePGConfig(c, h.svc.RetryPGConfig)
}

func (h *Handlers) CancelPGConfig(c *gin.Context) {
	h.reconcilePGConfig(c, h.svc.CancelPGConfig)
}

// reconcilePGConfig checks the config belongs to the merchant, then runs action.
func (h *Handlers) reconcilePGConfig(c *gin.Context, action func(context.Context, models.RequestContext, string) (*models.PGConfig, error)) {
	ctx := c.Request.Context()
	cfg, err := h.svc.GetPGConfig(ctx, c.Param("merchant_id"), c.Param("config_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	cfg, err = action(ctx, requestContext(c), cfg.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}
