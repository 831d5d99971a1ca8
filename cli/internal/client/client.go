// Package client is a small REST client for the collector API used by
// collectorctl.
package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	collectorapi "billingstack/pkg/api/collector"
	"billingstack/pkg/api/common"
	"billingstack/pkg/models"
)

// APIError is a non-2xx reply from the collector.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("collector returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("collector returned %d: %s", e.Status, e.Message)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the collector's /v2 API.
type Client struct {
	http *resty.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/v2").
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetError(&common.ErrorResponse{})
	if cfg.Token != "" {
		rc.SetAuthToken(cfg.Token)
	}
	return &Client{http: rc}
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	resp, err := c.http.R().SetContext(ctx).SetResult(out).Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode(), Message: strings.TrimSpace(resp.String())}
		if body, ok := resp.Error().(*common.ErrorResponse); ok && body.Error != "" {
			apiErr.Code = body.Code
			apiErr.Message = body.Error
		}
		return apiErr
	}
	return nil
}

func (c *Client) ListProviders(ctx context.Context) ([]models.PGProvider, error) {
	var out common.ListResponse[models.PGProvider]
	if err := c.do(ctx, resty.MethodGet, "/providers", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) SyncProviders(ctx context.Context) ([]models.PGProvider, error) {
	var out collectorapi.SyncProvidersResponse
	if err := c.do(ctx, resty.MethodPost, "/providers/sync", &out); err != nil {
		return nil, err
	}
	return out.Providers, nil
}

func configsPath(merchantID string) string {
	return "/merchants/" + url.PathEscape(merchantID) + "/payment-gateway-configs"
}

func (c *Client) ListPGConfigs(ctx context.Context, merchantID string) ([]models.PGConfig, error) {
	var out common.ListResponse[models.PGConfig]
	if err := c.do(ctx, resty.MethodGet, configsPath(merchantID), &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) GetPGConfig(ctx context.Context, merchantID, id string) (*models.PGConfig, error) {
	var out models.PGConfig
	if err := c.do(ctx, resty.MethodGet, configsPath(merchantID)+"/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RetryPGConfig re-runs verification for a config. Admin only.
func (c *Client) RetryPGConfig(ctx context.Context, merchantID, id string) (*models.PGConfig, error) {
	var out models.PGConfig
	if err := c.do(ctx, resty.MethodPost, configsPath(merchantID)+"/"+url.PathEscape(id)+"/retry", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelPGConfig marks a config invalid. Admin only.
func (c *Client) CancelPGConfig(ctx context.Context, merchantID, id string) (*models.PGConfig, error) {
	var out models.PGConfig
	if err := c.do(ctx, resty.MethodPost, configsPath(merchantID)+"/"+url.PathEscape(id)+"/cancel", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func methodsPath(customerID string) string {
	return "/customers/" + url.PathEscape(customerID) + "/payment-methods"
}

func (c *Client) ListPaymentMethods(ctx context.Context, customerID string) ([]models.PaymentMethod, error) {
	var out common.ListResponse[models.PaymentMethod]
	if err := c.do(ctx, resty.MethodGet, methodsPath(customerID), &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) RetryPaymentMethod(ctx context.Context, customerID, id string) (*models.PaymentMethod, error) {
	var out models.PaymentMethod
	if err := c.do(ctx, resty.MethodPost, methodsPath(customerID)+"/"+url.PathEscape(id)+"/retry", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelPaymentMethod(ctx context.Context, customerID, id string) (*models.PaymentMethod, error) {
	var out models.PaymentMethod
	if err := c.do(ctx, resty.MethodPost, methodsPath(customerID)+"/"+url.PathEscape(id)+"/cancel", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListStuck returns entities left in a non-terminal state. A zero olderThan
// uses the server default.
func (c *Client) ListStuck(ctx context.Context, olderThan time.Duration) (*collectorapi.StuckResponse, error) {
	path := "/admin/stuck"
	if olderThan > 0 {
		path += "?older_than=" + url.QueryEscape(olderThan.String())
	}
	var out collectorapi.StuckResponse
	if err := c.do(ctx, resty.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
