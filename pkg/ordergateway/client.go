// Package ordergateway talks to the order subsystem. The scheduler reads a
// single status and writes the two transitions it owns.
package ordergateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/luminstall/fieldops-backend/pkg/config"
	"github.com/luminstall/fieldops-backend/pkg/enums"
	pkgerrors "github.com/luminstall/fieldops-backend/pkg/errors"
)

const (
	defaultTimeout           = 5 * time.Second
	errorBodyReadLimit int64 = 1024
)

// Client wraps the order subsystem's HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds an order gateway client from configuration.
func NewClient(cfg config.OrderGatewayConfig, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("order gateway base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// GetOrderStatus reads the order's current lifecycle status.
func (c *Client) GetOrderStatus(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, error) {
	url := fmt.Sprintf("%s/v1/orders/%s/status", c.baseURL, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build order status request")
	}
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "order gateway unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
			WithDetails(map[string]any{"order_id": orderID})
	default:
		return "", readErrorBody(resp, "get order status")
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode order status response")
	}
	status, err := enums.ParseOrderStatus(payload.Status)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unexpected order status")
	}
	return status, nil
}

// SetOrderStatus pushes a lifecycle transition to the order subsystem. The
// remote side may reject transitions that are illegal for its state machine.
func (c *Client) SetOrderStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) error {
	payload, err := json.Marshal(map[string]string{"status": status.String()})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal order status request")
	}

	url := fmt.Sprintf("%s/v1/orders/%s/status", c.baseURL, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build order status request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "order gateway unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
			WithDetails(map[string]any{"order_id": orderID})
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return pkgerrors.New(pkgerrors.CodeOrderState, "order rejected the status transition").
			WithDetails(map[string]any{"order_id": orderID, "target_status": status.String()})
	default:
		return readErrorBody(resp, "set order status")
	}
}

func (c *Client) decorate(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}

func readErrorBody(resp *http.Response, op string) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
	return pkgerrors.Wrap(pkgerrors.CodeDependency,
		fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		op+" request failed")
}
