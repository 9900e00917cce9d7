// Package directory talks to the installer directory service, which owns
// installer identities and their availability flag.
package directory

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
	"github.com/luminstall/fieldops-backend/pkg/db/models"
	"github.com/luminstall/fieldops-backend/pkg/enums"
	pkgerrors "github.com/luminstall/fieldops-backend/pkg/errors"
)

const (
	defaultTimeout             = 5 * time.Second
	errorBodyReadLimit   int64 = 1024
	installerAPIKeyField       = "X-Api-Key"
)

// Client wraps the directory HTTP API.
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

// NewClient builds a directory client from configuration.
func NewClient(cfg config.DirectoryConfig, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("directory base url is required")
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

// GetInstaller resolves a single installer by id.
func (c *Client) GetInstaller(ctx context.Context, installerID uuid.UUID) (*models.Installer, error) {
	url := fmt.Sprintf("%s/v1/installers/%s", c.baseURL, installerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build installer request")
	}
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "installer directory unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "installer not found").
			WithDetails(map[string]any{"installer_id": installerID})
	default:
		return nil, readErrorBody(resp, "get installer")
	}

	var installer models.Installer
	if err := json.NewDecoder(resp.Body).Decode(&installer); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode installer response")
	}
	return &installer, nil
}

// SetAvailability toggles an installer's availability flag. The operation is
// idempotent on the directory side.
func (c *Client) SetAvailability(ctx context.Context, installerID uuid.UUID, availability enums.InstallerAvailability) error {
	payload, err := json.Marshal(map[string]string{"availability": availability.String()})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal availability request")
	}

	url := fmt.Sprintf("%s/v1/installers/%s/availability", c.baseURL, installerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build availability request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "installer directory unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return pkgerrors.New(pkgerrors.CodeNotFound, "installer not found").
			WithDetails(map[string]any{"installer_id": installerID})
	default:
		return readErrorBody(resp, "set availability")
	}
}

func (c *Client) decorate(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set(installerAPIKeyField, c.apiKey)
	}
}

func readErrorBody(resp *http.Response, op string) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
	return pkgerrors.Wrap(pkgerrors.CodeDependency,
		fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		op+" request failed")
}
