package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024
)

// Provider error codes surfaced in the JSON error envelope.
const (
	errCodeMutationDuringPagination = "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION"
	errCodeInvalidCredential        = "INVALID_CREDENTIAL"
)

// HTTPClient is the JSON-over-HTTP implementation of Client. Provider
// authentication rides in the request body, matching the aggregation vendors
// this service fronts.
type HTTPClient struct {
	client   *http.Client
	baseURL  string
	clientID string
	secret   string
	pageSize int
	logger   ectologger.Logger
}

// HTTPConfig holds HTTP provider client configuration.
type HTTPConfig struct {
	BaseURL  string
	ClientID string
	Secret   string
	Timeout  time.Duration

	// PageSize caps how many transactions one sync page carries. Zero leaves
	// the provider's own default in effect.
	PageSize int
}

func NewHTTPClient(cfg HTTPConfig, logger ectologger.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    100,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		baseURL:  cfg.BaseURL,
		clientID: cfg.ClientID,
		secret:   cfg.Secret,
		pageSize: cfg.PageSize,
		logger:   logger,
	}
}

type apiError struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("provider error %s: %s", e.ErrorCode, e.ErrorMessage)
}

func (c *HTTPClient) ExchangeToken(ctx context.Context, temporaryToken string) (*ExchangeResult, error) {
	var result ExchangeResult
	err := c.post(ctx, "/link/token/exchange", map[string]any{
		"temporary_token": temporaryToken,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) GetItem(ctx context.Context, credential Credential) (*ItemMetadata, error) {
	var result ItemMetadata
	err := c.post(ctx, "/item/get", map[string]any{
		"credential": credential,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) GetAccounts(ctx context.Context, credential Credential) ([]Account, error) {
	var result struct {
		Accounts []Account `json:"accounts"`
	}
	err := c.post(ctx, "/accounts/get", map[string]any{
		"credential": credential,
	}, &result)
	if err != nil {
		return nil, err
	}
	return result.Accounts, nil
}

func (c *HTTPClient) SyncTransactions(ctx context.Context, credential Credential, cursor *string) (*SyncPage, error) {
	body := map[string]any{
		"credential": credential,
	}
	if cursor != nil {
		body["cursor"] = *cursor
	}
	if c.pageSize > 0 {
		body["count"] = c.pageSize
	}

	var page SyncPage
	if err := c.post(ctx, "/transactions/sync", body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) RevokeCredential(ctx context.Context, credential Credential) error {
	return c.post(ctx, "/item/remove", map[string]any{
		"credential": credential,
	}, nil)
}

func (c *HTTPClient) CreateLinkSession(ctx context.Context, sctx SessionContext) (*LinkSession, error) {
	body := map[string]any{
		"client_user_id": sctx.ClientID,
	}
	if sctx.UpdateExternalItemID != "" {
		body["update_external_item_id"] = sctx.UpdateExternalItemID
		body["account_selection_enabled"] = true
	}
	if sctx.WebhookURL != "" {
		body["webhook_url"] = sctx.WebhookURL
	}
	if sctx.RedirectURL != "" {
		body["redirect_url"] = sctx.RedirectURL
	}

	var session LinkSession
	if err := c.post(ctx, "/link/session/create", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *HTTPClient) FireTestWebhook(ctx context.Context, credential Credential, code string) error {
	return c.post(ctx, "/sandbox/webhook/fire", map[string]any{
		"credential":   credential,
		"webhook_code": code,
	}, nil)
}

func (c *HTTPClient) post(ctx context.Context, path string, body map[string]any, out any) error {
	ctx, span := tracing.StartSpan(ctx, "provider.HTTPClient.post")
	defer span.End()

	body["client_id"] = c.clientID
	body["secret"] = c.secret

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Errorf("provider request failed: POST %s", path)
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debugf("provider call completed")

	if resp.StatusCode >= 400 {
		return c.toError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}

// toError maps the provider's JSON error envelope onto the typed errors the
// engines branch on.
func (c *HTTPClient) toError(status int, data []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.ErrorCode == "" {
		return fmt.Errorf("provider returned status %d", status)
	}

	switch apiErr.ErrorCode {
	case errCodeMutationDuringPagination:
		return fmt.Errorf("%w: %s", ErrSyncMutationDuringPagination, apiErr.ErrorMessage)
	case errCodeInvalidCredential:
		return fmt.Errorf("%w: %s", ErrInvalidCredential, apiErr.ErrorMessage)
	}
	return &apiErr
}
