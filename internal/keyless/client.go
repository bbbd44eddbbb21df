// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package keyless is the HTTP client for the remote keyless-access service.
// It performs no retries and does not interpret failure statuses: any
// unsuccessful call comes back as an *errs.RemoteError carrying the status
// and the raw body.
package keyless

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/model"
)

const (
	// DefaultBaseURL is the production service endpoint.
	DefaultBaseURL = "https://keyless.geotab.com/api"

	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 1 << 20 // 1MiB
	errorBodyLimit     = 4096
)

// Config configures the remote client.
type Config struct {
	// BaseURL is the service root, e.g. https://keyless.geotab.com/api.
	BaseURL string
	// HTTPClient executes requests. When nil a client with Timeout is used.
	HTTPClient *http.Client
	// Timeout applies when HTTPClient is nil or has no timeout of its own.
	Timeout time.Duration
	// MaxBodyBytes caps success response bodies.
	MaxBodyBytes int64
}

// Client talks to the remote keyless-access service.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	maxBodyBytes int64
}

// New creates a client after validating the base URL.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("keyless: BaseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("keyless: BaseURL must be a valid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("keyless: BaseURL scheme must be http or https")
	}
	if parsed.User != nil {
		return nil, fmt.Errorf("keyless: BaseURL must not include user info")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if client.Timeout == 0 {
		client.Timeout = timeout
	}

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodySize
	}

	return &Client{baseURL: baseURL, httpClient: client, maxBodyBytes: maxBodyBytes}, nil
}

// BaseURL returns the normalised service root.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) keysURL(tenant, serial string) string {
	return c.baseURL + "/tenants/" + url.PathEscape(tenant) + "/devices/" + url.PathEscape(serial) + "/virtual-keys"
}

func checkSession(token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("keyless: %w", errs.ErrNoSession)
	}
	return nil
}

func checkDevice(tenant, serial string) error {
	if strings.TrimSpace(tenant) == "" {
		return errs.Validationf("tenant is required")
	}
	if strings.TrimSpace(serial) == "" {
		return errs.Validationf("serial number is required")
	}
	return nil
}

// ListStoredKeys returns the keys the service currently stores for a device.
func (c *Client) ListStoredKeys(ctx context.Context, tenant, serial, token string) ([]model.KeyRecord, error) {
	const op = "list keys"
	if err := checkSession(token); err != nil {
		return nil, err
	}
	if err := checkDevice(tenant, serial); err != nil {
		return nil, err
	}

	body, status, err := c.do(ctx, op, http.MethodGet, c.keysURL(tenant, serial)+"?virtualKeysFilter=Stored", token, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &errs.RemoteError{Op: op, StatusCode: status, Body: string(body)}
	}
	if !gjson.ValidBytes(body) {
		return nil, &errs.RemoteError{Op: op, StatusCode: status, Body: "malformed response: " + errs.Truncate(string(body), errs.DetailLimit)}
	}

	var out []model.KeyRecord
	for _, vk := range gjson.GetBytes(body, "virtualKeys").Array() {
		rec, ok := parseKeyRecord(vk)
		if !ok {
			return nil, &errs.RemoteError{Op: op, StatusCode: status, Body: "key without virtualKeyId: " + errs.Truncate(vk.Raw, errs.DetailLimit)}
		}
		out = append(out, rec)
	}
	return out, nil
}

// CreateKey issues a key on the device with the given configuration object
// and returns the record the service assigned.
func (c *Client) CreateKey(ctx context.Context, tenant, serial, token string, config json.RawMessage) (model.KeyRecord, error) {
	const op = "create key"
	if err := checkSession(token); err != nil {
		return model.KeyRecord{}, err
	}
	if err := checkDevice(tenant, serial); err != nil {
		return model.KeyRecord{}, err
	}
	if len(bytes.TrimSpace(config)) == 0 {
		config = json.RawMessage("{}")
	}
	if !json.Valid(config) {
		return model.KeyRecord{}, errs.Validationf("key configuration is not valid JSON")
	}

	body, status, err := c.do(ctx, op, http.MethodPost, c.keysURL(tenant, serial), token, config)
	if err != nil {
		return model.KeyRecord{}, err
	}
	if status < 200 || status > 299 {
		return model.KeyRecord{}, &errs.RemoteError{Op: op, StatusCode: status, Body: string(body)}
	}
	rec, ok := parseKeyRecord(gjson.ParseBytes(body))
	if !ok {
		return model.KeyRecord{}, &errs.RemoteError{Op: op, StatusCode: status, Body: "response without virtualKeyId: " + errs.Truncate(string(body), errs.DetailLimit)}
	}
	return rec, nil
}

// DeleteKey removes one key. Only 200, 202 and 204 count as success.
func (c *Client) DeleteKey(ctx context.Context, tenant, serial, vkID, token string) error {
	const op = "delete key"
	if err := checkSession(token); err != nil {
		return err
	}
	if err := checkDevice(tenant, serial); err != nil {
		return err
	}
	if strings.TrimSpace(vkID) == "" {
		return errs.Validationf("virtual key id is required")
	}

	body, status, err := c.do(ctx, op, http.MethodDelete, c.keysURL(tenant, serial)+"/"+url.PathEscape(vkID), token, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	}
	return &errs.RemoteError{Op: op, StatusCode: status, Body: string(body)}
}

// Authenticate exchanges credentials for a bearer token.
func (c *Client) Authenticate(ctx context.Context, database, username, password string) (string, error) {
	const op = "authenticate"
	if strings.TrimSpace(database) == "" || strings.TrimSpace(username) == "" {
		return "", errs.Validationf("database and username are required")
	}
	payload, err := json.Marshal(map[string]string{
		"database": database,
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", fmt.Errorf("keyless: encode credentials: %w", err)
	}

	body, status, err := c.do(ctx, op, http.MethodPost, c.baseURL+"/auth", "", payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &errs.RemoteError{Op: op, StatusCode: status, Body: string(body)}
	}
	token := gjson.GetBytes(body, "accessToken").String()
	if token == "" {
		return "", &errs.RemoteError{Op: op, StatusCode: status, Body: "response without accessToken"}
	}
	return token, nil
}

// do executes one request. A transport failure is reported as a
// RemoteError with status 0. Non-2xx bodies are read up to errorBodyLimit.
func (c *Client) do(ctx context.Context, op, method, endpoint, token string, payload []byte) ([]byte, int, error) {
	var reqBody io.Reader = http.NoBody
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("keyless: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &errs.RemoteError{Op: op, Body: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	limit := c.maxBodyBytes
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		limit = errorBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, resp.StatusCode, &errs.RemoteError{Op: op, StatusCode: resp.StatusCode, Body: "read response: " + err.Error()}
	}
	return body, resp.StatusCode, nil
}

func parseKeyRecord(vk gjson.Result) (model.KeyRecord, bool) {
	id := vk.Get("virtualKeyId")
	if !id.Exists() || id.String() == "" {
		return model.KeyRecord{}, false
	}
	rec := model.KeyRecord{VirtualKeyID: id.String()}
	if ref := vk.Get("userReference"); ref.Exists() && ref.Type != gjson.Null {
		s := ref.String()
		rec.UserReference = &s
	}
	if ts := vk.Get("endingTimestamp"); ts.Exists() && ts.Type != gjson.Null {
		n := ts.Int()
		rec.EndingTimestamp = &n
	}
	return rec, true
}
