// Package qingping talks to the Qingping (Cleargrass) developer API:
// OAuth client-credentials token acquisition, device listing, history
// fetches and device settings mutations.
package qingping

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"airsense-backend/config"
	"airsense-backend/internal/apperr"
)

// Token is an acquired OAuth access token with its absolute expiry.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Client is a stateless HTTP wrapper over the provider API. It holds no
// tenant credentials; callers pass tokens per request.
type Client struct {
	httpClient *http.Client
	oauthURL   string
	baseURL    string
	now        func() time.Time
}

// NewClient creates a provider client from the sync configuration.
func NewClient(cfg *config.SyncConfig) *Client {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			slog.Warn("invalid proxy URL, provider client will not use a proxy",
				"proxy", cfg.HTTPProxy, "error", err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		oauthURL: cfg.QingpingOAuthURL,
		baseURL:  strings.TrimRight(cfg.QingpingAPIBaseURL, "/"),
		now:      time.Now,
	}
}

// GetAccessToken performs the client-credentials OAuth exchange. The
// returned expiry is computed as now plus the server-reported lifetime.
func (c *Client) GetAccessToken(ctx context.Context, appKey, appSecret string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "device_full_access")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(appKey + ":" + appSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Authf("provider rejected credentials (status %d)", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, apperr.Authf("provider returned an empty access token")
	}

	return &Token{
		AccessToken: tr.AccessToken,
		ExpiresAt:   c.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// deviceListKeys are the payload keys observed to carry the device array,
// checked in priority order. Upstream responses have varied over time.
var deviceListKeys = []string{"devices", "deviceList", "data"}

// ListDevices fetches all devices visible to the access token.
func (c *Client) ListDevices(ctx context.Context, accessToken string) ([]RawDevice, error) {
	body, err := c.get(ctx, accessToken, "/devices")
	if err != nil {
		return nil, err
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device list: %w", err)
	}

	for _, key := range deviceListKeys {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		var devices []RawDevice
		if err := json.Unmarshal(raw, &devices); err != nil {
			continue
		}
		return devices, nil
	}
	return nil, apperr.APIf(0, "device list response carried no recognizable device array")
}

// GetHistoryData fetches historical samples for one device. Start and
// end are unix seconds, which is what the provider expects.
func (c *Client) GetHistoryData(ctx context.Context, accessToken, mac string, startTs, endTs int64) (*HistoryResponse, error) {
	path := fmt.Sprintf("/devices/data?mac=%s&start_time=%d&end_time=%d", url.QueryEscape(mac), startTs, endTs)
	body, err := c.get(ctx, accessToken, path)
	if err != nil {
		return nil, err
	}

	var hr HistoryResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history response: %w", err)
	}
	return &hr, nil
}

// UpdateDeviceSettings changes a device's report and collect intervals.
// A success response may carry an empty body.
func (c *Client) UpdateDeviceSettings(ctx context.Context, accessToken, mac string, reportIntervalSecs, collectIntervalSecs int) error {
	payload := map[string]any{
		"mac":              []string{mac},
		"report_interval":  reportIntervalSecs,
		"collect_interval": collectIntervalSecs,
	}
	return c.postEmptyOK(ctx, accessToken, "/devices/settings", payload)
}

// UnbindDevice releases a device from the provider account. A success
// response may carry an empty body.
func (c *Client) UnbindDevice(ctx context.Context, accessToken, mac string) error {
	payload := map[string]any{"mac": []string{mac}}
	return c.postEmptyOK(ctx, accessToken, "/devices/unbind", payload)
}

func (c *Client) get(ctx context.Context, accessToken, path string) ([]byte, error) {
	// The provider requires a cache-busting timestamp on every call.
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	fullURL := fmt.Sprintf("%s%s%stimestamp=%d", c.baseURL, path, sep, c.now().UnixMilli())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.APIf(resp.StatusCode, "provider request %s failed", path)
	}
	return body, nil
}

func (c *Client) postEmptyOK(ctx context.Context, accessToken, path string, payload any) error {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request payload: %w", err)
	}

	fullURL := fmt.Sprintf("%s%s?timestamp=%d", c.baseURL, path, c.now().UnixMilli())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain the body; not every success response carries JSON.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.APIf(resp.StatusCode, "provider request %s failed", path)
	}
	return nil
}
