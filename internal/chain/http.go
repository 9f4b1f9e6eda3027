package chain

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPConfig tunes the gateway client. Zero values fall back to defaults
// sized for a polling workload with persistent connections.
type HTTPConfig struct {
	BaseURL             string
	APIKey              string
	ConnectTimeout      time.Duration
	RequestTimeout      time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	ConfirmPollInterval time.Duration
}

func (c *HTTPConfig) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 100
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = 10
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = 90 * time.Second
	}
	if c.ConfirmPollInterval <= 0 {
		c.ConfirmPollInterval = 5 * time.Second
	}
}

type HTTPClient struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	cfg.applyDefaults()
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
	}
}

func (c *HTTPClient) AddressBalance(ctx context.Context, address, asset string) (decimal.Decimal, error) {
	var out struct {
		Balance decimal.Decimal `json:"balance"`
	}
	path := fmt.Sprintf("/v1/addresses/%s/balance?asset=%s", url.PathEscape(address), url.QueryEscape(asset))
	if err := c.get(ctx, path, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Balance, nil
}

func (c *HTTPClient) IncomingTransfers(ctx context.Context, address, asset string, lookbackBlocks int64) ([]Transfer, error) {
	var out struct {
		Transfers []Transfer `json:"transfers"`
	}
	path := fmt.Sprintf("/v1/addresses/%s/transfers?asset=%s&lookback_blocks=%d",
		url.PathEscape(address), url.QueryEscape(asset), lookbackBlocks)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Transfers, nil
}

func (c *HTTPClient) Confirmations(ctx context.Context, txHash string) (int64, error) {
	var out struct {
		Status        TxStatus `json:"status"`
		Confirmations int64    `json:"confirmations"`
	}
	if err := c.get(ctx, "/v1/transactions/"+url.PathEscape(txHash), &out); err != nil {
		return 0, err
	}
	if out.Status == TxStatusNotFound {
		return 0, fmt.Errorf("%w: %s", ErrTxNotFound, txHash)
	}
	return out.Confirmations, nil
}

func (c *HTTPClient) Submit(ctx context.Context, asset, toAddress string, amount decimal.Decimal) (string, error) {
	body := map[string]string{
		"asset":  asset,
		"to":     toAddress,
		"amount": amount.String(),
	}
	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := c.post(ctx, "/v1/transfers", body, &out); err != nil {
		return "", err
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("gateway returned empty tx hash")
	}
	return out.TxHash, nil
}

func (c *HTTPClient) WaitConfirmed(ctx context.Context, txHash string, required int64) error {
	ticker := time.NewTicker(c.cfg.ConfirmPollInterval)
	defer ticker.Stop()
	for {
		status, err := c.TransactionStatus(ctx, txHash)
		if err != nil {
			return err
		}
		switch status {
		case TxStatusReverted:
			return fmt.Errorf("%w: %s", ErrTxReverted, txHash)
		case TxStatusConfirmed:
			confs, err := c.Confirmations(ctx, txHash)
			if err != nil {
				return err
			}
			if confs >= required {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s after %d confirmations required", ErrConfirmTimeout, txHash, required)
		case <-ticker.C:
		}
	}
}

func (c *HTTPClient) TransactionStatus(ctx context.Context, txHash string) (TxStatus, error) {
	var out struct {
		Status TxStatus `json:"status"`
	}
	if err := c.get(ctx, "/v1/transactions/"+url.PathEscape(txHash), &out); err != nil {
		return "", err
	}
	if out.Status == "" {
		out.Status = TxStatusNotFound
	}
	return out.Status, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("wallet gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", ErrTxNotFound, method, path)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("wallet gateway %s %s: status %d %s", method, path, resp.StatusCode, apiErr.Message)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
