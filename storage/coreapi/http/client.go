// Package http implements a coreapi.TransactionSource reading the committed
// transaction stream of a node over its JSON core API.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

const (
	moduleName = "coreapi_http"

	streamTransactionsPath = "/stream/transactions"
	networkStatusPath      = "/status/network-status"

	// Upper bound on a single response body; a full page of large
	// transactions stays well below this.
	maxResponseBytes = 512 << 20
)

// Client reads the committed transaction stream from a node.
type Client struct {
	baseURL string
	network string
	http    *http.Client
	logger  *log.Logger
}

var _ coreapi.TransactionSource = (*Client)(nil)

// NewClient creates a client for the core API rooted at baseURL.
func NewClient(baseURL string, network string, timeout time.Duration, logger *log.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("core api url must not be empty")
	}
	if network == "" {
		return nil, fmt.Errorf("network name must not be empty")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		network: network,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.WithModule(moduleName).With("url", baseURL),
	}, nil
}

type streamTransactionsRequest struct {
	Network          string `json:"network"`
	FromStateVersion int64  `json:"from_state_version"`
	Limit            int    `json:"limit"`
}

type streamTransactionsResponse struct {
	FromStateVersion      int64                          `json:"from_state_version"`
	Count                 int                            `json:"count"`
	MaxLedgerStateVersion int64                          `json:"max_ledger_state_version"`
	Transactions          []coreapi.CommittedTransaction `json:"transactions"`
}

type networkStatusRequest struct {
	Network string `json:"network"`
}

type networkStatusResponse struct {
	CurrentStateIdentifier struct {
		StateVersion int64 `json:"state_version"`
	} `json:"current_state_identifier"`
}

// errorResponse is the error body returned by the core API.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) post(ctx context.Context, path string, request interface{}, response interface{}) error {
	body, err := json.Marshal(request)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("POST %s: reading body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("POST %s: %s (code %d)", path, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("POST %s: unexpected status %s", path, resp.Status)
	}
	if err := json.Unmarshal(payload, response); err != nil {
		return fmt.Errorf("POST %s: decoding response: %w", path, err)
	}
	return nil
}

// Transactions implements coreapi.TransactionSource.
func (c *Client) Transactions(ctx context.Context, fromStateVersion int64, limit int) ([]coreapi.CommittedTransaction, error) {
	var resp streamTransactionsResponse
	if err := c.post(ctx, streamTransactionsPath, streamTransactionsRequest{
		Network:          c.network,
		FromStateVersion: fromStateVersion,
		Limit:            limit,
	}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Transactions) > 0 && resp.Transactions[0].StateVersion() != fromStateVersion {
		return nil, fmt.Errorf("node returned transactions from state version %d, requested %d",
			resp.Transactions[0].StateVersion(), fromStateVersion)
	}
	c.logger.Debug("fetched transactions",
		"from_state_version", fromStateVersion,
		"count", len(resp.Transactions),
		"max_ledger_state_version", resp.MaxLedgerStateVersion,
	)
	return resp.Transactions, nil
}

// LatestStateVersion implements coreapi.TransactionSource.
func (c *Client) LatestStateVersion(ctx context.Context) (int64, error) {
	var resp networkStatusResponse
	if err := c.post(ctx, networkStatusPath, networkStatusRequest{Network: c.network}, &resp); err != nil {
		return 0, err
	}
	return resp.CurrentStateIdentifier.StateVersion, nil
}

// Close implements coreapi.TransactionSource.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
