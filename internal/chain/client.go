// Package chain talks to the blockchain fullnode: epoch reads for ephemeral
// key validity bounds and submission of signed transactions. The client is an
// explicitly constructed collaborator, injected wherever it is needed.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/EdisonARUI/Membership-MVP-sub000/pkg/models"
)

// ErrTransactionExecution is a node-reported rejection, distinct from a
// transport failure reaching the node.
var ErrTransactionExecution = errors.New("transaction rejected by node")

type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
	nextID     atomic.Uint64
}

func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// CurrentEpoch reads the network's current epoch.
func (c *Client) CurrentEpoch(ctx context.Context) (uint64, error) {
	var result struct {
		Epoch string `json:"epoch"`
	}
	if err := c.call(ctx, "suix_getLatestSuiSystemState", nil, &result); err != nil {
		return 0, err
	}
	epoch, err := strconv.ParseUint(result.Epoch, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("node returned unparseable epoch %q: %w", result.Epoch, err)
	}
	return epoch, nil
}

// ExecuteTransaction submits base64 transaction bytes with the composite
// signature and waits for local execution effects.
func (c *Client) ExecuteTransaction(ctx context.Context, txBytesB64, signature string) (*models.ExecutionResult, error) {
	var result struct {
		Digest  string `json:"digest"`
		Effects struct {
			Status struct {
				Status string `json:"status"`
				Error  string `json:"error"`
			} `json:"status"`
		} `json:"effects"`
	}
	params := []any{
		txBytesB64,
		[]string{signature},
		nil,
		"WaitForLocalExecution",
	}
	if err := c.call(ctx, "sui_executeTransactionBlock", params, &result); err != nil {
		return nil, err
	}

	out := &models.ExecutionResult{
		Digest: result.Digest,
		Status: result.Effects.Status.Status,
		Error:  result.Effects.Status.Error,
	}
	if out.Status != "success" {
		return out, fmt.Errorf("%w: %s", ErrTransactionExecution, out.Error)
	}
	c.logger.Info("transaction executed", "digest", out.Digest)
	return out, nil
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("node request %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("node response %s: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("node returned http %d for %s", resp.StatusCode, method)
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("node response %s: %w", method, err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("node error for %s: %s (code %d)", method, parsed.Error.Message, parsed.Error.Code)
	}
	return json.Unmarshal(parsed.Result, out)
}
