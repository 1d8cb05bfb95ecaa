package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultPollInterval is how often AwaitTransfer checks an attempt's status.
const DefaultPollInterval = time.Second

// Session is the wallet connection held by the server.
type Session struct {
	Account     string    `json:"account"`
	Cluster     string    `json:"cluster"`
	ConnectedAt time.Time `json:"connected_at"`
	Balance     *Balance  `json:"balance,omitempty"`
}

// Balance is an account balance. SOL is rounded to 4 decimal places.
type Balance struct {
	Account  string `json:"account,omitempty"`
	Lamports uint64 `json:"lamports"`
	SOL      string `json:"sol"`
}

// Transfer is the server's view of one transfer attempt.
type Transfer struct {
	AttemptID   string    `json:"attempt_id"`
	Account     string    `json:"account,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Lamports    uint64    `json:"lamports"`
	Amount      string    `json:"amount,omitempty"`
	State       string    `json:"state"`
	Kind        string    `json:"kind,omitempty"`
	Status      string    `json:"status"`
	Signature   string    `json:"signature,omitempty"`
	Details     string    `json:"details,omitempty"`
	ExplorerURL string    `json:"explorer_url,omitempty"`
	Balance     *Balance  `json:"balance,omitempty"`
	Terminal    bool      `json:"terminal"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Succeeded reports whether the attempt was finalized.
func (t *Transfer) Succeeded() bool {
	return t != nil && t.State == "succeeded"
}

// Approval is a signing or connection request waiting on the wallet owner.
type Approval struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Account   string    `json:"account"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client is the HTTP client for the solsend server.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	logger       *slog.Logger
	pollInterval time.Duration
}

// NewClient creates a new solsend client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:      baseURL,
		httpClient:   httpClient,
		logger:       logger,
		pollInterval: DefaultPollInterval,
	}
}

// WithPollInterval sets how often AwaitTransfer polls.
func (c *Client) WithPollInterval(d time.Duration) *Client {
	if d > 0 {
		c.pollInterval = d
	}
	return c
}

// Connect asks the server to connect its wallet. With onlyIfTrusted the wallet
// connects only if it was approved before, without prompting.
func (c *Client) Connect(ctx context.Context, onlyIfTrusted bool) (*Session, error) {
	var s Session
	err := c.do(ctx, http.MethodPost, "/api/v1/session", map[string]any{
		"only_if_trusted": onlyIfTrusted,
	}, &s, http.StatusOK, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("wallet connected", "account", s.Account)
	return &s, nil
}

// Disconnect drops the server's wallet session.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/session", nil, nil, http.StatusNoContent)
}

// Session returns the current wallet session.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/session", nil, &s, http.StatusOK); err != nil {
		return nil, err
	}
	return &s, nil
}

// Balance refreshes the connected account's balance.
func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	var b Balance
	if err := c.do(ctx, http.MethodGet, "/api/v1/balance", nil, &b, http.StatusOK); err != nil {
		return nil, err
	}
	return &b, nil
}

// Transfer starts a transfer of amount SOL to destination and returns the
// attempt as first reported. The attempt continues on the server.
func (c *Client) Transfer(ctx context.Context, destination, amount string) (*Transfer, error) {
	var t Transfer
	err := c.do(ctx, http.MethodPost, "/api/v1/transfers", map[string]any{
		"to":     destination,
		"amount": amount,
	}, &t, http.StatusAccepted)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("transfer started", "attempt_id", t.AttemptID, "destination", destination)
	return &t, nil
}

// GetTransfer returns an attempt's current status.
func (c *Client) GetTransfer(ctx context.Context, attemptID string) (*Transfer, error) {
	var t Transfer
	if err := c.do(ctx, http.MethodGet, "/api/v1/transfers/"+url.PathEscape(attemptID), nil, &t, http.StatusOK); err != nil {
		return nil, err
	}
	return &t, nil
}

// AwaitTransfer polls an attempt until it reaches a terminal state or ctx is done.
// onUpdate, if set, is called whenever the state changes.
func (c *Client) AwaitTransfer(ctx context.Context, attemptID string, onUpdate func(*Transfer)) (*Transfer, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var lastState string
	for {
		t, err := c.GetTransfer(ctx, attemptID)
		if err != nil {
			return nil, err
		}
		if t.State != lastState {
			lastState = t.State
			c.logger.Debug("transfer state changed", "attempt_id", attemptID, "state", t.State)
			if onUpdate != nil {
				onUpdate(t)
			}
		}
		if t.Terminal {
			return t, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for transfer %s: %w", attemptID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ListTransfers returns recorded attempts for account, newest first. An empty
// account means the connected one.
func (c *Client) ListTransfers(ctx context.Context, account string, limit, offset int) ([]*Transfer, error) {
	q := url.Values{}
	if account != "" {
		q.Set("account", account)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/transfers"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var response struct {
		Transfers []*Transfer `json:"transfers"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &response, http.StatusOK); err != nil {
		return nil, err
	}
	return response.Transfers, nil
}

// ListApprovals returns requests waiting on the wallet owner.
func (c *Client) ListApprovals(ctx context.Context) ([]Approval, error) {
	var response struct {
		Approvals []Approval `json:"approvals"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/approvals", nil, &response, http.StatusOK); err != nil {
		return nil, err
	}
	return response.Approvals, nil
}

// Decide approves or declines a pending request.
func (c *Client) Decide(ctx context.Context, id string, approve bool) error {
	err := c.do(ctx, http.MethodPost, "/api/v1/approvals/"+url.PathEscape(id), map[string]any{
		"approve": approve,
	}, nil, http.StatusOK)
	if err != nil {
		return err
	}
	c.logger.Debug("approval decided", "id", id, "approved", approve)
	return nil
}

// do sends a JSON request and decodes the response into out when it is non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any, want ...int) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range want {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return c.parseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
