package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/brojonat/solsend/service/db"
	"github.com/brojonat/solsend/service/transfer"
	"github.com/brojonat/solsend/service/wallet"
	"github.com/google/uuid"
)

const (
	maxRequestBodySize = 1 << 16 // 64KB - plenty for a transfer request
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// TransferStore is the read side of the transfer history.
type TransferStore interface {
	GetTransfer(ctx context.Context, id uuid.UUID) (*db.Transfer, error)
	ListTransfersByAccount(ctx context.Context, params db.ListTransfersByAccountParams) ([]*db.Transfer, error)
}

// sessionHolder owns the single wallet session this server drives.
type sessionHolder struct {
	mu      sync.Mutex
	session *transfer.Session
}

func (h *sessionHolder) get() (*transfer.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.session.Active() {
		return nil, false
	}
	return h.session, true
}

func (h *sessionHolder) set(s *transfer.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = s
}

func (h *sessionHolder) take() *transfer.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.session
	h.session = nil
	return s
}

type connectRequest struct {
	OnlyIfTrusted bool `json:"only_if_trusted"`
}

type sessionResponse struct {
	Account     string            `json:"account"`
	Cluster     string            `json:"cluster"`
	ConnectedAt time.Time         `json:"connected_at"`
	Balance     *transfer.Balance `json:"balance,omitempty"`
}

func toSessionResponse(s *transfer.Session, cluster string) sessionResponse {
	resp := sessionResponse{
		Account:     s.Account.String(),
		Cluster:     cluster,
		ConnectedAt: s.ConnectedAt,
	}
	if b, ok := s.Balance(); ok {
		resp.Balance = &b
	}
	return resp
}

// handleConnect returns a handler that connects the wallet and loads its balance.
// POST /api/v1/session
// Blocks until the wallet owner approves the connection.
func handleConnect(holder *sessionHolder, provider wallet.Provider, ledger transfer.Ledger, cluster string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s, ok := holder.get(); ok {
			writeJSON(w, toSessionResponse(s, cluster), http.StatusOK)
			return
		}

		var req connectRequest
		if r.ContentLength != 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, "invalid request body", http.StatusBadRequest)
				return
			}
		}

		s, err := transfer.Connect(r.Context(), provider, ledger, wallet.ConnectOptions{OnlyIfTrusted: req.OnlyIfTrusted})
		if err != nil {
			logger.WarnContext(r.Context(), "wallet connection failed", "error", err)
			if wallet.IsUserRejected(err) {
				writeError(w, "Wallet connection failed: "+wallet.ErrUserRejected.Error(), http.StatusForbidden)
				return
			}
			writeError(w, "Wallet connection failed", http.StatusBadGateway)
			return
		}
		holder.set(s)

		logger.InfoContext(r.Context(), "wallet connected", "account", s.Account.String())
		writeJSON(w, toSessionResponse(s, cluster), http.StatusCreated)
	})
}

// handleDisconnect returns a handler that ends the wallet session.
// DELETE /api/v1/session
func handleDisconnect(holder *sessionHolder, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := holder.take()
		if s != nil {
			if err := s.Disconnect(r.Context()); err != nil {
				logger.ErrorContext(r.Context(), "failed to disconnect wallet", "error", err)
				writeError(w, "failed to disconnect wallet", http.StatusInternalServerError)
				return
			}
			logger.InfoContext(r.Context(), "wallet disconnected", "account", s.Account.String())
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleGetSession returns a handler that reports the connected account.
// GET /api/v1/session
func handleGetSession(holder *sessionHolder, cluster string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := holder.get()
		if !ok {
			writeError(w, "wallet not connected", http.StatusNotFound)
			return
		}
		writeJSON(w, toSessionResponse(s, cluster), http.StatusOK)
	})
}

// handleBalance returns a handler that refreshes the connected account's balance.
// GET /api/v1/balance
func handleBalance(holder *sessionHolder, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := holder.get()
		if !ok {
			writeError(w, "Connect wallet first", http.StatusBadRequest)
			return
		}

		b, err := s.RefreshBalance(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to refresh balance", "account", s.Account.String(), "error", err)
			writeError(w, "failed to fetch balance", http.StatusBadGateway)
			return
		}

		writeJSON(w, map[string]any{
			"account":  s.Account.String(),
			"lamports": b.Lamports,
			"sol":      b.String(),
		}, http.StatusOK)
	})
}

// amountParam accepts the amount as a JSON string or number and keeps its text.
type amountParam string

func (a *amountParam) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = amountParam(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a string or number")
	}
	*a = amountParam(n.String())
	return nil
}

type createTransferRequest struct {
	To     string      `json:"to"`
	Amount amountParam `json:"amount"`
}

// handleCreateTransfer returns a handler that starts a transfer attempt.
// POST /api/v1/transfers
// Responds 202 with the attempt id; the attempt continues in the background.
// Responds 409 while another attempt is in flight.
func handleCreateTransfer(holder *sessionHolder, runner *transfer.Runner, tracker *Tracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req createTransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		s, ok := holder.get()
		if !ok {
			writeError(w, "Connect wallet first", http.StatusBadRequest)
			return
		}

		attemptID, outcome, err := runner.Submit(r.Context(), s, req.To, string(req.Amount))
		if errors.Is(err, transfer.ErrAttemptInFlight) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to submit transfer", "error", err)
			writeError(w, "failed to start transfer", http.StatusServiceUnavailable)
			return
		}

		go func() {
			out, ok := <-outcome
			if ok {
				tracker.Complete(out)
			}
		}()

		logger.InfoContext(r.Context(), "transfer attempt started",
			"attempt_id", attemptID,
			"account", s.Account.String(),
			"destination", req.To,
		)

		resp, ok := tracker.Get(attemptID)
		if !ok {
			resp = transferResponse{
				AttemptID: attemptID,
				State:     string(transfer.StateValidating),
				Status:    transfer.StateValidating.Status(),
			}
		}
		w.Header().Set("Location", "/api/v1/transfers/"+attemptID)
		writeJSON(w, resp, http.StatusAccepted)
	})
}

// handleGetTransfer returns a handler that reports an attempt's status.
// GET /api/v1/transfers/{id}
// Live attempts come from the tracker; older ones from the store, if configured.
func handleGetTransfer(tracker *Tracker, store TransferStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptID := r.PathValue("id")
		id, err := uuid.Parse(attemptID)
		if err != nil {
			writeError(w, "invalid transfer id", http.StatusBadRequest)
			return
		}

		if resp, ok := tracker.Get(id.String()); ok {
			writeJSON(w, resp, http.StatusOK)
			return
		}

		if store == nil {
			writeError(w, "transfer not found", http.StatusNotFound)
			return
		}

		t, err := store.GetTransfer(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "transfer not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get transfer", "attempt_id", attemptID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, storedTransferToResponse(t), http.StatusOK)
	})
}

// handleListTransfers returns a handler that lists recorded attempts for an account.
// GET /api/v1/transfers?account=ADDRESS&limit=N&offset=N
// The account defaults to the connected one.
func handleListTransfers(holder *sessionHolder, store TransferStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "transfer history is not enabled", http.StatusServiceUnavailable)
			return
		}

		query := r.URL.Query()
		account := query.Get("account")
		if account == "" {
			s, ok := holder.get()
			if !ok {
				writeError(w, "account query parameter is required when no wallet is connected", http.StatusBadRequest)
				return
			}
			account = s.Account.String()
		}
		if err := validateAddress(account); err != nil {
			logger.Debug("invalid address", "address", account, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, offset, err := parsePagination(query.Get("limit"), query.Get("offset"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		transfers, err := store.ListTransfersByAccount(r.Context(), db.ListTransfersByAccountParams{
			Account: account,
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			logger.Error("failed to list transfers", "account", account, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("transfers listed", "account", account, "count", len(transfers))

		resp := make([]transferResponse, len(transfers))
		for i := range transfers {
			resp[i] = storedTransferToResponse(transfers[i])
		}

		writeJSON(w, map[string]any{
			"transfers": resp,
			"count":     len(resp),
			"limit":     limit,
			"offset":    offset,
		}, http.StatusOK)
	})
}

// handleListApprovals returns a handler that lists requests awaiting the wallet owner.
// GET /api/v1/approvals
func handleListApprovals(approvals *wallet.QueueApprover) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pending := approvals.Pending()
		writeJSON(w, map[string]any{
			"approvals": pending,
			"count":     len(pending),
		}, http.StatusOK)
	})
}

type decideApprovalRequest struct {
	Approve *bool `json:"approve"`
}

// handleDecideApproval returns a handler that approves or declines a pending request.
// POST /api/v1/approvals/{id}
func handleDecideApproval(approvals *wallet.QueueApprover, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req decideApprovalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Approve == nil {
			writeError(w, "approve is required", http.StatusBadRequest)
			return
		}

		if err := approvals.Decide(id, *req.Approve); err != nil {
			if errors.Is(err, wallet.ErrApprovalNotFound) {
				writeError(w, "approval request not found", http.StatusNotFound)
				return
			}
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "approval decided", "id", id, "approved", *req.Approve)
		writeJSON(w, map[string]any{"id": id, "approved": *req.Approve}, http.StatusOK)
	})
}

// storedTransferToResponse converts a recorded attempt to the response format.
func storedTransferToResponse(t *db.Transfer) transferResponse {
	resp := transferResponse{
		AttemptID:   t.ID.String(),
		Account:     t.Account,
		Destination: t.Destination,
		Lamports:    uint64(t.Lamports),
		State:       t.State,
		Status:      t.Status,
		Terminal:    transfer.State(t.State).Terminal(),
		UpdatedAt:   t.UpdatedAt,
	}
	if t.Lamports > 0 {
		resp.Amount = transfer.FormatLamports(uint64(t.Lamports))
	}
	if t.Kind != nil {
		resp.Kind = *t.Kind
	}
	if t.Signature != nil {
		resp.Signature = *t.Signature
	}
	if t.Details != nil {
		resp.Details = *t.Details
	}
	return resp
}

// parsePagination parses limit (default 50, max 500) and offset (default 0).
func parsePagination(limitStr, offsetStr string) (int32, int32, error) {
	limit := int32(50)
	if limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, errorf("invalid limit parameter: must be an integer")
		}
		if parsed < 1 {
			return 0, 0, errorf("limit must be at least 1")
		}
		if parsed > 500 {
			return 0, 0, errorf("limit cannot exceed 500")
		}
		limit = int32(parsed)
	}

	offset := int32(0)
	if offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, errorf("invalid offset parameter: must be an integer")
		}
		if parsed < 0 {
			return 0, 0, errorf("offset cannot be negative")
		}
		offset = int32(parsed)
	}
	return limit, offset, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates an account address query parameter.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...any) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
