package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSend_WaitsForOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/api/v1/transfers":
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]any{"attempt_id": "a1", "state": "validating"})
		case r.Method == "GET" && r.URL.Path == "/api/v1/transfers/a1":
			json.NewEncoder(w).Encode(map[string]any{
				"attempt_id":  "a1",
				"state":       "succeeded",
				"status":      "Transfer finalized",
				"destination": "dest456",
				"amount":      "0.25",
				"signature":   "sig789",
				"terminal":    true,
				"balance":     map[string]any{"lamports": 750000000, "sol": "0.7500"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "client", "send", "--to", "dest456", "--amount", "0.25", "--poll-interval", "10ms")
	require.NoError(t, err)
	assert.Contains(t, out, "State:       succeeded")
	assert.Contains(t, out, "Signature:   sig789")
	assert.Contains(t, out, "Balance:     0.7500 SOL")
}

func TestClientSend_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]any{"attempt_id": "a1", "state": "validating"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"attempt_id": "a1",
			"state":      "rejected",
			"kind":       "invalid_input",
			"status":     "Invalid amount",
			"terminal":   true,
		})
	}))
	defer server.Close()

	_, err := runApp(t, "--server-url", server.URL, "client", "send", "--to", "dest456", "--amount", "0", "--poll-interval", "10ms")
	require.Error(t, err)
	assert.Equal(t, "transfer rejected: invalid_input", err.Error())
}

func TestClientSend_InFlight(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "a transfer attempt is already in flight"})
	}))
	defer server.Close()

	_, err := runApp(t, "--server-url", server.URL, "client", "send", "--to", "dest456", "--amount", "0.25")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another transfer is still in flight")
}

func TestClientSend_NoWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"attempt_id": "a1", "state": "validating"})
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "client", "send", "--to", "dest456", "--amount", "0.25", "--no-wait")
	require.NoError(t, err)
	assert.Contains(t, out, "Attempt a1 accepted")
}

func TestClientHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acct123", r.URL.Query().Get("account"))
		json.NewEncoder(w).Encode(map[string]any{
			"transfers": []map[string]any{
				{"attempt_id": "a2", "state": "failed", "kind": "expired", "amount": "0.1", "updated_at": "2025-10-10T12:00:00Z"},
				{"attempt_id": "a1", "state": "succeeded", "amount": "0.25", "updated_at": "2025-10-10T11:00:00Z"},
			},
			"count": 2,
		})
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "client", "history", "--account", "acct123")
	require.NoError(t, err)
	assert.Contains(t, out, "ATTEMPT")
	assert.Contains(t, out, "expired")
	assert.Contains(t, out, "succeeded")
}

func TestClientApprove(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/approvals/ap1", r.URL.Path)
		var body map[string]bool
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body["approve"])
		json.NewEncoder(w).Encode(map[string]any{"id": "ap1", "approved": true})
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "client", "approve", "ap1")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ ap1 approved")
}

func TestClientApprovals_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"approvals": []any{}, "count": 0})
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "client", "approvals")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending approvals")
}
