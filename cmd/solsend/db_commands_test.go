package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/brojonat/solsend/service/db"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestFilterByState(t *testing.T) {
	transfers := []*db.Transfer{
		{ID: uuid.New(), State: "succeeded"},
		{ID: uuid.New(), State: "failed"},
		{ID: uuid.New(), State: "succeeded"},
	}
	assert.Len(t, filterByState(transfers, ""), 3)
	assert.Len(t, filterByState(transfers, "succeeded"), 2)
	assert.Empty(t, filterByState(transfers, "rejected"))
}

func TestPrintTransferTable(t *testing.T) {
	var out bytes.Buffer
	printTransferTable(&out, []*db.Transfer{{
		ID:          uuid.MustParse("7f1c2b1e-9a55-4c1e-8f3a-2d7d5c0b9e11"),
		Destination: "dest456",
		Lamports:    250_000_000,
		State:       "failed",
		Kind:        strPtr("on_chain_error"),
		UpdatedAt:   time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC),
	}})

	assert.Contains(t, out.String(), "7f1c2b1e-9a55-4c1e-8f3a-2d7d5c0b9e11")
	assert.Contains(t, out.String(), "on_chain_error")
	assert.Contains(t, out.String(), "0.25")
	assert.Contains(t, out.String(), "2025-10-10T12:00:00Z")
}

func TestDeref(t *testing.T) {
	assert.Equal(t, "-", deref(nil))
	assert.Equal(t, "-", deref(strPtr("")))
	assert.Equal(t, "sig", deref(strPtr("sig")))
}

func TestDBCommands_RequireDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := runApp(t, "db", "list-transfers", "acct123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database-url is required")

	_, err = runApp(t, "db", "get-transfer", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid attempt id")
}
