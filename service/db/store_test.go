package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccount     = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testDestination = "11111111111111111111111111111111"
)

func TestCreateAndGetTransfer(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	id := uuid.New()

	created, err := store.CreateTransfer(ctx, CreateTransferParams{
		ID:          id,
		Account:     testAccount,
		Destination: testDestination,
		Lamports:    500_000_000,
		State:       "validating",
		Status:      "Validating transfer...",
	})
	require.NoError(t, err)
	assert.Equal(t, id, created.ID)
	assert.Equal(t, testAccount, created.Account)
	assert.Equal(t, int64(500_000_000), created.Lamports)
	assert.Nil(t, created.Kind)
	assert.Nil(t, created.Signature)
	assert.WithinDuration(t, time.Now(), created.CreatedAt, 5*time.Second)

	got, err := store.GetTransfer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "validating", got.State)
}

func TestGetTransfer_NotFound(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()

	_, err := store.GetTransfer(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTransfer(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	id := uuid.New()
	_, err := store.CreateTransfer(ctx, CreateTransferParams{
		ID:          id,
		Account:     testAccount,
		Destination: testDestination,
		State:       "validating",
		Status:      "Validating transfer...",
	})
	require.NoError(t, err)

	sig := "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	lamports := int64(250_000_000)
	_, err = store.UpdateTransfer(ctx, UpdateTransferParams{
		ID:        id,
		State:     "submitting",
		Status:    "Sending transaction...",
		Signature: &sig,
		Lamports:  &lamports,
	})
	require.NoError(t, err)

	// nil fields keep their stored values
	kind := "on_chain_error"
	details := "transaction failed: InsufficientFunds"
	updated, err := store.UpdateTransfer(ctx, UpdateTransferParams{
		ID:      id,
		State:   "failed",
		Status:  "Transaction failed on-chain",
		Kind:    &kind,
		Details: &details,
	})
	require.NoError(t, err)
	assert.Equal(t, "failed", updated.State)
	require.NotNil(t, updated.Signature)
	assert.Equal(t, sig, *updated.Signature)
	require.NotNil(t, updated.Kind)
	assert.Equal(t, kind, *updated.Kind)
	assert.Equal(t, lamports, updated.Lamports)
	assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))
}

func TestUpdateTransfer_NotFound(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()

	_, err := store.UpdateTransfer(context.Background(), UpdateTransferParams{
		ID:     uuid.New(),
		State:  "failed",
		Status: "x",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTransfersByAccount(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id := uuid.New()
		ids = append(ids, id)
		_, err := store.CreateTransfer(ctx, CreateTransferParams{
			ID:          id,
			Account:     testAccount,
			Destination: testDestination,
			State:       "validating",
			Status:      "Validating transfer...",
		})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	_, err := store.CreateTransfer(ctx, CreateTransferParams{
		ID:          uuid.New(),
		Account:     "other",
		Destination: testDestination,
		State:       "validating",
		Status:      "Validating transfer...",
	})
	require.NoError(t, err)

	all, err := store.ListTransfersByAccount(ctx, ListTransfersByAccountParams{Account: testAccount, Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")
	assert.Equal(t, ids[0], all[2].ID)

	page, err := store.ListTransfersByAccount(ctx, ListTransfersByAccountParams{Account: testAccount, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)
}
