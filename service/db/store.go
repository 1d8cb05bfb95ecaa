package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/solsend/service/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when no transfer has the requested id.
var ErrNotFound = errors.New("transfer not found")

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithMetrics enables query metrics. A nil Metrics disables them.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

// Transfer is one recorded transfer attempt.
type Transfer struct {
	ID          uuid.UUID `json:"id"`
	Account     string    `json:"account"`
	Destination string    `json:"destination"`
	Lamports    int64     `json:"lamports"`
	State       string    `json:"state"`
	Kind        *string   `json:"kind,omitempty"`
	Status      string    `json:"status"`
	Signature   *string   `json:"signature,omitempty"`
	Details     *string   `json:"details,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateTransferParams contains the parameters for recording a new attempt.
type CreateTransferParams struct {
	ID          uuid.UUID
	Account     string
	Destination string
	Lamports    int64
	State       string
	Status      string
}

// UpdateTransferParams contains the fields that change as an attempt progresses.
// Nil pointers leave the stored value untouched.
type UpdateTransferParams struct {
	ID          uuid.UUID
	State       string
	Status      string
	Kind        *string
	Signature   *string
	Details     *string
	Destination *string
	Lamports    *int64
}

// ListTransfersByAccountParams contains pagination parameters.
type ListTransfersByAccountParams struct {
	Account string
	Limit   int32
	Offset  int32
}

const transferColumns = `id, account, destination, lamports, state, kind, status, signature, details, created_at, updated_at`

// EnsureSchema creates the transfers table and its indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, schema)
	s.record("ensure_schema", start, err)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateTransfer inserts a new transfer attempt.
func (s *Store) CreateTransfer(ctx context.Context, params CreateTransferParams) (*Transfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO transfers (id, account, destination, lamports, state, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+transferColumns,
		pgUUID(params.ID),
		params.Account,
		params.Destination,
		params.Lamports,
		params.State,
		params.Status,
	)
	t, err := scanTransfer(row)
	s.record("create_transfer", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}
	return t, nil
}

// UpdateTransfer records a state change.
func (s *Store) UpdateTransfer(ctx context.Context, params UpdateTransferParams) (*Transfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE transfers SET
			state       = $2,
			status      = $3,
			kind        = COALESCE($4, kind),
			signature   = COALESCE($5, signature),
			details     = COALESCE($6, details),
			destination = COALESCE($7, destination),
			lamports    = COALESCE($8, lamports),
			updated_at  = NOW()
		WHERE id = $1
		RETURNING `+transferColumns,
		pgUUID(params.ID),
		params.State,
		params.Status,
		pgtextFromStringPtr(params.Kind),
		pgtextFromStringPtr(params.Signature),
		pgtextFromStringPtr(params.Details),
		pgtextFromStringPtr(params.Destination),
		pgint8FromInt64Ptr(params.Lamports),
	)
	t, err := scanTransfer(row)
	s.record("update_transfer", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update transfer: %w", err)
	}
	return t, nil
}

// GetTransfer retrieves a transfer attempt by id.
func (s *Store) GetTransfer(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, pgUUID(id))
	t, err := scanTransfer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		s.record("get_transfer", start, nil)
		return nil, ErrNotFound
	}
	s.record("get_transfer", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return t, nil
}

// ListTransfersByAccount returns an account's attempts, newest first.
func (s *Store) ListTransfersByAccount(ctx context.Context, params ListTransfersByAccountParams) ([]*Transfer, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE account = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		params.Account,
		params.Limit,
		params.Offset,
	)
	if err != nil {
		s.record("list_transfers", start, err)
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			s.record("list_transfers", start, err)
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	err = rows.Err()
	s.record("list_transfers", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return transfers, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) record(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordDBQuery(operation, "transfers", time.Since(start).Seconds(), err)
}

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var (
		id                      pgtype.UUID
		kind, signature, detail pgtype.Text
		createdAt, updatedAt    pgtype.Timestamptz
		t                       Transfer
	)
	if err := row.Scan(
		&id,
		&t.Account,
		&t.Destination,
		&t.Lamports,
		&t.State,
		&kind,
		&t.Status,
		&signature,
		&detail,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	t.ID = uuid.UUID(id.Bytes)
	t.Kind = stringPtrFromPgtext(kind)
	t.Signature = stringPtrFromPgtext(signature)
	t.Details = stringPtrFromPgtext(detail)
	t.CreatedAt = createdAt.Time
	t.UpdatedAt = updatedAt.Time
	return &t, nil
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: [16]byte(id), Valid: true}
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgint8FromInt64Ptr(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}
