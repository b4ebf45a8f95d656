package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
)

// Store is the durable offline queue. Payloads are written once and never
// modified; only the sync bookkeeping columns change.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// NewKey returns an idempotency key of the form <unix-millis>-<12 hex>.
func NewKey(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}

// Enqueue persists order in PENDING state. Enqueueing a key that is already
// present keeps the original row.
func (s *Store) Enqueue(ctx context.Context, order domain.PendingOrder) error {
	if order.IdempotencyKey == "" {
		return domain.NewValidationError("idempotency_key", "idempotency key is required")
	}
	if len(order.Payload) == 0 {
		return domain.NewValidationError("payload", "payload is required")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_orders (idempotency_key, payload, operator_pin, created_at, sync_state)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, order.IdempotencyKey, order.Payload, order.OperatorPIN, order.CreatedAt.UnixMilli(), domain.SyncPending)
	if err != nil {
		return fmt.Errorf("enqueue order %s: %w", order.IdempotencyKey, err)
	}
	return nil
}

// ListPending returns PENDING orders queued after afterSeq, oldest first. A
// limit of zero or less returns all of them.
func (s *Store) ListPending(ctx context.Context, afterSeq int64, limit int) ([]domain.PendingOrder, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, idempotency_key, payload, operator_pin, created_at, sync_state, last_error, attempts, remote_order_id
		FROM pending_orders
		WHERE sync_state = ? AND seq > ?
		ORDER BY seq
		LIMIT ?
	`, domain.SyncPending, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orders []domain.PendingOrder
	for rows.Next() {
		order, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}

	return orders, nil
}

func (s *Store) Get(ctx context.Context, key string) (domain.PendingOrder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, idempotency_key, payload, operator_pin, created_at, sync_state, last_error, attempts, remote_order_id
		FROM pending_orders
		WHERE idempotency_key = ?
	`, key)

	order, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingOrder{}, domain.ErrNotFound
	}
	return order, err
}

// MarkFailed records a failed sync attempt. The order stays PENDING.
func (s *Store) MarkFailed(ctx context.Context, key, message string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pending_orders
		SET last_error = ?, attempts = attempts + 1
		WHERE idempotency_key = ? AND sync_state = ?
	`, message, key, domain.SyncPending)
	if err != nil {
		return fmt.Errorf("mark order %s failed: %w", key, err)
	}
	return expectOne(result)
}

// Acknowledge marks the order SYNCED with the server-assigned id and clears the
// stored PIN. It must be persisted before the row is removed so a crash in
// between never resubmits without the server's dedup.
func (s *Store) Acknowledge(ctx context.Context, key, remoteOrderID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pending_orders
		SET sync_state = ?, remote_order_id = ?, operator_pin = '', last_error = '', attempts = attempts + 1
		WHERE idempotency_key = ? AND sync_state = ?
	`, domain.SyncSynced, remoteOrderID, key, domain.SyncPending)
	if err != nil {
		return fmt.Errorf("acknowledge order %s: %w", key, err)
	}
	return expectOne(result)
}

// Remove deletes the order. Removing a key that is already gone is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_orders WHERE idempotency_key = ?`, key); err != nil {
		return fmt.Errorf("remove order %s: %w", key, err)
	}
	return nil
}

// PurgeSynced deletes acknowledged orders left behind by an interrupted pass.
func (s *Store) PurgeSynced(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pending_orders WHERE sync_state = ?`, domain.SyncSynced)
	if err != nil {
		return 0, fmt.Errorf("purge synced orders: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_orders WHERE sync_state = ?
	`, domain.SyncPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending orders: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPending(row scanner) (domain.PendingOrder, error) {
	var (
		order     domain.PendingOrder
		createdAt int64
	)
	err := row.Scan(
		&order.Seq,
		&order.IdempotencyKey,
		&order.Payload,
		&order.OperatorPIN,
		&createdAt,
		&order.SyncState,
		&order.LastError,
		&order.Attempts,
		&order.RemoteOrderID,
	)
	if err != nil {
		return domain.PendingOrder{}, err
	}
	order.CreatedAt = time.UnixMilli(createdAt).UTC()
	return order, nil
}

func expectOne(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
