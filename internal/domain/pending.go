package domain

import "time"

type SyncState string

const (
	SyncPending SyncState = "PENDING"
	SyncSynced  SyncState = "SYNCED"
)

// PendingOrder is an order waiting in the local queue. Payload is the encoded
// OrderPayload without its PIN and never changes after the row is written.
type PendingOrder struct {
	Seq            int64     `json:"seq"`
	IdempotencyKey string    `json:"idempotency_key"`
	Payload        []byte    `json:"payload"`
	OperatorPIN    string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	SyncState      SyncState `json:"sync_state"`
	LastError      string    `json:"last_error,omitempty"`
	Attempts       int       `json:"attempts"`
	RemoteOrderID  string    `json:"remote_order_id,omitempty"`
}
