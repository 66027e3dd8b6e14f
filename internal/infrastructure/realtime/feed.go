package realtime

import (
	"context"
	"encoding/json"
)

// ChangeType labels a row-change notification.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is one row-change notification delivered on a subscription. Record
// stays raw so lightweight consumers can ignore it without decoding.
type Change struct {
	Table  string
	Type   ChangeType
	Record json.RawMessage
}

// Handler consumes changes for one subscription. Handlers run on the socket
// read loop and must not block.
type Handler func(Change)

// Subscription is a live server-side-filtered channel. Close is idempotent
// and best-effort: it removes local bookkeeping immediately and sends the
// leave frame without waiting for confirmation.
type Subscription interface {
	Close() error
}

// Feed opens row-change subscriptions scoped to a single conversation id.
// Tables selects which row kinds the server should deliver. Events within
// one subscription arrive in backend emission order; nothing is implied
// across subscriptions.
type Feed interface {
	Subscribe(ctx context.Context, conversationID string, tables []string, h Handler) (Subscription, error)
}

// Table names recognized by the backend's change feed.
const (
	TableMessages      = "dm_messages"
	TableMembers       = "dm_members"
	TableConversations = "dm_conversations"
)
