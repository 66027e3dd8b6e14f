package chat

import "time"

// DeliveryState tracks a locally-created message through its optimistic
// lifecycle. It never appears on the wire.
type DeliveryState string

const (
	DeliveryPending DeliveryState = "pending"
	DeliverySent    DeliveryState = "sent"
	DeliveryFailed  DeliveryState = "failed"
)

// Message is a single authored item in a conversation. Identity is the ID
// alone: two Messages with equal IDs are the same message regardless of
// content, which is what makes replace-by-id merging of edits, tombstones,
// and optimistic echoes correct.
type Message struct {
	ID              string  `json:"id"`
	ConversationID  string  `json:"conversation_id"`
	AuthorID        string  `json:"author_id"`
	Content         string  `json:"content"`
	CreatedAt       Time    `json:"created_at"`
	ClientTag       *string `json:"client_tag,omitempty"`
	EditedAt        *Time   `json:"edited_at,omitempty"`
	DeletedForAllAt *Time   `json:"deleted_for_all_at,omitempty"`

	// Client-local only; the server never echoes it.
	DeliveryState DeliveryState `json:"-"`
}

// NewPendingMessage builds the optimistic local copy of a send. The caller
// keeps the clientTag to reconcile the eventual server echo.
func NewPendingMessage(conversationID, authorID, content, clientTag string) Message {
	tag := clientTag
	return Message{
		ConversationID: conversationID,
		AuthorID:       authorID,
		Content:        content,
		CreatedAt:      NewTime(time.Now().UTC()),
		ClientTag:      &tag,
		DeliveryState:  DeliveryPending,
	}
}

// Equal implements id-only identity.
func (m Message) Equal(other Message) bool { return m.ID == other.ID }

// Tombstoned reports whether the message was deleted for everyone. The row
// persists for ordering; its content must be treated as void.
func (m Message) Tombstoned() bool {
	return m.DeletedForAllAt != nil && !m.DeletedForAllAt.IsZero()
}

// Edited reports whether the message carries a server-set edit marker.
func (m Message) Edited() bool {
	return m.EditedAt != nil && !m.EditedAt.IsZero()
}

// Merge resolves two representations of the same message id. The tombstoned
// variant always survives; otherwise the one with the latest non-nil
// editedAt; otherwise the incoming copy.
func (m Message) Merge(incoming Message) Message {
	if m.Tombstoned() {
		return m
	}
	if incoming.Tombstoned() {
		return incoming
	}
	if m.Edited() && (!incoming.Edited() || incoming.EditedAt.Before(m.EditedAt.Time)) {
		return m
	}
	return incoming
}
