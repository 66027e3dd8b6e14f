package chat

// Conversation is an addressable thread between two or more users.
// LastMessageAt is server-maintained; clients only ever read it.
type Conversation struct {
	ID            string `json:"id"`
	IsGroup       bool   `json:"is_group"`
	CreatedAt     *Time  `json:"created_at,omitempty"`
	LastMessageAt *Time  `json:"last_message_at,omitempty"`
}
