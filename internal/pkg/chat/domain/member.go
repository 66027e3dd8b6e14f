package chat

// Member captures one user's participation in a conversation.
// Primary key: (ConversationID, UserID).
type Member struct {
	ConversationID  string `json:"conversation_id"`
	UserID          string `json:"user_id"`
	JoinedAt        *Time  `json:"joined_at,omitempty"`
	LastReadAt      *Time  `json:"last_read_at,omitempty"`
	IsTyping        bool   `json:"is_typing"`
	TypingUpdatedAt *Time  `json:"typing_updated_at,omitempty"`
}

// TypingMember returns the first member currently typing, if any. Presence
// is ephemeral state derived from member rows, not a persisted message.
func TypingMember(members []Member) (string, bool) {
	for _, m := range members {
		if m.IsTyping {
			return m.UserID, true
		}
	}
	return "", false
}
