package chat

// ProfileLite is the read-only projection used to decorate conversations and
// messages with author identity.
type ProfileLite struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}
