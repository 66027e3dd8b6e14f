package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/charlsef23/Zymetrik-sub001/internal/infrastructure/rpc/port"
	chat "github.com/charlsef23/Zymetrik-sub001/internal/pkg/chat/domain"
	"github.com/charlsef23/Zymetrik-sub001/internal/pkg/chat/session"
	apperrors "github.com/charlsef23/Zymetrik-sub001/pkg/errors"
)

// Backend procedure names.
const (
	fnGetOrCreateDM    = "get_or_create_dm"
	fnGetConversations = "get_user_conversations"
	fnGetMembers       = "get_conversation_members"
	fnGetProfileLite   = "get_perfil_lite"
	fnGetMessages      = "get_dm_messages"
	fnGetLastMessage   = "get_last_dm_message"
	fnSendMessage      = "send_dm_message"
	fnSetTyping        = "set_dm_typing"
	fnMarkRead         = "mark_dm_read"
	fnEditMessage      = "edit_dm_message"
	fnDeleteForAll     = "delete_dm_message_for_all"
	fnHideMessageForMe = "hide_dm_message_for_me"
)

const (
	defaultConversationLimit = 50
	defaultPageSize          = 30
)

// Gateway is the stateless request/response bridge to the messaging backend.
// Every method is a single round trip; primary operations surface typed
// errors, presence/best-effort operations swallow them by design.
type Gateway struct {
	rpc  port.Caller
	auth session.Auth
	log  zerolog.Logger

	// collapses concurrent GetOrCreateDM calls for the same unordered pair
	dmCalls singleflight.Group
}

func New(rpc port.Caller, auth session.Auth, log zerolog.Logger) *Gateway {
	return &Gateway{rpc: rpc, auth: auth, log: log}
}

// GetOrCreateDM resolves (or creates) the 1:1 conversation between the
// current user and other. Idempotent for a given unordered pair.
func (g *Gateway) GetOrCreateDM(ctx context.Context, other string) (string, error) {
	uid, err := g.auth.UserID(ctx)
	if err != nil {
		return "", err
	}
	if err := validUUID(other); err != nil {
		return "", err
	}

	key := pairKey(uid, other)
	id, err, _ := g.dmCalls.Do(key, func() (any, error) {
		raw, err := g.rpc.Call(ctx, fnGetOrCreateDM, map[string]any{"a": uid, "b": other})
		if err != nil {
			return "", err
		}
		return parseConversationID(raw)
	})
	if err != nil {
		return "", err
	}
	return id.(string), nil
}

// FetchConversations lists the current user's conversations, most recent
// activity first (ordering is server-side).
func (g *Gateway) FetchConversations(ctx context.Context, limit int) ([]chat.Conversation, error) {
	uid, err := g.auth.UserID(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultConversationLimit
	}
	raw, err := g.rpc.Call(ctx, fnGetConversations, map[string]any{"user_id": uid, "lim": limit})
	if err != nil {
		return nil, err
	}
	var convs []chat.Conversation
	if err := json.Unmarshal(raw, &convs); err != nil {
		return nil, apperrors.Decode("gateway: decode conversations", err)
	}
	return convs, nil
}

func (g *Gateway) FetchMembers(ctx context.Context, conversationID string) ([]chat.Member, error) {
	if err := validUUID(conversationID); err != nil {
		return nil, err
	}
	raw, err := g.rpc.Call(ctx, fnGetMembers, map[string]any{"conv_id": conversationID})
	if err != nil {
		return nil, err
	}
	var members []chat.Member
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, apperrors.Decode("gateway: decode members", err)
	}
	return members, nil
}

// FetchProfile tolerates the RPC returning either a single object or a
// one-element list.
func (g *Gateway) FetchProfile(ctx context.Context, userID string) (chat.ProfileLite, error) {
	if err := validUUID(userID); err != nil {
		return chat.ProfileLite{}, err
	}
	raw, err := g.rpc.Call(ctx, fnGetProfileLite, map[string]any{"user_id": userID})
	if err != nil {
		return chat.ProfileLite{}, err
	}

	var profile chat.ProfileLite
	if err := json.Unmarshal(raw, &profile); err == nil && profile.ID != "" {
		return profile, nil
	}
	var list []chat.ProfileLite
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 && list[0].ID != "" {
		return list[0], nil
	}
	return chat.ProfileLite{}, apperrors.Decode("gateway: profile matched neither object nor list shape", nil)
}

// MessagesQuery bounds a page fetch. At most one of Before/After is
// meaningfully combined with the other per call; each goes on the wire as an
// ISO timestamp cursor.
type MessagesQuery struct {
	Before   *chat.Time
	After    *chat.Time
	PageSize int
}

func (g *Gateway) FetchMessages(ctx context.Context, conversationID string, q MessagesQuery) ([]chat.Message, error) {
	if err := validUUID(conversationID); err != nil {
		return nil, err
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	args := map[string]any{"conv_id": conversationID, "page_size": q.PageSize}
	if q.Before != nil {
		args["before_ts"] = q.Before.WireFormat()
	}
	if q.After != nil {
		args["after_ts"] = q.After.WireFormat()
	}
	raw, err := g.rpc.Call(ctx, fnGetMessages, args)
	if err != nil {
		return nil, err
	}
	var msgs []chat.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, apperrors.Decode("gateway: decode messages", err)
	}
	return msgs, nil
}

// FetchLastMessage is the cheap single-row fetch behind inbox previews.
// Returns nil when the conversation has no messages.
func (g *Gateway) FetchLastMessage(ctx context.Context, conversationID string) (*chat.Message, error) {
	if err := validUUID(conversationID); err != nil {
		return nil, err
	}
	raw, err := g.rpc.Call(ctx, fnGetLastMessage, map[string]any{"conv_id": conversationID})
	if err != nil {
		return nil, err
	}
	var msgs []chat.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, apperrors.Decode("gateway: decode last message", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// SendMessage delivers text to the conversation. The returned message always
// carries the input clientTag so the caller can reconcile its optimistic
// pending copy by tag rather than guessing the new id.
func (g *Gateway) SendMessage(ctx context.Context, conversationID, text, clientTag string) (chat.Message, error) {
	if err := validUUID(conversationID); err != nil {
		return chat.Message{}, err
	}
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, apperrors.InvalidReference("gateway: message body is empty")
	}
	args := map[string]any{"conv_id": conversationID, "body": text}
	if clientTag != "" {
		args["client_tag"] = clientTag
	}
	raw, err := g.rpc.Call(ctx, fnSendMessage, args)
	if err != nil {
		return chat.Message{}, err
	}
	msg, err := decodeMessage(raw, "send")
	if err != nil {
		return chat.Message{}, err
	}
	if clientTag != "" && msg.ClientTag == nil {
		msg.ClientTag = &clientTag
	}
	msg.DeliveryState = chat.DeliverySent
	return msg, nil
}

// SetTyping is fire-and-forget: a failed typing update degrades to stale
// presence rather than interrupting the user.
func (g *Gateway) SetTyping(ctx context.Context, conversationID string, typing bool) {
	if validUUID(conversationID) != nil {
		return
	}
	_, err := g.rpc.Call(ctx, fnSetTyping, map[string]any{"conv_id": conversationID, "typing": typing})
	if err != nil {
		g.log.Debug().Err(err).Str("conversation_id", conversationID).Msg("gateway: set typing failed")
	}
}

// MarkRead is fire-and-forget.
func (g *Gateway) MarkRead(ctx context.Context, conversationID string) {
	if validUUID(conversationID) != nil {
		return
	}
	_, err := g.rpc.Call(ctx, fnMarkRead, map[string]any{"conv_id": conversationID})
	if err != nil {
		g.log.Debug().Err(err).Str("conversation_id", conversationID).Msg("gateway: mark read failed")
	}
}

// HideMessageForMe suppresses a message locally on the server side for the
// current user only. Fire-and-forget.
func (g *Gateway) HideMessageForMe(ctx context.Context, conversationID, messageID string) {
	if validUUID(conversationID) != nil || validUUID(messageID) != nil {
		return
	}
	_, err := g.rpc.Call(ctx, fnHideMessageForMe, map[string]any{"conv_id": conversationID, "msg_id": messageID})
	if err != nil {
		g.log.Debug().Err(err).Str("message_id", messageID).Msg("gateway: hide message failed")
	}
}

// EditMessage replaces the body of an existing message. The result always
// carries editedAt, clamped to never precede the original createdAt.
func (g *Gateway) EditMessage(ctx context.Context, messageID, newText string) (chat.Message, error) {
	if err := validUUID(messageID); err != nil {
		return chat.Message{}, err
	}
	if strings.TrimSpace(newText) == "" {
		return chat.Message{}, apperrors.InvalidReference("gateway: replacement body is empty")
	}
	raw, err := g.rpc.Call(ctx, fnEditMessage, map[string]any{"msg_id": messageID, "new_body": newText})
	if err != nil {
		return chat.Message{}, err
	}
	msg, err := decodeMessage(raw, "edit")
	if err != nil {
		return chat.Message{}, err
	}
	if !msg.Edited() {
		return chat.Message{}, apperrors.Decode("gateway: edit result missing edited_at", nil)
	}
	if msg.EditedAt.Before(msg.CreatedAt.Time) {
		clamped := msg.CreatedAt
		msg.EditedAt = &clamped
	}
	return msg, nil
}

// DeleteMessageForAll tombstones the message for every participant. The row
// still decodes afterwards; its content is semantically void.
func (g *Gateway) DeleteMessageForAll(ctx context.Context, messageID string) (chat.Message, error) {
	if err := validUUID(messageID); err != nil {
		return chat.Message{}, err
	}
	raw, err := g.rpc.Call(ctx, fnDeleteForAll, map[string]any{"msg_id": messageID})
	if err != nil {
		return chat.Message{}, err
	}
	msg, err := decodeMessage(raw, "delete")
	if err != nil {
		return chat.Message{}, err
	}
	if !msg.Tombstoned() {
		return chat.Message{}, apperrors.Decode("gateway: delete result missing deleted_for_all_at", nil)
	}
	return msg, nil
}

func decodeMessage(raw json.RawMessage, op string) (chat.Message, error) {
	var msg chat.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return chat.Message{}, apperrors.Decode(fmt.Sprintf("gateway: decode %s result", op), err)
	}
	if msg.ID == "" {
		return chat.Message{}, apperrors.Decode(fmt.Sprintf("gateway: %s result has no id", op), nil)
	}
	return msg, nil
}

func validUUID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.InvalidReference(fmt.Sprintf("gateway: malformed id %q", id))
	}
	return nil
}

func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}
