package channels

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/charlsef23/Zymetrik-sub001/internal/infrastructure/realtime"
	chat "github.com/charlsef23/Zymetrik-sub001/internal/pkg/chat/domain"
)

// Handlers is the callback bundle a caller receives for an open
// conversation. Nil members are simply skipped.
type Handlers struct {
	OnInserted       func(chat.Message)
	OnUpdated        func(chat.Message)
	OnDeletedGlobal  func(messageID string)
	OnTypingChanged  func(userID string, typing bool)
	OnMembersUpdated func([]chat.Member)
}

// MemberLister is the slice of the gateway the manager needs to derive
// typing presence after a member-row update.
type MemberLister interface {
	FetchMembers(ctx context.Context, conversationID string) ([]chat.Member, error)
}

// Handle identifies one live conversation channel.
type Handle struct {
	conversationID string

	mu  sync.Mutex
	sub realtime.Subscription
}

func (h *Handle) ConversationID() string { return h.conversationID }

func (h *Handle) setSub(sub realtime.Subscription) {
	h.mu.Lock()
	h.sub = sub
	h.mu.Unlock()
}

func (h *Handle) closeSub() {
	h.mu.Lock()
	sub := h.sub
	h.sub = nil
	h.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

// Manager owns the realtime subscription lifecycle for conversations the
// user has open. At most one live channel exists per conversation id; the
// conversation-id keyed maps are guarded by one mutex and nobody outside
// this type holds a subscription reference.
type Manager struct {
	feed    realtime.Feed
	members MemberLister
	log     zerolog.Logger

	refetchTimeout time.Duration

	mu         sync.Mutex
	open       map[string]*Handle
	joining    map[string]struct{}
	refreshing map[string]bool
	refreshDue map[string]bool
}

func NewManager(feed realtime.Feed, members MemberLister, log zerolog.Logger) *Manager {
	return &Manager{
		feed:           feed,
		members:        members,
		log:            log,
		refetchTimeout: 5 * time.Second,
		open:           make(map[string]*Handle),
		joining:        make(map[string]struct{}),
		refreshing:     make(map[string]bool),
		refreshDue:     make(map[string]bool),
	}
}

// ErrUnsubscribed reports that the conversation was unsubscribed while its
// channel was still being established.
var ErrUnsubscribed = errors.New("channels: unsubscribed during establishment")

// Subscribe opens exactly one channel for the conversation. A second call
// arriving while the first is still establishing returns the in-flight
// handle instead of racing a duplicate subscription; a call for an already
// open conversation tears the old channel down first. If the conversation is
// unsubscribed before establishment completes, Subscribe returns
// ErrUnsubscribed.
func (m *Manager) Subscribe(ctx context.Context, conversationID string, h Handlers) (*Handle, error) {
	m.mu.Lock()
	if _, inflight := m.joining[conversationID]; inflight {
		handle := m.open[conversationID]
		m.mu.Unlock()
		return handle, nil
	}
	if existing, ok := m.open[conversationID]; ok {
		delete(m.open, conversationID)
		existing.closeSub()
	}
	handle := &Handle{conversationID: conversationID}
	m.open[conversationID] = handle
	m.joining[conversationID] = struct{}{}
	m.mu.Unlock()

	sub, err := m.feed.Subscribe(ctx, conversationID,
		[]string{realtime.TableMessages, realtime.TableMembers},
		func(change realtime.Change) { m.dispatch(conversationID, h, change) })

	m.mu.Lock()
	delete(m.joining, conversationID)
	if err != nil {
		if m.open[conversationID] == handle {
			delete(m.open, conversationID)
		}
		m.mu.Unlock()
		return nil, err
	}
	if m.open[conversationID] != handle {
		// unsubscribed while establishing; release the fresh channel
		m.mu.Unlock()
		_ = sub.Close()
		return nil, ErrUnsubscribed
	}
	handle.setSub(sub)
	m.mu.Unlock()
	return handle, nil
}

// Unsubscribe is an idempotent no-op for untracked conversations.
func (m *Manager) Unsubscribe(conversationID string) {
	m.mu.Lock()
	handle, ok := m.open[conversationID]
	delete(m.open, conversationID)
	delete(m.joining, conversationID)
	m.mu.Unlock()
	if ok {
		handle.closeSub()
	}
}

// Close tears down every open channel.
func (m *Manager) Close() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.open))
	for _, h := range m.open {
		handles = append(handles, h)
	}
	m.open = make(map[string]*Handle)
	m.joining = make(map[string]struct{})
	m.mu.Unlock()

	for _, h := range handles {
		h.closeSub()
	}
}

// dispatch turns one raw row change into the appropriate typed callback. A
// malformed event is logged and dropped; one bad payload must not kill a
// live stream.
func (m *Manager) dispatch(conversationID string, h Handlers, change realtime.Change) {
	switch change.Table {
	case realtime.TableMessages:
		m.dispatchMessage(conversationID, h, change)
	case realtime.TableMembers:
		if change.Type == realtime.ChangeUpdate {
			m.memberChanged(conversationID, h)
		}
	default:
		m.log.Warn().Str("table", change.Table).Str("conversation_id", conversationID).
			Msg("channels: change for unexpected table dropped")
	}
}

func (m *Manager) dispatchMessage(conversationID string, h Handlers, change realtime.Change) {
	var msg chat.Message
	if err := json.Unmarshal(change.Record, &msg); err != nil || msg.ID == "" {
		m.log.Warn().Err(err).Str("conversation_id", conversationID).
			Msg("channels: malformed message event dropped")
		return
	}

	switch change.Type {
	case realtime.ChangeInsert:
		if h.OnInserted != nil {
			h.OnInserted(msg)
		}
	case realtime.ChangeUpdate:
		if msg.Tombstoned() {
			if h.OnDeletedGlobal != nil {
				h.OnDeletedGlobal(msg.ID)
			}
			return
		}
		if h.OnUpdated != nil {
			h.OnUpdated(msg)
		}
	}
}

// memberChanged schedules a member refetch. Handlers run on the socket read
// loop and must not block, so the round trip happens on a goroutine; at most
// one refetch per conversation is in flight, and a burst of member updates
// coalesces into a single trailing refetch.
func (m *Manager) memberChanged(conversationID string, h Handlers) {
	m.mu.Lock()
	if m.refreshing[conversationID] {
		m.refreshDue[conversationID] = true
		m.mu.Unlock()
		return
	}
	m.refreshing[conversationID] = true
	m.mu.Unlock()

	go func() {
		for {
			m.refreshMembers(conversationID, h)

			m.mu.Lock()
			if !m.refreshDue[conversationID] {
				delete(m.refreshing, conversationID)
				m.mu.Unlock()
				return
			}
			delete(m.refreshDue, conversationID)
			m.mu.Unlock()
		}
	}()
}

// refreshMembers refetches the bounded member list and derives typing state:
// the first member with isTyping set, else an explicit false.
func (m *Manager) refreshMembers(conversationID string, h Handlers) {
	ctx, cancel := context.WithTimeout(context.Background(), m.refetchTimeout)
	defer cancel()

	members, err := m.members.FetchMembers(ctx, conversationID)
	if err != nil {
		m.log.Warn().Err(err).Str("conversation_id", conversationID).
			Msg("channels: member refetch failed")
		return
	}

	if h.OnMembersUpdated != nil {
		h.OnMembersUpdated(members)
	}
	if h.OnTypingChanged != nil {
		userID, typing := chat.TypingMember(members)
		h.OnTypingChanged(userID, typing)
	}
}
