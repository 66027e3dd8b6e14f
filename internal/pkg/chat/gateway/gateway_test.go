package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rpcadapter "github.com/charlsef23/Zymetrik-sub001/internal/infrastructure/rpc/adapter"
	chat "github.com/charlsef23/Zymetrik-sub001/internal/pkg/chat/domain"
	"github.com/charlsef23/Zymetrik-sub001/internal/pkg/chat/session"
	apperrors "github.com/charlsef23/Zymetrik-sub001/pkg/errors"
)

const (
	selfID  = "6f1f7e7e-1111-4a8e-9a45-0d6a53a1b001"
	otherID = "6f1f7e7e-2222-4a8e-9a45-0d6a53a1b002"
	convID  = "6f1f7e7e-3333-4a8e-9a45-0d6a53a1b003"
	msgID   = "6f1f7e7e-4444-4a8e-9a45-0d6a53a1b004"
)

// rpcServer fakes the backend RPC surface for one test.
type rpcServer struct {
	t *testing.T

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	calls    map[string][]map[string]any

	srv *httptest.Server
}

func newRPCServer(t *testing.T) *rpcServer {
	r := &rpcServer{
		t:        t,
		handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string][]map[string]any),
	}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fn := req.URL.Path[len("/rpc/"):]

		var args map[string]any
		_ = json.NewDecoder(req.Body).Decode(&args)
		r.mu.Lock()
		r.calls[fn] = append(r.calls[fn], args)
		h := r.handlers[fn]
		r.mu.Unlock()

		if h == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w, req)
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *rpcServer) respond(fn, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[fn] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, body)
	}
}

// respondAfter serves body once release is closed, holding every request
// open until then.
func (r *rpcServer) respondAfter(fn, body string, release <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[fn] = func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, body)
	}
}

func (r *rpcServer) fail(fn string, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[fn] = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}
}

func (r *rpcServer) callCount(fn string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls[fn])
}

func (r *rpcServer) lastArgs(fn string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls[fn]) == 0 {
		return nil
	}
	return r.calls[fn][len(r.calls[fn])-1]
}

func newTestGateway(t *testing.T, srv *rpcServer) *Gateway {
	auth := session.StaticAuth{ID: selfID, Token: "test-token"}
	caller, err := rpcadapter.NewHTTPCaller(srv.srv.URL, "anon-key", auth)
	require.NoError(t, err)
	return New(caller, auth, zerolog.Nop())
}

// ---------------------------------------------------------------------------
// GetOrCreateDM
// ---------------------------------------------------------------------------

func TestGetOrCreateDM_AcceptsEveryKnownResponseShape(t *testing.T) {
	shapes := []struct {
		name string
		body string
	}{
		{"keyed object field", fmt.Sprintf(`{"get_or_create_dm":%q}`, convID)},
		{"generic id field", fmt.Sprintf(`{"id":%q}`, convID)},
		{"singleton row wrapper", fmt.Sprintf(`[{"id":%q}]`, convID)},
		{"singleton scalar wrapper", fmt.Sprintf(`[%q]`, convID)},
		{"bare scalar", fmt.Sprintf(`%q`, convID)},
	}
	for _, tc := range shapes {
		t.Run(tc.name, func(t *testing.T) {
			srv := newRPCServer(t)
			srv.respond("get_or_create_dm", tc.body)
			gw := newTestGateway(t, srv)

			id, err := gw.GetOrCreateDM(context.Background(), otherID)
			require.NoError(t, err)
			assert.Equal(t, convID, id)
		})
	}
}

func TestGetOrCreateDM_ExhaustedShapesIsDecodeError(t *testing.T) {
	srv := newRPCServer(t)
	srv.respond("get_or_create_dm", `{"rows":[1,2,3]}`)
	gw := newTestGateway(t, srv)

	_, err := gw.GetOrCreateDM(context.Background(), otherID)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeProtocolDecode, apperrors.CodeOf(err))
}

func TestGetOrCreateDM_IdempotentForUnorderedPair(t *testing.T) {
	srv := newRPCServer(t)
	srv.respond("get_or_create_dm", fmt.Sprintf(`{"id":%q}`, convID))
	gw := newTestGateway(t, srv)

	first, err := gw.GetOrCreateDM(context.Background(), otherID)
	require.NoError(t, err)
	second, err := gw.GetOrCreateDM(context.Background(), otherID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetOrCreateDM_ConcurrentCallsShareOneRequest(t *testing.T) {
	srv := newRPCServer(t)
	release := make(chan struct{})
	srv.respondAfter("get_or_create_dm", fmt.Sprintf(`{"id":%q}`, convID), release)
	gw := newTestGateway(t, srv)

	const callers = 4
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = gw.GetOrCreateDM(context.Background(), otherID)
		}(i)
	}

	require.Eventually(t, func() bool {
		return srv.callCount("get_or_create_dm") == 1
	}, time.Second, time.Millisecond)
	// let the remaining callers join the in-flight request before it resolves
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, srv.callCount("get_or_create_dm"), "concurrent same-pair calls must collapse to one request")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, convID, ids[i])
	}
}

func TestPairKey_OrderInsensitive(t *testing.T) {
	assert.Equal(t, pairKey(selfID, otherID), pairKey(otherID, selfID))
	assert.NotEqual(t, pairKey(selfID, otherID), pairKey(selfID, convID))
}

func TestGetOrCreateDM_RejectsMalformedID(t *testing.T) {
	srv := newRPCServer(t)
	gw := newTestGateway(t, srv)

	_, err := gw.GetOrCreateDM(context.Background(), "not-a-uuid")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidReference, apperrors.CodeOf(err))
	assert.Zero(t, srv.callCount("get_or_create_dm"), "malformed ids must not reach the wire")
}

func TestGetOrCreateDM_NoSession(t *testing.T) {
	srv := newRPCServer(t)
	auth := session.StaticAuth{}
	caller, err := rpcadapter.NewHTTPCaller(srv.srv.URL, "anon-key", auth)
	require.NoError(t, err)
	gw := New(caller, auth, zerolog.Nop())

	_, err = gw.GetOrCreateDM(context.Background(), otherID)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestFetchConversations_PassesIdentityAndLimit(t *testing.T) {
	srv := newRPCServer(t)
	srv.respond("get_user_conversations",
		fmt.Sprintf(`[{"id":%q,"is_group":false,"last_message_at":"2025-03-14T09:26:53Z"}]`, convID))
	gw := newTestGateway(t, srv)

	convs, err := gw.FetchConversations(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, convID, convs[0].ID)
	require.NotNil(t, convs[0].LastMessageAt)

	args := srv.lastArgs("get_user_conversations")
	assert.Equal(t, selfID, args["user_id"])
	assert.Equal(t, float64(20), args["lim"])
}

func TestFetchProfile_ToleratesObjectOrSingletonList(t *testing.T) {
	object := fmt.Sprintf(`{"id":%q,"username":"leo"}`, otherID)
	list := fmt.Sprintf(`[{"id":%q,"username":"leo"}]`, otherID)

	for name, body := range map[string]string{"object": object, "list": list} {
		t.Run(name, func(t *testing.T) {
			srv := newRPCServer(t)
			srv.respond("get_perfil_lite", body)
			gw := newTestGateway(t, srv)

			p, err := gw.FetchProfile(context.Background(), otherID)
			require.NoError(t, err)
			assert.Equal(t, "leo", p.Username)
		})
	}

	t.Run("empty list is a decode failure", func(t *testing.T) {
		srv := newRPCServer(t)
		srv.respond("get_perfil_lite", `[]`)
		gw := newTestGateway(t, srv)

		_, err := gw.FetchProfile(context.Background(), otherID)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeProtocolDecode, apperrors.CodeOf(err))
	})
}

func TestFetchMessages_CursorGoesOnTheWire(t *testing.T) {
	srv := newRPCServer(t)
	srv.respond("get_dm_messages", `[]`)
	gw := newTestGateway(t, srv)

	cursor, err := chat.ParseTime("2025-03-14T09:26:53Z")
	require.NoError(t, err)
	before := chat.NewTime(cursor)

	_, err = gw.FetchMessages(context.Background(), convID, MessagesQuery{Before: &before, PageSize: 25})
	require.NoError(t, err)

	args := srv.lastArgs("get_dm_messages")
	assert.Equal(t, convID, args["conv_id"])
	assert.Equal(t, "2025-03-14T09:26:53Z", args["before_ts"])
	assert.Equal(t, float64(25), args["page_size"])
	assert.NotContains(t, args, "after_ts")
}

func TestFetchLastMessage_EmptyMeansNoMessage(t *testing.T) {
	srv := newRPCServer(t)
	srv.respond("get_last_dm_message", `[]`)
	gw := newTestGateway(t, srv)

	msg, err := gw.FetchLastMessage(context.Background(), convID)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestFetchLastMessage_UsesFirstRow(t *testing.T) {
	srv := newRPCServer(t)
	srv.respond("get_last_dm_message", fmt.Sprintf(
		`[{"id":%q,"conversation_id":%q,"author_id":%q,"content":"latest","created_at":"2025-03-14 09:26:53"}]`,
		msgID, convID, otherID))
	gw := newTestGateway(t, srv)

	msg, err := gw.FetchLastMessage(context.Background(), convID)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "latest", msg.Content)
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

func TestSendMessage_EchoesClientTag(t *testing.T) {
	srv := newRPCServer(t)
	// server echoes the tag
	srv.respond("send_dm_message", fmt.Sprintf(
		`{"id":%q,"conversation_id":%q,"author_id":%q,"content":"hi","created_at":"2025-03-14T09:26:53Z","client_tag":"tag1"}`,
		msgID, convID, selfID))
	gw := newTestGateway(t, srv)

	msg, err := gw.SendMessage(context.Background(), convID, "hi", "tag1")
	require.NoError(t, err)
	require.NotNil(t, msg.ClientTag)
	assert.Equal(t, "tag1", *msg.ClientTag)
	assert.Equal(t, chat.DeliverySent, msg.DeliveryState)
	assert.Equal(t, "tag1", srv.lastArgs("send_dm_message")["client_tag"])
}

func TestSendMessage_BackfillsTagWhenServerOmitsIt(t *testing.T) {
	srv := newRPCServer(t)
	srv.respond("send_dm_message", fmt.Sprintf(
		`{"id":%q,"conversation_id":%q,"author_id":%q,"content":"hi","created_at":"2025-03-14T09:26:53Z"}`,
		msgID, convID, selfID))
	gw := newTestGateway(t, srv)

	msg, err := gw.SendMessage(context.Background(), convID, "hi", "tag1")
	require.NoError(t, err)
	require.NotNil(t, msg.ClientTag)
	assert.Equal(t, "tag1", *msg.ClientTag)
}

func TestEditMessage_EditedAtNeverPrecedesCreatedAt(t *testing.T) {
	srv := newRPCServer(t)
	// server clock skew: edited_at earlier than created_at
	srv.respond("edit_dm_message", fmt.Sprintf(
		`{"id":%q,"conversation_id":%q,"author_id":%q,"content":"hi there","created_at":"2025-03-14T09:26:53Z","edited_at":"2025-03-14T09:26:51Z"}`,
		msgID, convID, selfID))
	gw := newTestGateway(t, srv)

	msg, err := gw.EditMessage(context.Background(), msgID, "hi there")
	require.NoError(t, err)
	require.True(t, msg.Edited())
	assert.False(t, msg.EditedAt.Before(msg.CreatedAt.Time))
}

func TestEditMessage_MissingEditMarkerIsDecodeError(t *testing.T) {
	srv := newRPCServer(t)
	srv.respond("edit_dm_message", fmt.Sprintf(
		`{"id":%q,"conversation_id":%q,"author_id":%q,"content":"hi there","created_at":"2025-03-14T09:26:53Z"}`,
		msgID, convID, selfID))
	gw := newTestGateway(t, srv)

	_, err := gw.EditMessage(context.Background(), msgID, "hi there")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeProtocolDecode, apperrors.CodeOf(err))
}

func TestDeleteMessageForAll_ResultIsTombstoned(t *testing.T) {
	srv := newRPCServer(t)
	srv.respond("delete_dm_message_for_all", fmt.Sprintf(
		`{"id":%q,"conversation_id":%q,"author_id":%q,"content":"","created_at":"2025-03-14T09:26:53Z","deleted_for_all_at":"2025-03-14T10:00:00Z"}`,
		msgID, convID, selfID))
	gw := newTestGateway(t, srv)

	msg, err := gw.DeleteMessageForAll(context.Background(), msgID)
	require.NoError(t, err)
	assert.True(t, msg.Tombstoned())
}

// ---------------------------------------------------------------------------
// Best-effort operations
// ---------------------------------------------------------------------------

func TestBestEffortOperationsSwallowFailures(t *testing.T) {
	srv := newRPCServer(t)
	srv.fail("set_dm_typing", http.StatusInternalServerError)
	srv.fail("mark_dm_read", http.StatusInternalServerError)
	srv.fail("hide_dm_message_for_me", http.StatusInternalServerError)
	gw := newTestGateway(t, srv)

	gw.SetTyping(context.Background(), convID, true)
	gw.MarkRead(context.Background(), convID)
	gw.HideMessageForMe(context.Background(), convID, msgID)

	assert.Equal(t, 1, srv.callCount("set_dm_typing"))
	assert.Equal(t, 1, srv.callCount("mark_dm_read"))
	assert.Equal(t, 1, srv.callCount("hide_dm_message_for_me"))
	assert.Equal(t, true, srv.lastArgs("set_dm_typing")["typing"])
}

// ---------------------------------------------------------------------------
// Transport error mapping
// ---------------------------------------------------------------------------

func TestPrimaryOperationSurfacesAuthFailure(t *testing.T) {
	srv := newRPCServer(t)
	srv.fail("get_conversation_members", http.StatusUnauthorized)
	gw := newTestGateway(t, srv)

	_, err := gw.FetchMembers(context.Background(), convID)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))
}

func TestPrimaryOperationSurfacesServerFailure(t *testing.T) {
	srv := newRPCServer(t)
	srv.fail("get_dm_messages", http.StatusBadGateway)
	gw := newTestGateway(t, srv)

	_, err := gw.FetchMessages(context.Background(), convID, MessagesQuery{})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNetwork, apperrors.CodeOf(err))
}
