package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "github.com/charlsef23/Zymetrik-sub001/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	readTimeout    = 60 * time.Second
	sendBufferSize = 128
	maxFrameBytes  = 1 << 20 // 1MB payload cap
	eventSubscribe = "subscribe"
)

// frame is the wire envelope for every socket message, both directions.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	ConversationID string   `json:"conversation_id"`
	Tables         []string `json:"tables"`
}

type changePayload struct {
	Table  string          `json:"table"`
	Type   string          `json:"type"`
	Record json.RawMessage `json:"record"`
}

type ackPayload struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Socket multiplexes conversation-scoped row-change subscriptions over one
// websocket. Outbound traffic goes through a buffered send channel consumed
// by a single write loop; inbound frames are dispatched by topic from a
// single read loop. A malformed frame is logged and dropped, never allowed
// to kill the stream.
type Socket struct {
	log  zerolog.Logger
	ws   *websocket.Conn
	send chan []byte

	once sync.Once
	done chan struct{}

	mu      sync.Mutex
	subs    map[string]*socketSub
	acks    map[string]chan error
	nextRef uint64
	closed  bool
}

// Dial connects to the realtime endpoint and starts the socket loops.
func Dial(ctx context.Context, url string, header http.Header, log zerolog.Logger) (*Socket, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, apperrors.Network("realtime: dial", err)
	}

	s := &Socket{
		log:  log,
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
		subs: make(map[string]*socketSub),
		acks: make(map[string]chan error),
	}

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go s.writeLoop()
	go s.readLoop()
	return s, nil
}

// Ensure interface compliance at compile time
var _ Feed = (*Socket)(nil)

// Subscribe opens one server-side-filtered channel for the conversation and
// blocks until the backend acknowledges it or ctx expires. The topic carries
// a per-subscription ref suffix so a full chat channel and an inbox channel
// for the same conversation coexist on one socket.
func (s *Socket) Subscribe(ctx context.Context, conversationID string, tables []string, h Handler) (Subscription, error) {
	if conversationID == "" {
		return nil, apperrors.InvalidReference("realtime: conversation id is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.Network("realtime: socket closed", nil)
	}
	s.nextRef++
	ref := fmt.Sprintf("%d", s.nextRef)
	topic := fmt.Sprintf("dm:%s:%s", conversationID, ref)
	sub := &socketSub{socket: s, topic: topic, handler: h}
	ackCh := make(chan error, 1)
	s.subs[topic] = sub
	s.acks[ref] = ackCh
	s.mu.Unlock()

	payload, _ := json.Marshal(subscribePayload{ConversationID: conversationID, Tables: tables})
	if err := s.enqueue(frame{Topic: topic, Event: eventSubscribe, Ref: ref, Payload: payload}); err != nil {
		s.dropSub(topic, ref)
		return nil, apperrors.Network("realtime: subscribe", err)
	}

	select {
	case err := <-ackCh:
		if err != nil {
			s.dropSub(topic, ref)
			return nil, err
		}
		return sub, nil
	case <-ctx.Done():
		s.dropSub(topic, ref)
		return nil, apperrors.Network("realtime: subscribe", ctx.Err())
	case <-s.done:
		s.dropSub(topic, ref)
		return nil, apperrors.Network("realtime: socket closed during subscribe", nil)
	}
}

// Close terminates the socket and releases every tracked subscription.
func (s *Socket) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		for ref, ch := range s.acks {
			ch <- apperrors.Network("realtime: socket closed", nil)
			delete(s.acks, ref)
		}
		s.subs = make(map[string]*socketSub)
		s.mu.Unlock()

		close(s.done)
		_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutdown"),
			time.Now().Add(writeWait))
		_ = s.ws.Close()
	})
	return nil
}

func (s *Socket) enqueue(f frame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return errors.New("socket closed")
	case s.send <- raw:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (s *Socket) dropSub(topic, ref string) {
	s.mu.Lock()
	delete(s.subs, topic)
	delete(s.acks, ref)
	s.mu.Unlock()
}

func (s *Socket) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		}
	}
}

func (s *Socket) readLoop() {
	defer s.Close()

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				select {
				case <-s.done:
				default:
					s.log.Warn().Err(err).Msg("realtime: read failed")
				}
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Warn().Err(err).Msg("realtime: malformed frame dropped")
			continue
		}
		s.dispatch(f)
	}
}

func (s *Socket) dispatch(f frame) {
	switch f.Event {
	case "ack", "error":
		s.mu.Lock()
		ch, ok := s.acks[f.Ref]
		delete(s.acks, f.Ref)
		s.mu.Unlock()
		if !ok {
			return
		}
		if f.Event == "error" {
			var p ackPayload
			_ = json.Unmarshal(f.Payload, &p)
			ch <- apperrors.Network(fmt.Sprintf("realtime: subscribe rejected: %s", p.Reason), nil)
			return
		}
		ch <- nil

	case "change":
		s.mu.Lock()
		sub, ok := s.subs[f.Topic]
		s.mu.Unlock()
		if !ok {
			return
		}
		var p changePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			s.log.Warn().Err(err).Str("topic", f.Topic).Msg("realtime: malformed change dropped")
			return
		}
		ct := ChangeType(p.Type)
		switch ct {
		case ChangeInsert, ChangeUpdate, ChangeDelete:
		default:
			s.log.Warn().Str("type", p.Type).Str("topic", f.Topic).Msg("realtime: unknown change type dropped")
			return
		}
		sub.handler(Change{Table: p.Table, Type: ct, Record: p.Record})

	default:
		// heartbeats and future event kinds are ignored
	}
}

// socketSub is the handle returned by Subscribe.
type socketSub struct {
	socket  *Socket
	topic   string
	handler Handler
	once    sync.Once
}

func (ss *socketSub) Close() error {
	ss.once.Do(func() {
		ss.socket.mu.Lock()
		delete(ss.socket.subs, ss.topic)
		ss.socket.mu.Unlock()
		// best-effort: bookkeeping is already gone locally
		_ = ss.socket.enqueue(frame{Topic: ss.topic, Event: "unsubscribe"})
	})
	return nil
}
