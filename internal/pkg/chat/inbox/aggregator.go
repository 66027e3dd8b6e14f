package inbox

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/charlsef23/Zymetrik-sub001/internal/infrastructure/realtime"
)

// BumpFunc receives a content-free "something changed" signal for one
// conversation. The caller decides how to refresh, typically with a single
// FetchLastMessage call.
type BumpFunc func(conversationID string)

// Aggregator keeps one lightweight change-detection channel per conversation
// in the user's inbox. It never decodes payloads; it only notifies. This
// bounds realtime fan-out to O(inbox size) with server-side filters instead
// of one global firehose filtered on the client.
type Aggregator struct {
	feed realtime.Feed
	log  zerolog.Logger

	mu   sync.Mutex
	open map[string]realtime.Subscription
}

func NewAggregator(feed realtime.Feed, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		feed: feed,
		log:  log,
		open: make(map[string]realtime.Subscription),
	}
}

// Reconcile diffs the desired conversation-id set against the currently open
// inbox channels: stale channels close, missing channels open, unchanged ids
// are left untouched so an inbox re-render causes no resubscribe storm.
func (a *Aggregator) Reconcile(ctx context.Context, desired []string, onBumped BumpFunc) error {
	want := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		if id != "" {
			want[id] = struct{}{}
		}
	}

	a.mu.Lock()
	var stale []realtime.Subscription
	for id, sub := range a.open {
		if _, keep := want[id]; !keep {
			stale = append(stale, sub)
			delete(a.open, id)
		}
	}
	missing := make([]string, 0, len(want))
	for id := range want {
		if _, ok := a.open[id]; !ok {
			missing = append(missing, id)
		}
	}
	a.mu.Unlock()

	for _, sub := range stale {
		_ = sub.Close()
	}

	var errs []error
	for _, id := range missing {
		conversationID := id
		sub, err := a.feed.Subscribe(ctx, conversationID,
			[]string{realtime.TableMessages, realtime.TableConversations},
			func(realtime.Change) { onBumped(conversationID) })
		if err != nil {
			a.log.Warn().Err(err).Str("conversation_id", conversationID).
				Msg("inbox: channel open failed")
			errs = append(errs, err)
			continue
		}

		a.mu.Lock()
		if _, dup := a.open[conversationID]; dup {
			// a concurrent reconcile won the slot
			a.mu.Unlock()
			_ = sub.Close()
			continue
		}
		a.open[conversationID] = sub
		a.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Tracked reports the conversation ids currently under watch.
func (a *Aggregator) Tracked() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.open))
	for id := range a.open {
		ids = append(ids, id)
	}
	return ids
}

// Close releases every inbox channel.
func (a *Aggregator) Close() {
	a.mu.Lock()
	subs := make([]realtime.Subscription, 0, len(a.open))
	for _, sub := range a.open {
		subs = append(subs, sub)
	}
	a.open = make(map[string]realtime.Subscription)
	a.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
}
