package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/charlsef23/Zymetrik-sub001/internal/config"
	rpcadapter "github.com/charlsef23/Zymetrik-sub001/internal/infrastructure/rpc/adapter"
	"github.com/charlsef23/Zymetrik-sub001/internal/infrastructure/realtime"
	"github.com/charlsef23/Zymetrik-sub001/internal/pkg/chat/channels"
	chat "github.com/charlsef23/Zymetrik-sub001/internal/pkg/chat/domain"
	"github.com/charlsef23/Zymetrik-sub001/internal/pkg/chat/gateway"
	"github.com/charlsef23/Zymetrik-sub001/internal/pkg/chat/inbox"
	"github.com/charlsef23/Zymetrik-sub001/internal/pkg/chat/session"
	"github.com/charlsef23/Zymetrik-sub001/pkg/logger"
)

// dmtail opens one conversation's realtime channel plus the inbox watch for
// it and tails every event to the log until interrupted. Usage:
//
//	dmtail <conversation-id>
func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}

	if len(os.Args) < 2 {
		log.Fatal("usage: dmtail <conversation-id>")
	}
	conversationID := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	zl := logger.New(cfg.Environment)

	auth := session.StaticAuth{ID: cfg.UserID, Token: cfg.AccessToken}
	caller, err := rpcadapter.NewHTTPCaller(cfg.BackendURL, cfg.APIKey, auth)
	if err != nil {
		zl.Fatal().Err(err).Msg("build rpc caller")
	}
	gw := gateway.New(caller, auth, zl)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	socket, err := realtime.Dial(ctx, cfg.RealtimeURL, nil, zl)
	cancel()
	if err != nil {
		zl.Fatal().Err(err).Msg("connect realtime socket")
	}
	defer socket.Close()

	manager := channels.NewManager(socket, gw, zl)
	defer manager.Close()
	agg := inbox.NewAggregator(socket, zl)
	defer agg.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	_, err = manager.Subscribe(ctx, conversationID, channels.Handlers{
		OnInserted: func(m chat.Message) {
			zl.Info().Str("id", m.ID).Str("author", m.AuthorID).Str("content", m.Content).Msg("inserted")
		},
		OnUpdated: func(m chat.Message) {
			zl.Info().Str("id", m.ID).Str("content", m.Content).Msg("updated")
		},
		OnDeletedGlobal: func(id string) {
			zl.Info().Str("id", id).Msg("deleted for all")
		},
		OnTypingChanged: func(userID string, typing bool) {
			zl.Info().Str("user", userID).Bool("typing", typing).Msg("typing")
		},
		OnMembersUpdated: func(members []chat.Member) {
			zl.Info().Int("count", len(members)).Msg("members updated")
		},
	})
	if err != nil {
		cancel()
		zl.Fatal().Err(err).Msg("subscribe conversation")
	}

	err = agg.Reconcile(ctx, []string{conversationID}, func(id string) {
		last, err := gw.FetchLastMessage(context.Background(), id)
		if err != nil || last == nil {
			return
		}
		zl.Info().Str("conversation", id).Str("preview", last.Content).Msg("bumped")
	})
	cancel()
	if err != nil {
		zl.Warn().Err(err).Msg("inbox reconcile incomplete")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	zl.Info().Msg("shutting down")
}
