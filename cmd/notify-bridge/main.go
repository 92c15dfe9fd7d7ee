package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/rentledger/backend/internal/config"
	"github.com/rentledger/backend/internal/db"
	"github.com/rentledger/backend/internal/events"
)

// Notify bridge: small service that subscribes to escrow events on Redis
// and forwards them to the platform notification service, which owns the
// actual email/push delivery.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)

	log.Info("notify-bridge started")

	_ = subscriber.Subscribe(ctx, events.StreamEscrow, func(event events.Event) {
		log.Info("forwarding event", zap.String("type", event.Type))
		forward(cfg.NotifyServiceURL, event, log)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}

func forward(baseURL string, event events.Event, log *zap.Logger) {
	// Both escrow parties get notified; the notify service resolves user
	// ids to delivery channels.
	recipients := make([]string, 0, 2)
	for _, key := range []string{"payer_id", "payee_id"} {
		if id, ok := event.Payload[key].(string); ok && id != "" {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return
	}

	body, _ := json.Marshal(map[string]any{
		"user_ids": recipients,
		"type":     event.Type,
		"payload":  event.Payload,
	})

	url := fmt.Sprintf("%s/internal/notify", strings.TrimRight(baseURL, "/"))
	resp, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	if err != nil {
		log.Warn("failed to forward notification", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("notify service returned non-200", zap.Int("status", resp.StatusCode))
	}
}
