package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/lobby/internal/audit"
	"github.com/whisper/lobby/internal/config"
	"github.com/whisper/lobby/internal/messaging"
)

const (
	// queueGroup lets several auditors share the audit stream.
	queueGroup = "auditor"

	volumeInterval = time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "auditor: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auditor: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := zap.S()

	log.Info("Starting lobby audit service...")

	if cfg.DatabaseURL == "" {
		log.Fatal("[auditor] DATABASE_URL is required")
	}
	if cfg.NATSURL == "" {
		log.Fatal("[auditor] NATS_URL is required")
	}

	// Postgres setup.
	if err := audit.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatalf("[auditor] %v", err)
	}
	db, err := audit.Open(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[auditor] %v", err)
	}
	store := audit.NewStore(db)

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "lobby-auditor"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("[auditor] failed to connect to NATS: %v", err)
	}

	err = natsClient.SubscribeAudit(queueGroup, func(data []byte) {
		entry, err := audit.Decode(data)
		if err != nil {
			log.Warnf("[auditor] failed to decode entry: %v", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Insert(ctx, entry); err != nil {
			log.Errorf("[auditor] failed to store kind=%s ip=%s: %v", entry.Kind, entry.IP, err)
			return
		}

		if entry.Kind == audit.KindBan {
			n, err := store.CountRecent(ctx, entry.IP, audit.KindBan, 24*time.Hour)
			if err == nil && n > 1 {
				log.Warnf("[auditor] repeat offender ip=%s bans_24h=%d", entry.IP, n)
			}
		}
		log.Debugf("[auditor] stored kind=%s nickname=%s ip=%s server=%s",
			entry.Kind, entry.Nickname, entry.IP, entry.Server)
	})
	if err != nil {
		log.Fatalf("[auditor] failed to subscribe to audit entries: %v", err)
	}

	var volume chatVolume
	if err := natsClient.SubscribeEvents(volume.observe); err != nil {
		log.Fatalf("[auditor] failed to subscribe to chat events: %v", err)
	}
	ticker := time.NewTicker(volumeInterval)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			messages, announcements := volume.take()
			log.Infof("[auditor] chat volume messages=%d announcements=%d", messages, announcements)
		}
	}()

	log.Infof("Lobby audit service running")
	log.Infof("  nats_url: %s", natsConfig.URL)
	log.Infof("  queue:    %s", queueGroup)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("received signal %v, shutting down...", sig)

	natsClient.Close()
	if err := db.Close(); err != nil {
		log.Errorf("[auditor] database close error: %v", err)
	}
}
