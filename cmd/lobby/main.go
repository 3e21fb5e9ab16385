package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/whisper/lobby/internal/audit"
	"github.com/whisper/lobby/internal/ban"
	"github.com/whisper/lobby/internal/chat"
	"github.com/whisper/lobby/internal/config"
	"github.com/whisper/lobby/internal/messaging"
	"github.com/whisper/lobby/internal/moderation"
	"github.com/whisper/lobby/internal/protocol"
	"github.com/whisper/lobby/internal/ratelimit"
	"github.com/whisper/lobby/internal/session"
	"github.com/whisper/lobby/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lobby: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lobby: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := zap.S()

	// --- History ---
	seed, err := chat.LoadHistory(cfg.HistoryFile)
	if err != nil {
		log.Warnf("[history] partial load of %s: %v", cfg.HistoryFile, err)
	}
	if len(seed) > cfg.MaxMessages {
		seed = seed[len(seed)-cfg.MaxMessages:]
	}
	chatLog := chat.NewLog(cfg.MaxMessages, seed)

	history, err := chat.OpenHistory(cfg.HistoryFile)
	if err != nil {
		log.Fatalf("[history] open %s: %v", cfg.HistoryFile, err)
	}
	defer history.Close()
	sinks := []session.Sink{history}

	// --- Audit ---
	auditFile, err := audit.NewFileRecorder(cfg.AuditLogFile)
	if err != nil {
		log.Fatalf("[audit] open %s: %v", cfg.AuditLogFile, err)
	}
	defer auditFile.Close()
	recorders := audit.Multi{auditFile}

	// --- Redis ---
	var (
		bans    ban.Store
		limiter ratelimit.Allower
		rdb     *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("[redis] connect %s: %v", cfg.RedisAddr, err)
		}
		bans = ban.NewRedisStore(rdb)
		limiter = ratelimit.NewLimiter(rdb)
	} else {
		bans = ban.NewMemoryStore(time.Now)
		mem := ratelimit.NewMemoryLimiter(time.Now)
		go mem.RunSweeper(context.Background(), time.Minute, ratelimit.RuleConnect.Window)
		limiter = mem
	}

	// --- NATS ---
	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "lobby-" + cfg.ServerName

		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("[nats] connect %s: %v", cfg.NATSURL, err)
		}
		sinks = append(sinks, messaging.NewEventSink(natsClient))
		recorders = append(recorders, audit.NewBusRecorder(natsClient))
	}

	// --- Lobby ---
	filter := moderation.NewFilterWithTerms(cfg.ProhibitedWords)
	if cfg.ProhibitedWords == nil {
		filter = moderation.NewFilter()
	}
	policy := moderation.DefaultPolicy()
	policy.SpamInterval = cfg.SpamInterval
	policy.BanDuration = cfg.BanDuration

	lobby := session.NewLobby(
		chatLog,
		session.NewRegistry(cfg.NicknameBlacklist),
		moderation.NewModerator(policy, filter, bans),
		session.Config{
			CatchUpInterval: cfg.CatchUpInterval,
			ReplayLimit:     cfg.ReplayLimit,
			ServerName:      cfg.ServerName,
		},
		session.WithSinks(sinks...),
		session.WithAudit(recorders),
	)

	// --- Transport ---
	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.ListenAddr
	serverConfig.WorkerPoolSize = cfg.WorkerPoolSize
	serverConfig.MaxConnections = cfg.MaxConnections
	serverConfig.ReadTimeout = cfg.ReadTimeout
	serverConfig.WriteTimeout = cfg.WriteTimeout
	serverConfig.TrustProxy = cfg.TrustProxy

	dispatcher := ws.NewMessageDispatcher()
	dispatcher.RouteToInbox(protocol.TypeJoin, protocol.TypeMessage, protocol.TypeLeave)

	server := ws.NewServer(serverConfig, dispatcher.Dispatch)
	server.SetOnConnect(ws.LobbyHandler(lobby))
	server.SetConnectLimiter(limiter)
	server.SetHealthDetails(ws.LobbyHealth(lobby))
	server.SetOnDisconnect(func(c *ws.Connection) {
		log.Debugf("[ws] conn=%s ip=%s closed after %s", c.ID, c.IP, time.Since(c.CreatedAt).Round(time.Second))
	})

	log.Infof("Lobby server starting")
	log.Infof("  listen_addr:     %s", serverConfig.ListenAddr)
	log.Infof("  worker_pool:     %d", serverConfig.WorkerPoolSize)
	log.Infof("  max_connections: %d", serverConfig.MaxConnections)
	log.Infof("  history_file:    %s (%d events loaded)", history.Path(), len(seed))
	log.Infof("  audit_log:       %s", cfg.AuditLogFile)
	log.Infof("  redis_addr:      %s", orDisabled(cfg.RedisAddr))
	log.Infof("  nats_url:        %s", orDisabled(cfg.NATSURL))
	log.Infof("  server_name:     %s", cfg.ServerName)
	log.Infof("  trust_proxy:     %t", serverConfig.TrustProxy)
	log.Infof("  filter_terms:    %d", len(filter.Terms()))

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case sig := <-sigCh:
		log.Infof("received signal %v, initiating graceful shutdown...", sig)
	case err := <-errCh:
		if err != nil {
			log.Errorf("server error: %v", err)
		}
	}

	if online := lobby.Registry().Online(); len(online) > 0 {
		log.Infof("[lobby] disconnecting %d user(s): %s", len(online), strings.Join(online, ", "))
	}
	if err := server.Shutdown(); err != nil {
		log.Errorf("shutdown error: %v", err)
	}
	if natsClient != nil {
		natsClient.Close()
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Errorf("redis close error: %v", err)
		}
	}
}

func orDisabled(v string) string {
	if v == "" {
		return "(disabled)"
	}
	return v
}
