package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/peerprep/matcher/internal/collab"
	"github.com/peerprep/matcher/internal/config"
	"github.com/peerprep/matcher/internal/logger"
	"github.com/peerprep/matcher/internal/matching"
	"github.com/peerprep/matcher/internal/messaging"
	"github.com/peerprep/matcher/internal/protocol"
	"github.com/peerprep/matcher/internal/ratelimit"
	"github.com/peerprep/matcher/internal/room"
	"github.com/peerprep/matcher/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("matcher stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("matcher starting",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("backend", cfg.MatchBackend),
		zap.Duration("debounce", cfg.MatchDebounce),
		zap.Duration("timeout", cfg.MatchTimeout),
		zap.String("server_name", cfg.ServerName),
	)

	// --- Matching backend + room bus ---
	var (
		backend    matching.Backend
		bus        matching.RoomBus
		natsClient *messaging.NATSClient
	)
	switch cfg.MatchBackend {
	case config.BackendNATS:
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "matcher-" + cfg.ServerName

		var err error
		natsClient, err = messaging.NewNATSClient(natsConfig, log)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer natsClient.Close()

		channelConfig := messaging.DefaultChannelConfig()
		channelConfig.ClaimTimeout = cfg.ClaimTimeout
		backend = matching.NewDistributedBackend(messaging.NewChannel(natsClient, channelConfig, log), log)
		bus = messaging.NewRoomRelay(natsClient, log)

	default:
		backend = matching.NewLocalBackend(room.NewStore(), log)
		bus = matching.NewLocalBus()
	}

	// --- Redis (optional) ---
	var opts []matching.Option
	if rdb := connectRedis(cfg.RedisAddr, log); rdb != nil {
		defer rdb.Close()
		limiter := ratelimit.NewLimiter(rdb, log)
		opts = append(opts,
			matching.WithLimiter(limiter.For(ratelimit.RuleMatch)),
			matching.WithHandoff(collab.NewStore(rdb, cfg.CollabSessionTTL)),
		)
	}

	// --- Server ---
	serverConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}

	dispatcher := ws.NewMessageDispatcher(nil, log)
	server := ws.NewServer(serverConfig, log, dispatcher.Dispatch)
	dispatcher.SetSender(server)

	controller := matching.NewController(backend, bus, server, matching.Config{
		Debounce: cfg.MatchDebounce,
		Timeout:  cfg.MatchTimeout,
	}, log, opts...)

	server.SetOnConnect(func(conn *ws.Connection) {
		conn.Data = controller.NewSession(conn.ID)
	})
	server.SetOnDisconnect(func(conn *ws.Connection) {
		if s, ok := conn.Data.(*matching.Session); ok {
			s.Disconnect()
		}
	})
	server.Handle("/status", ws.StatusHandler(backend))

	registerHandlers(dispatcher)

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.Stringer("signal", sig))
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	log.Info("matcher stopped")
	return nil
}

// registerHandlers binds client events to the connection's session.
func registerHandlers(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeRequestMatch, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.RequestMatchMsg)
		if s := sessionOf(conn); s != nil && ok {
			s.RequestMatch(m.User, m.Preferences)
		}
	})

	d.Register(protocol.TypeUserUpdateReady, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.UserUpdateReadyMsg)
		if s := sessionOf(conn); s != nil && ok {
			s.UpdateReady(m.Ready)
		}
	})

	d.Register(protocol.TypeStartCollaboration, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.StartCollaborationMsg)
		if s := sessionOf(conn); s != nil && ok {
			s.StartCollaboration(m.QuestionID)
		}
	})

	d.Register(protocol.TypeCancelMatch, func(conn *ws.Connection, msg interface{}) {
		if s := sessionOf(conn); s != nil {
			s.Cancel()
		}
	})
}

func sessionOf(conn *ws.Connection) *matching.Session {
	s, _ := conn.Data.(*matching.Session)
	return s
}

// connectRedis returns a client for addr, or nil when Redis is disabled or
// unreachable. Without it rate limiting is skipped and the collaboration
// hand-off is only guarded in memory.
func connectRedis(addr string, log *zap.Logger) *redis.Client {
	if addr == "" {
		log.Info("redis disabled")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, continuing without it", zap.String("addr", addr), zap.Error(err))
		_ = rdb.Close()
		return nil
	}
	log.Info("redis connected", zap.String("addr", addr))
	return rdb
}
