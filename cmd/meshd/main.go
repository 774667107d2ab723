package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"midimesh/internal/core/domain"
	"midimesh/internal/core/services"
	httphandlers "midimesh/internal/handlers/http"
	"midimesh/internal/infrastructure/distributed"
	"midimesh/internal/infrastructure/middleware"
	"midimesh/internal/infrastructure/monitoring"
	"midimesh/internal/infrastructure/repositories"
	signalserver "midimesh/internal/infrastructure/signal"
	"midimesh/internal/infrastructure/transport"
	"midimesh/internal/infrastructure/wire"
	"midimesh/pkg/config"
	lockpkg "midimesh/pkg/distributed"
	"midimesh/pkg/logger"
	"midimesh/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./config.yaml",
		"/etc/midimesh/config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		if cfg, err = config.Load(path); err == nil {
			break
		}
	}
	if err != nil {
		log.Fatalf("could not load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("could not build logger: %v", err)
	}
	defer zlog.Sync()
	slog := zlog.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		slog.Fatalw("could not initialize tracing", "error", err)
	}

	repoFactory, err := repositories.NewFactory(cfg, slog)
	if err != nil {
		slog.Fatalw("could not initialize repositories", "error", err)
	}
	defer repoFactory.Close()

	peerRepo := repoFactory.CreatePeerRepository()
	sessionRepo := repoFactory.CreateSessionRepository()
	sessionService := services.NewSessionService(sessionRepo, peerRepo, slog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Every node hosts one session out of the box; more can be created
	// through the API.
	defaultSession, err := sessionService.CreateSession(ctx, cfg.Session.Name, cfg.Session.MaxPeers)
	if err != nil {
		slog.Fatalw("could not create default session", "error", err)
	}
	slog.Infow("hosting session", "session_id", defaultSession.ID, "name", defaultSession.Name)

	collector := monitoring.NewPrometheusCollector()

	// Event transport listener. The hub relays every received event to the
	// other connected peers, so the node works for peers that cannot reach
	// each other directly.
	hub := newEventHub(slog)
	listener := transport.NewListener(
		cfg.Transport.ListenAddress,
		transport.Options{
			ConnectTimeout:  cfg.Transport.ConnectTimeout,
			ReadBufferSize:  cfg.Transport.ReadBufferSize,
			WriteBufferSize: cfg.Transport.WriteBufferSize,
			NoDelay:         cfg.Transport.NoDelay,
			SendQueueSize:   cfg.Transport.SendQueueSize,
			OffsetStrategy:  transport.OffsetStrategy(cfg.Sync.OffsetStrategy),
		},
		hub,
		slog,
		collector,
	)
	listener.OnAccept = hub.addPeer
	if err := listener.Listen(); err != nil {
		slog.Fatalw("could not bind event transport", "error", err)
	}
	transportPort := listener.Addr().(*net.TCPAddr).Port

	controlServer := signalserver.NewControlServer(sessionService, signalserver.Options{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		MessagesPerSecond: cfg.Signal.MessagesPerSecond,
		MessageBurst:      cfg.Signal.MessageBurst,
		TransportPort:     transportPort,
	}, slog)

	// With redis enabled, roster changes fan out across nodes so every
	// node's control plane sees joins and leaves that happened elsewhere.
	var eventBus *distributed.EventBus
	if client := repoFactory.RedisClient(); client != nil {
		eventBus = distributed.NewEventBus(client, uuid.NewString(), slog)
		defer eventBus.Close()

		controlServer.OnRosterChange = func(kind wire.ControlKind, sessionID domain.SessionID, peerID domain.PeerID) {
			var err error
			if kind == wire.ControlLeave {
				err = eventBus.PublishPeerLeft(ctx, sessionID, peerID)
			} else {
				err = eventBus.PublishPeerJoined(ctx, sessionID, peerID)
			}
			if err != nil {
				slog.Warnw("failed to publish roster event", "error", err)
			}
		}

		go func() {
			err := eventBus.Subscribe(ctx, func(event *distributed.Event) error {
				kind := wire.ControlJoinAccept
				if event.Type == distributed.EventPeerLeft || event.Type == distributed.EventPeerEvicted {
					kind = wire.ControlLeave
				}
				msg := wire.NewControlMessage(kind)
				msg.SessionID = event.SessionID
				msg.PeerID = event.PeerID
				msg.TimestampTicks = time.Now().UnixMicro()
				controlServer.Broadcast(msg)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				slog.Warnw("roster event subscription ended", "error", err)
			}
		}()
	}

	signalMux := http.NewServeMux()
	signalMux.HandleFunc("/ws", controlServer.HandleWebSocket)
	signalMux.HandleFunc("/health", controlServer.HealthCheck)
	signalSrv := &http.Server{Addr: cfg.Signal.Address, Handler: signalMux}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandlerMiddleware(slog))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg.API.RequestsPerSecond, cfg.API.RequestBurst))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	sessionHandler := httphandlers.NewSessionHandler(sessionService, peerRepo)
	sessionHandler.SetupRoutes(router, cfg.Monitoring.PrometheusEnabled)
	apiSrv := &http.Server{Addr: cfg.API.Address, Handler: router}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := listener.Serve(ctx); err != nil {
			slog.Errorw("event transport stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		slog.Infow("control plane listening", "addr", cfg.Signal.Address)
		if err := signalSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Errorw("control plane stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		slog.Infow("status api listening", "addr", cfg.API.Address)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Errorw("status api stopped", "error", err)
		}
	}()

	// Stale-peer sweeper: peers that stop heartbeating get evicted and the
	// roster change is broadcast on the control plane. With a shared redis
	// registry only one node runs the sweep per round.
	go func() {
		ticker := time.NewTicker(cfg.Session.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if client := repoFactory.RedisClient(); client != nil {
					// The lock expires on its own after one interval,
					// handing the next round to whichever node wins.
					lock := lockpkg.NewLock(client, "sweeper", cfg.Session.HeartbeatInterval)
					acquired, err := lock.TryLock(ctx)
					if err != nil || !acquired {
						continue
					}
				}
				evicted, err := sessionService.EvictStale(ctx, cfg.Session.HeartbeatTimeout)
				if err != nil {
					slog.Warnw("stale peer sweep failed", "error", err)
					continue
				}
				if evicted > 0 {
					msg := wire.NewControlMessage(wire.ControlLeave)
					msg.SessionID = defaultSession.ID
					msg.TimestampTicks = time.Now().UnixMicro()
					controlServer.Broadcast(msg)
				}
			}
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer cancel()
	signalSrv.Shutdown(shutdownCtx)
	apiSrv.Shutdown(shutdownCtx)
	hub.disconnectAll()
	wg.Wait()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		slog.Warnw("tracing shutdown failed", "error", err)
	}
}
