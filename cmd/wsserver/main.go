package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/listingchat/chat-app/internal/chat"
	"github.com/listingchat/chat-app/internal/config"
	"github.com/listingchat/chat-app/internal/gateway"
	"github.com/listingchat/chat-app/internal/httpapi"
	"github.com/listingchat/chat-app/internal/messaging"
	"github.com/listingchat/chat-app/internal/notify"
	"github.com/listingchat/chat-app/internal/presence"
	"github.com/listingchat/chat-app/internal/ratelimit"
	"github.com/listingchat/chat-app/internal/router"
	"github.com/listingchat/chat-app/internal/status"
	"github.com/listingchat/chat-app/internal/store/cache"
	"github.com/listingchat/chat-app/internal/store/memory"
	"github.com/listingchat/chat-app/internal/store/postgres"
	"github.com/listingchat/chat-app/internal/tasks"
	"github.com/listingchat/chat-app/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Store ---
	var store chat.Store
	var seed seeder
	var closeStore func() error
	switch cfg.StoreBackend {
	case config.StorePostgres:
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pg, err := postgres.Open(openCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		store, seed, closeStore = pg, pg, pg.Close
	default:
		mem := memory.NewStore()
		store, seed, closeStore = mem, mem, func() error { return nil }
	}
	if cfg.SeedFile != "" {
		if err := seedStore(ctx, seed, cfg.SeedFile); err != nil {
			log.Fatalf("failed to seed %s store: %v", cfg.StoreBackend, err)
		}
		log.Printf("seeded %s store from %s", cfg.StoreBackend, cfg.SeedFile)
	}

	// --- Redis (rate limiter and profile cache) ---
	var rdb *redis.Client
	if cfg.RateLimitBackend == config.RateLimitRedis || cfg.ProfileCacheTTL > 0 {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			if cfg.RateLimitBackend == config.RateLimitRedis {
				log.Fatalf("failed to connect to Redis: %v", err)
			}
			log.Printf("redis unavailable, profile cache disabled: %v", err)
			rdb.Close()
			rdb = nil
		}
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitBackend == config.RateLimitRedis {
		limiter = ratelimit.NewRedis(rdb, cfg.RateLimit)
	} else {
		w := ratelimit.NewWindow(cfg.RateLimit, time.Now)
		go w.Run(ctx)
		limiter = w
	}

	var profiles chat.UserDirectory = store
	if rdb != nil && cfg.ProfileCacheTTL > 0 {
		profiles = cache.NewProfiles(rdb, store, cfg.ProfileCacheTTL)
	}

	// --- NATS (push pipeline) ---
	var natsClient *messaging.NATSClient
	var dispatcher notify.Dispatcher = notify.Nop{}
	if cfg.PushEnabled {
		natsClient, err = messaging.NewNATSClient(cfg.NATS)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		dispatcher = notify.NewNATSDispatcher(natsClient)
		if err := natsClient.SubscribePushResults(logPushResult); err != nil {
			log.Printf("push results subscription failed: %v", err)
		}
	}

	log.Printf("Listing chat server starting")
	log.Printf("  listen_addr:     %s", cfg.Server.ListenAddr)
	log.Printf("  worker_pool:     %d", cfg.Server.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.Server.MaxConnections)
	log.Printf("  store:           %s", cfg.StoreBackend)
	log.Printf("  rate_limit:      %s %d/%s", cfg.RateLimitBackend, cfg.RateLimit.Limit, cfg.RateLimit.Window)
	log.Printf("  push_enabled:    %v (%s)", cfg.PushEnabled, cfg.NATS.URL)
	log.Printf("  task_workers:    %d (queue %d)", cfg.Tasks.Workers, cfg.Tasks.QueueSize)

	// --- Transport and core ---
	msgDispatcher := ws.NewMessageDispatcher(nil)
	server, err := ws.NewServer(cfg.Server, msgDispatcher.Dispatch)
	if err != nil {
		log.Fatalf("failed to create transport: %v", err)
	}
	msgDispatcher.SetServer(server)

	queue := tasks.NewQueue(cfg.Tasks)
	registry := presence.NewRegistry(server, store)
	propagator := status.NewPropagator(server, registry, store, cfg.PresenceSettle)
	registry.OnChange(propagator.ScheduleBroadcast)

	rt := router.New(router.Options{
		Store:      store,
		Profiles:   profiles,
		Limiter:    limiter,
		Publisher:  server,
		Presence:   registry,
		Status:     propagator,
		Tasks:      queue,
		Dispatcher: dispatcher,
	})

	gw := gateway.New(registry, rt, propagator, msgDispatcher, gateway.DefaultTimeout)
	gw.Register(msgDispatcher)
	server.SetOnDisconnect(gw.OnDisconnect)
	server.Run()

	httpServer := &http.Server{
		Addr: cfg.Server.ListenAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Transport: server,
			Presence:  registry,
			Limiter:   limiter,
			DiagToken: cfg.DiagToken,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
		server.Shutdown()
		propagator.Stop()
		if err := queue.Shutdown(shutdownCtx); err != nil {
			log.Printf("task queue shutdown: %v", err)
		}
		if natsClient != nil {
			natsClient.Close()
		}
		if rdb != nil {
			rdb.Close()
		}
		if err := closeStore(); err != nil {
			log.Printf("store close error: %v", err)
		}
		stop()
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	<-ctx.Done()
	log.Printf("shutdown complete")
}

// seeder is implemented by both store backends.
type seeder interface {
	Seed(ctx context.Context, r io.Reader) error
}

func seedStore(ctx context.Context, s seeder, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.Seed(ctx, f)
}

func logPushResult(subject string, data []byte) {
	var res notify.Result
	if err := json.Unmarshal(data, &res); err != nil {
		log.Printf("[push] bad result on %s: %v", subject, err)
		return
	}
	if !res.Delivered {
		log.Printf("[push] delivery failed room=%s sender=%s: %s", res.RoomID, res.SenderID, res.Error)
	}
}
