package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartclinic/backend/internal/config"
	"smartclinic/backend/internal/httpapi"
	"smartclinic/backend/internal/hub"
	"smartclinic/backend/internal/queue"
	"smartclinic/backend/internal/store"
	"smartclinic/backend/internal/store/memory"
	"smartclinic/backend/internal/store/postgres"
	"smartclinic/backend/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup(context.Background(), telemetry.Options{
		ServiceName: "clinic-backend",
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	clinicStore, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("store init: %v", err)
	}
	defer closeStore()

	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	if err := clinicStore.SeedDefaultBranches(seedCtx); err != nil {
		cancelSeed()
		log.Fatalf("seed branches: %v", err)
	}
	cancelSeed()

	notifier := hub.New()
	queueService := queue.NewService(clinicStore, notifier, queue.Options{ETAMinutes: cfg.EtaMinutes})
	handler := httpapi.NewHandler(queueService, clinicStore)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	root := http.NewServeMux()
	root.Handle("/metrics", expvar.Handler())
	root.Handle("/realtime/", realtimeHandler(notifier))
	root.Handle("/", handler.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(root)), "clinic-backend"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("clinic-backend listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// openStore picks postgres when DB_DSN is set, otherwise an in-process
// store for local development.
func openStore(cfg config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Printf("DB_DSN not set, using in-memory store")
		return memory.NewStore(), func() {}, nil
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pgStore := postgres.NewStore(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := pgStore.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pgStore, pool.Close, nil
}

// realtimeHandler serves the SockJS endpoint. Each session becomes a hub
// client; join_branch/leave_branch messages manage its branch groups, and
// the registration is dropped when the session ends.
func realtimeHandler(notifier *hub.Hub) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := hub.NewClient(uuid.NewString(), 16)
		notifier.Register(client)
		defer notifier.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseControl([]byte(msg))
			if !ok {
				continue
			}
			switch parsed.Action {
			case "join_branch":
				notifier.JoinBranch(client, parsed.BranchID)
			case "leave_branch":
				notifier.LeaveBranch(client, parsed.BranchID)
			}
		}
	})
}
