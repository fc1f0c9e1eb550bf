package main

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/nonprofit-platform/internal/platform/auth"
	"github.com/example/nonprofit-platform/internal/platform/config"
	"github.com/example/nonprofit-platform/internal/platform/db"
	"github.com/example/nonprofit-platform/internal/platform/events"
	"github.com/example/nonprofit-platform/internal/platform/httpserver"
	"github.com/example/nonprofit-platform/internal/platform/logging"
	"github.com/example/nonprofit-platform/internal/platform/natsconn"
	"github.com/example/nonprofit-platform/internal/platform/run"
	threadsconfig "github.com/example/nonprofit-platform/services/threads/internal/config"
	"github.com/example/nonprofit-platform/services/threads/internal/content"
	"github.com/example/nonprofit-platform/services/threads/internal/grpcapi"
	"github.com/example/nonprofit-platform/services/threads/internal/handlers"
	"github.com/example/nonprofit-platform/services/threads/internal/idempotency"
	"github.com/example/nonprofit-platform/services/threads/internal/store"
	"github.com/example/nonprofit-platform/services/threads/internal/thread"
	"github.com/example/nonprofit-platform/services/threads/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	tcfg, err := threadsconfig.LoadThreads()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	st, pool := initStore(ctx, log, cfg, tcfg)
	if pool != nil {
		defer pool.Close()
	}

	// NATS is optional: without it events are dropped and no decisions are consumed.
	var js nats.JetStreamContext
	nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: cfg.ServiceName, Logger: log})
	if err != nil {
		log.Warn("nats unavailable, events disabled", zap.Error(err))
	} else {
		defer nc.Close()
		if js, err = nc.JetStream(); err != nil {
			log.Warn("jetstream unavailable, events disabled", zap.Error(err))
			js = nil
		} else if err := natsconn.EnsureStream(js, tcfg.EventsStream, tcfg.EventsSubjects, 30*24*time.Hour); err != nil {
			log.Warn("ensure events stream", zap.String("stream", tcfg.EventsStream), zap.Error(err))
		}
	}

	items, closeItems := initContent(log, pool, nc, tcfg)
	svc := thread.New(st, items, events.New(js, log), log, tcfg.Engine)

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, every token will be rejected (development only)")
	}
	resolver := auth.JWTVerifier{Secret: []byte(cfg.JWTSecret)}

	ready := func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return st.Ping(pingCtx)
	}
	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: ready, Logger: log.Named("http")})
	handlers.Routes(r, svc, resolver, handlers.NewRateLimiter(tcfg.WriteRatePerSecond, tcfg.WriteBurst), log)
	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		log.Error("grpc listen", zap.Error(err))
		run.Exit(1)
	}
	grpcSrv := grpc.NewServer()
	grpcapi.Register(grpcSrv, &grpcapi.Server{Threads: svc, Resolver: resolver, Log: log})
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(grpcapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcSrv)

	var consumer *worker.ModerationConsumer
	var ledger idempotency.Ledger
	if js != nil {
		ledger, err = idempotency.NewLedger(cfg.RedisURL, pool, tcfg.IdempotencyTTL, cfg.IsProduction())
		if err != nil {
			log.Error("decision ledger", zap.Error(err))
			run.Exit(1)
		}
		consumer = &worker.ModerationConsumer{
			Log:        log.Named("moderation"),
			JS:         js,
			Moderator:  svc,
			Ledger:     ledger,
			Stream:     tcfg.ModerationStream,
			Subject:    tcfg.ModerationSubject,
			Durable:    tcfg.ModerationDurable,
			Batch:      tcfg.ModerationBatch,
			MaxDeliver: 5,
		}
	}

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Start(log) })
		g.Go(func() error {
			log.Info("grpc server starting", zap.String("addr", cfg.GRPC.Addr))
			return grpcSrv.Serve(lis)
		})
		if consumer != nil {
			g.Go(func() error { return consumer.Run(gctx) })
		}
		g.Go(func() error {
			<-gctx.Done()
			healthSrv.Shutdown()
			stopped := make(chan struct{})
			go func() {
				grpcSrv.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(5 * time.Second):
				grpcSrv.Stop()
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		err := g.Wait()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	})

	closeItems()
	if ledger != nil {
		_ = ledger.Close()
	}
	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

// initStore selects the comment store. Production requires Postgres and
// terminates the process when it is unavailable.
func initStore(ctx context.Context, log *zap.Logger, cfg config.AppConfig, tcfg threadsconfig.ThreadsConfig) (store.Store, *pgxpool.Pool) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory comment store (development only)")
		return store.NewMemoryStore(), nil
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		if cfg.IsProduction() {
			log.Error("postgres is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("postgres unavailable, falling back to in-memory comment store", zap.Error(err))
		return store.NewMemoryStore(), nil
	}

	ps := store.NewPostgresStore(pool)
	if tcfg.AutoMigrate {
		if err := ps.Migrate(ctx); err != nil {
			log.Error("migrate comments schema", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		log.Info("comments schema applied")
	}
	log.Info("comments store: postgres")
	return ps, pool
}

// initContent selects how content item existence is checked. The returned
// func releases the cache's invalidation subscription.
func initContent(log *zap.Logger, pool *pgxpool.Pool, nc *nats.Conn, tcfg threadsconfig.ThreadsConfig) (content.Checker, func()) {
	switch {
	case pool != nil:
		cached := content.NewCachedChecker(content.NewPostgresChecker(pool), tcfg.ContentTTL)
		if err := cached.SubscribeInvalidation(nc, tcfg.InvalidateSubject, log); err != nil {
			log.Warn("content cache invalidation disabled", zap.Error(err))
		}
		return cached, func() {
			if err := cached.Close(); err != nil {
				log.Warn("close content cache", zap.Error(err))
			}
		}
	case len(tcfg.ContentItems) > 0:
		log.Info("content items: static set", zap.Int("count", len(tcfg.ContentItems)))
		return content.NewStaticSet(tcfg.ContentItems...), func() {}
	default:
		log.Warn("no content source configured, accepting every content item (development only)")
		return content.AllowAll{}, func() {}
	}
}
