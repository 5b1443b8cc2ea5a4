package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"tablestack.io/internal/auth"
	"tablestack.io/internal/config"
	"tablestack.io/internal/httpapi"
	"tablestack.io/internal/obs"
	"tablestack.io/internal/order"
	"tablestack.io/internal/payments"
	"tablestack.io/internal/scope"
	"tablestack.io/internal/store/pg"
	"tablestack.io/internal/stream"
	"tablestack.io/internal/tenant"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	events := stream.New()

	var (
		engine   order.Engine
		creds    auth.CredentialStore
		tenants  tenant.Store
		registry scope.Registry
		ready    httpapi.ReadyProbe
		closeDB  func() error
	)

	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN,
			pg.WithTimeout(cfg.StoreTimeout),
			pg.WithNotifier(events),
		)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		engine = pg.NewOrderStore(store, store, store)
		creds = store
		tenants = store
		registry = scope.NewCachedRegistry(store, cfg.ScopeCacheTTL)
		ready = httpapi.ReadyProbe{DB: store.DB()}
		closeDB = store.Close
	} else {
		if cfg.Production() {
			log.Fatal("config: TABLESTACK_PG_DSN is required in production")
		}
		world := newDemoWorld()
		engine = order.NewInMemory(world.menu, world, order.WithNotifier(events))
		creds = world
		tenants = world
		registry = scope.NewStaticRegistry(nil)
		log.Printf("no DSN configured: in-memory engine, logins owner/manager/server/kitchen/cashier password %q", demoPassword)
	}

	verifierOpts := []auth.VerifierOption{
		auth.WithDemoLogins(cfg.DemoLoginsEnabled),
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		verifierOpts = append(verifierOpts, auth.WithRevocationList(auth.NewRedisRevocationList(rdb)))
	}
	verifier, err := auth.NewVerifier(creds, []byte(cfg.PINPepper), verifierOpts...)
	if err != nil {
		log.Fatalf("verifier: %v", err)
	}

	issuer, err := auth.NewIssuer([]byte(cfg.AuthSecret), registry, auth.WithTokenTTL(cfg.TokenTTL))
	if err != nil {
		log.Fatalf("issuer: %v", err)
	}

	paySvc, err := payments.NewService(payments.SandboxGateway{}, engine)
	if err != nil {
		log.Fatalf("payments: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Engine:   engine,
		Verifier: verifier,
		Issuer:   issuer,
		Payments: paySvc,
		Tenants:  tenants,
		Events:   events,
		Ready:    ready,
		Version:  version,
	})

	handler := httpapi.RequestID(
		httpapi.LoggingJSON(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(
						httpapi.RateLimit(api.Handler(), cfg.RateLimitBurst, cfg.RateLimitRPS),
						cfg.MaxBodyBytes,
					),
				),
			),
		),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// No WriteTimeout: /v1/events holds long-lived SSE streams.
		IdleTimeout: 60 * time.Second,
	}

	log.Printf("Starting tablestack-api %s on %s (env %s)", version, srv.Addr, cfg.Env)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if closeDB != nil {
		_ = closeDB()
	}
	log.Println("Stopped")
}
