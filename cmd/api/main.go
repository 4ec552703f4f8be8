package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"fleetwire.org/internal/auth"
	"fleetwire.org/internal/fleet"
	"fleetwire.org/internal/httpapi"
	"fleetwire.org/internal/obs"
	"fleetwire.org/internal/rt"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	db, err := sql.Open("pgx", mustEnv("FLEETWIRE_PG_DSN"))
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	codecOpts := []auth.CodecOption{
		auth.WithIssuer(envOr("FLEETWIRE_ISSUER", "fleetwire")),
		auth.WithAudience(envOr("FLEETWIRE_AUDIENCE", "fleetwire-clients")),
	}
	if ttl := envDuration("FLEETWIRE_ACCESS_TTL"); ttl > 0 {
		codecOpts = append(codecOpts, auth.WithAccessTTL(ttl))
	}
	if ttl := envDuration("FLEETWIRE_REFRESH_TTL"); ttl > 0 {
		codecOpts = append(codecOpts, auth.WithRefreshTTL(ttl))
	}
	codec, err := auth.NewCodec(
		mustEnv("FLEETWIRE_ACCESS_SECRET"),
		mustEnv("FLEETWIRE_REFRESH_SECRET"),
		codecOpts...,
	)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	authStore := auth.NewPGStore(db)
	sessions, err := auth.NewService(authStore.Users(), authStore.RefreshTokens(), codec)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	fleetStore := fleet.NewPGStore(db)
	fleetSvc, err := fleet.NewService(fleetStore.Vehicles(), fleetStore.Orders(), fleetStore.Locations())
	if err != nil {
		log.Fatalf("fleet service: %v", err)
	}

	gateway := rt.New(sessions, fleetStore.Locations())

	api := httpapi.New(sessions, fleetSvc, gateway, httpapi.ReadyProbe{DB: db}, version)

	srv := &http.Server{
		Addr:              envOr("FLEETWIRE_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting fleetwire-api %s on %s", version, srv.Addr)

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
	gateway.Close()
	_ = db.Close()
	log.Println("Stopped")
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing required env %s", key)
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration in %s: %v", key, err)
	}
	return d
}
