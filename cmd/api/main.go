package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gatepass.org/internal/clearance"
	"gatepass.org/internal/httpapi"
	"gatepass.org/internal/notify"
	"gatepass.org/internal/obs"
	"gatepass.org/internal/store/pg"
	"gatepass.org/internal/stream"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("GATEPASS_COMMIT"))

	var (
		store   clearance.Store
		pgStore *pg.Store
	)
	if dsn := os.Getenv("GATEPASS_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
	} else {
		log.Println("GATEPASS_PG_DSN not set, using in-memory store")
		store = clearance.NewInMemory()
	}

	events := stream.New()
	svc, err := clearance.NewService(store, clearance.WithNotifier(notify.Multi{
		notify.Log{},
		notify.Stream{S: events},
	}))
	if err != nil {
		log.Fatalf("init service: %v", err)
	}

	probe := httpapi.ReadyProbe{}
	if pgStore != nil {
		probe.DB = pgStore.DB()
	}
	api := httpapi.New(svc, events, probe, version)

	handler := httpapi.MaxBodyBytes(api.Handler(), 1<<20)
	handler = httpapi.RateLimit(handler,
		envInt("GATEPASS_RATE_BURST", 60),
		envInt("GATEPASS_RATE_PER_SEC", 30))

	addr := os.Getenv("GATEPASS_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// SSE subscribers hold the response open, so no write timeout.
		IdleTimeout: 60 * time.Second,
	}

	log.Printf("Starting gatepass-api %s on %s", version, srv.Addr)

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
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Fatalf("invalid %s: %q", name, v)
	}
	return n
}
