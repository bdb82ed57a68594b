package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"rhythmflow.app/internal/auth"
	"rhythmflow.app/internal/booking"
	"rhythmflow.app/internal/config"
	"rhythmflow.app/internal/httpapi"
	"rhythmflow.app/internal/notify"
	"rhythmflow.app/internal/obs"
	"rhythmflow.app/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Postgres when a DSN is set, otherwise an in-process catalog for local runs.
	var (
		store booking.Store
		ready httpapi.ReadyProbe
		db    *pg.Store
	)
	if cfg.PGDSN != "" {
		db, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = db
		ready = httpapi.ReadyProbe{DB: db.DB()}
	} else {
		log.Printf("%sPG_DSN not set; using in-memory store", config.EnvPrefix)
		store = booking.NewInMemory()
	}

	var notifier booking.Notifier = notify.Log{}
	var closers []io.Closer
	if cfg.Notify == config.NotifyKafka {
		k := notify.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		notifier = k
		closers = append(closers, k)
	}

	issuer, err := auth.NewIssuer(cfg.AuthSecret)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	api := httpapi.New(httpapi.Deps{
		Service:    booking.NewService(store, booking.WithObserver(obs.ObserveEnrollment)),
		Admin:      booking.NewAdmin(store, booking.WithNotifier(notifier)),
		Users:      store,
		Issuer:     issuer,
		Ready:      ready,
		Version:    version,
		DevTokens:  cfg.DevTokens,
		TokenTTL:   cfg.TokenTTL,
		RateBurst:  cfg.RateBurst,
		RatePerSec: cfg.RatePerSec,
		CORSOrigin: cfg.CORSOrigin,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := httpapi.NewGRPCServer(ready)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go health.Run(ctx, 5*time.Second)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	log.Printf("Starting rhythmflow-api %s on %s (grpc %s, dev tokens %t)", version, srv.Addr, cfg.GRPCAddr, cfg.DevTokens)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
