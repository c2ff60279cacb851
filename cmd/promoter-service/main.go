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

	_ "github.com/lib/pq"

	"github.com/helixops/promoter/internal/approval"
	"github.com/helixops/promoter/internal/config"
	"github.com/helixops/promoter/internal/coordinator"
	"github.com/helixops/promoter/internal/events"
	"github.com/helixops/promoter/internal/healthcheck"
	"github.com/helixops/promoter/internal/httpserver"
	"github.com/helixops/promoter/internal/orchestrator"
	"github.com/helixops/promoter/internal/stage"
	"github.com/helixops/promoter/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	var st store.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.Ping(); err != nil {
			log.Fatalf("ping db: %v", err)
		}
		st = store.NewPGStore(db)
	}

	policies := cfg.Policies
	if len(policies) == 0 && st != nil {
		policies, err = st.ListPolicies(ctx)
		if err != nil {
			log.Fatalf("load policies from store: %v", err)
		}
	}
	if len(policies) == 0 {
		log.Fatalf("no approval policies configured")
	}
	if st != nil {
		for _, p := range cfg.Policies {
			if err := st.SavePolicy(ctx, p); err != nil {
				log.Printf("persist policy for %s: %v", p.Stage, err)
			}
		}
	}

	var checker healthcheck.Checker
	if cfg.HealthCheckURL != "" {
		checker = healthcheck.NewHTTPChecker(cfg.HealthCheckURL, cfg.HealthCheckTimeout)
	} else {
		log.Printf("PROMOTER_HEALTHCHECK_URL not set; every deployment will verify as healthy")
		checker = healthcheck.NewStaticChecker(true)
	}

	pub := events.NewPublisher()
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := events.NewKafkaSink(events.KafkaSinkConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka sink: %v", err)
		}
		defer sink.Close()
		sink.Attach(pub)
	}
	if cfg.S3Bucket != "" {
		archiver, err := events.NewS3Archiver(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			log.Fatalf("s3 archiver: %v", err)
		}
		archiver.Attach(pub)
	}

	registry := stage.NewRegistry()
	workflow := approval.NewWorkflow(policies)
	coord := coordinator.New(registry, checker, st, coordinator.Config{
		AutoRollback:       cfg.AutoRollback,
		HealthCheckTimeout: cfg.HealthCheckTimeout,
		RollbackTimeout:    cfg.RollbackTimeout,
	})
	orch := orchestrator.New(registry, workflow, coord, st, pub)
	server := httpserver.New(orch, cfg.AuthSecret)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Promoter service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	waitForShutdown(httpServer)
}

func waitForShutdown(srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
