package main

import (
	"context"
	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	"github.com/ariefcatur/go-checkout-core/internal/config"
	kafkax "github.com/ariefcatur/go-checkout-core/internal/kafka"
	"github.com/ariefcatur/go-checkout-core/internal/metrics"
	"github.com/ariefcatur/go-checkout-core/internal/postgres"
	"github.com/ariefcatur/go-checkout-core/internal/reconcile"
	"github.com/ariefcatur/go-checkout-core/internal/redisx"
	"github.com/joho/godotenv"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 4)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Service
	name := cfg.ServiceName + "-reconciler"
	m := metrics.NewServerMetrics(name, nil)
	svc := &reconcile.Service{
		Ledger:      &checkout.PGStore{DB: db},
		Redis:       rdb,
		Metrics:     m,
		ServiceName: name,
	}

	// metrics only
	msrv := &http.Server{Addr: cfg.HTTPAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := msrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics listen: %v", err)
		}
	}()

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReconcilerGroup, checkout.TopicPaymentUnreconciled, cfg.ReconcilerWorkers, name)
	go func() {
		log.Printf("reconciler started: group=%s topic=%s workers=%d", cfg.ReconcilerGroup, checkout.TopicPaymentUnreconciled, cfg.ReconcilerWorkers)
		if err := cons.Start(ctx, svc.HandleUnreconciledPayment); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Println("shutting down reconciler...")
	cancel()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = msrv.Shutdown(ctx2)
}
