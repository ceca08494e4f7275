package main

import (
	"context"
	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	"github.com/ariefcatur/go-checkout-core/internal/config"
	"github.com/ariefcatur/go-checkout-core/internal/httpx"
	kafkax "github.com/ariefcatur/go-checkout-core/internal/kafka"
	"github.com/ariefcatur/go-checkout-core/internal/metrics"
	"github.com/ariefcatur/go-checkout-core/internal/payment"
	"github.com/ariefcatur/go-checkout-core/internal/postgres"
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
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PGMaxConns)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	if cfg.RunMigrations {
		if err := postgres.Migrate(db); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}
	store := &checkout.PGStore{DB: db}

	// Redis (fast path idempotency)
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer, topic per event
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, cfg.ServiceName)
	prod.Start()
	emitter := &kafkax.Emitter{Producer: prod, Service: cfg.ServiceName}

	// Payment
	var gateway checkout.PaymentGateway = payment.Stub{}
	if cfg.PaymentProvider == "stripe" {
		if cfg.StripeSecretKey == "" {
			log.Fatal("PAYMENT_PROVIDER=stripe needs STRIPE_SECRET_KEY")
		}
		gateway = payment.NewStripe(cfg.StripeSecretKey, cfg.PaymentCurrency, store)
	}
	gateway = payment.NewBreaker(gateway, payment.BreakerSettings{
		Name:    cfg.ServiceName + "-payment",
		Timeout: cfg.PaymentTimeout,
		OpenFor: 30 * time.Second,
	})

	// Service & handler
	m := metrics.NewServerMetrics(cfg.ServiceName, nil)
	svc := checkout.NewService(store, gateway, emitter, &redisx.IdempotencyCache{Redis: rdb}, cfg.Checkout(), cfg.ServiceName)
	svc.OnUnreconciled = func() { m.Reconciliations.WithLabelValues("api").Inc() }
	if cfg.DeliverySourceBranchID == "" {
		log.Println("DELIVERY_SOURCE_BRANCH_ID not set: delivery checkouts will fail with CONFIG_ERROR")
	}

	router := httpx.NewRouter(cfg.RequestTimeout + 5*time.Second)
	ch := &httpx.CheckoutHandler{
		Service: svc,
		Metrics: m,
		Timeout: cfg.RequestTimeout,
	}
	ch.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), cfg.RequestTimeout+5*time.Second)
	defer cancel2()
	// confirm yang sedang jalan diselesaikan dulu; yang telat publish dapat ErrProducerClosed
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	prod.Close()      // tutup inbox -> flush & close writer
	prod.WaitClosed() // drain
}
