// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mpesa-payment-service/internal/config"
	"mpesa-payment-service/internal/infra/adapters/mpesa"
	"mpesa-payment-service/internal/infra/api"
	pg "mpesa-payment-service/internal/infra/db/postgres"
	"mpesa-payment-service/internal/infra/logging"
	"mpesa-payment-service/internal/infra/metrics"
	red "mpesa-payment-service/internal/infra/redis"
	"mpesa-payment-service/internal/infra/sched"
	"mpesa-payment-service/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, no redaction)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Runtime.Dev {
		log.Printf("[DEV MODE] Enabled")
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()

	// ---- Repositories ----
	sessionRepo := pg.NewCheckoutSessionRepo(pool)
	transactionRepo := pg.NewTransactionRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- Gateway ----
	gateway, err := mpesa.NewDarajaGateway(&cfg.Mpesa)
	if err != nil {
		log.Fatalf("daraja gateway: %v", err)
	}
	gateway.UseTokenSource(red.NewTokenCache(redisClient, gateway, cfg.Redis.TokenMargin))

	// ---- Use case ----
	paymentUC := usecase.NewPaymentUseCase(sessionRepo, transactionRepo, gateway, tm, logger)

	// ---- HTTP server ----
	srv := api.NewServer(paymentUC, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	// ---- Reconciler worker ----
	reconciler := sched.NewPaymentReconciler(paymentUC, cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter)
	go reconciler.Start(ctx)

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	log.Println("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
