package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ppg-validator/internal/analytics"
	"ppg-validator/internal/cache"
	"ppg-validator/internal/config"
	"ppg-validator/internal/events"
	"ppg-validator/internal/handlers"
	ppgsignal "ppg-validator/internal/signal"
	"ppg-validator/internal/source"
	"ppg-validator/internal/store"
)

const healthService = "ppg.validator"

func main() {
	log.Println("Starting PPG Waveform Validator Service...")

	// Конфигурация из environment variables
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Инициализация Redis
	redisCache, err := cache.NewRedisCache(
		cfg.RedisAddr,
		cfg.RedisPassword,
		cfg.RedisDB,
		cfg.VerdictTTL,
	)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()
	log.Println("Connected to Redis")

	// История вердиктов
	verdictStore, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open verdict store: %v", err)
	}
	defer verdictStore.Close()
	log.Printf("Verdict store opened at %s\n", cfg.DBPath)

	// Публикация сводок
	publisher := events.MultiPublisher{&events.LogPublisher{}}
	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer nc.Drain()
		publisher = append(publisher, events.NewNATSPublisher(nc, cfg.NATSSubject))
		log.Printf("Publishing summaries to NATS subject %s\n", cfg.NATSSubject)
	}

	// Инициализация классификатора
	pre := ppgsignal.NewPreprocessor()
	validator, err := analytics.NewValidator(cfg.Classifier, ppgsignal.NewPeakDetector(), pre)
	if err != nil {
		log.Fatalf("Failed to create validator: %v", err)
	}
	log.Printf("Validator ready: hz=%d nsec=%.1f window=%d workers=%d\n",
		cfg.Classifier.Hz, cfg.Classifier.NSec, cfg.Classifier.WindowSize(), cfg.Classifier.Workers)

	// Инициализация HTTP handlers
	handler := handlers.NewHandler(
		validator,
		pre,
		redisCache,
		verdictStore,
		source.NewCSVSource(cfg.DataDir),
		publisher,
		cfg.DefaultTrack,
	)

	// Настройка HTTP router
	router := mux.NewRouter()
	handler.Routes(router)

	// Prometheus metrics endpoint
	router.Handle("/prometheus", promhttp.Handler())

	// HTTP сервер
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// gRPC health для оркестратора
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	listener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatalf("Failed to listen on gRPC port %s: %v", cfg.GRPCPort, err)
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server listening on port %s\n", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	go func() {
		log.Printf("gRPC health listening on port %s\n", cfg.GRPCPort)
		if err := grpcServer.Serve(listener); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()

	// Периодическая проверка зависимостей
	probeCtx, stopProbe := context.WithCancel(context.Background())
	go monitorHealth(probeCtx, healthServer, redisCache, verdictStore)

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopProbe()
	healthServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	grpcServer.GracefulStop()

	log.Println("Server stopped gracefully")
}

type pinger interface {
	Ping(ctx context.Context) error
}

// monitorHealth периодически проверяет Redis и хранилище и обновляет статус gRPC health
func monitorHealth(ctx context.Context, hs *health.Server, deps ...pinger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	update := func() {
		status := grpc_health_v1.HealthCheckResponse_SERVING
		for _, d := range deps {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := d.Ping(pingCtx)
			cancel()
			if err != nil {
				log.Printf("Dependency check failed: %v", err)
				status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
				break
			}
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(healthService, status)
	}

	update()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
