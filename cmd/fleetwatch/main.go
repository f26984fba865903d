package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"

	"fleetwatch/bus"
	"fleetwatch/config"
	"fleetwatch/engine"
	"fleetwatch/logbuf"
	"fleetwatch/metrics"
	"fleetwatch/store"
	"fleetwatch/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.StringP("config", "c", "fleetwatch.yaml", "path to config file")
	port := flag.IntP("port", "p", 0, "HTTP port (overrides config)")
	busDriver := flag.String("bus", "", "event bus driver: memory, redis, kafka, mqtt, amqp")
	noSim := flag.Bool("no-simulation", false, "do not start the simulation loop at boot")
	flag.Parse()

	if *showVersion {
		fmt.Println("fleetwatch", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *port > 0 {
		cfg.Web.Port = *port
	}
	if *busDriver != "" {
		cfg.Bus.Driver = *busDriver
	}
	if *noSim {
		cfg.Simulation.Enabled = false
	}

	// Keep recent log lines for the logs API
	logs := logbuf.New(cfg.Log.BufferSize)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	log.Printf("fleetwatch: database open (%s)", cfg.Database.Driver)

	// Redis
	var redisClient *redis.Client
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rc.Ping(ctx).Err(); err != nil {
		log.Printf("fleetwatch: redis not available (%v), running without cache", err)
		rc.Close()
	} else {
		log.Printf("fleetwatch: redis connected (%s)", cfg.Redis.Address)
		redisClient = rc
		defer redisClient.Close()
	}
	cancel()

	// Event bus
	eventBus, err := bus.Open(cfg.Bus, redisClient, log.Printf)
	if err != nil {
		log.Printf("fleetwatch: bus %s unavailable (%v), falling back to memory", cfg.Bus.Driver, err)
		eventBus = bus.NewMemory(log.Printf)
	} else {
		log.Printf("fleetwatch: bus ready (%s)", cfg.Bus.Driver)
	}
	defer eventBus.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Engine
	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		DB:         db,
		Redis:      redisClient,
		Bus:        eventBus,
		Metrics:    m,
	})
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	eng.Start(runCtx)
	defer eng.Stop()

	// Web server
	handler, stopWeb := www.NewRouter(runCtx, eng, logs)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("fleetwatch: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("web server: %v", err)
		}
	}()

	log.Printf("fleetwatch: ready")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("fleetwatch: shutting down...")
	stopWeb()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("fleetwatch: web shutdown: %v", err)
	}
}
