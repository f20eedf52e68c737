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

	"logosnode/config"
	"logosnode/engine"
	"logosnode/gateway"
	"logosnode/messaging"
	"logosnode/model"
	"logosnode/peerview"
	"logosnode/store"
	"logosnode/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "logosnode.yaml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Println("logosnode", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !cfg.TierPrefixMatches() {
		log.Printf("logosnode: node id %s does not carry tier prefix %s-", cfg.Node.ID, cfg.Tier.Name)
	}

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	log.Printf("logosnode: database open (%s)", cfg.Database.Driver)

	// Redis cache for the peer table
	var cache *peerview.Cache
	if c, err := peerview.NewCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		log.Printf("logosnode: redis not available (%v), running without cache", err)
	} else {
		cache = c
		defer cache.Close()
		log.Printf("logosnode: redis connected (%s)", cfg.Redis.Address)
	}

	// Model engine backend
	var backend model.Backend
	switch cfg.Engine.Backend {
	case "http":
		backend = model.NewHTTPBackend(cfg.Engine.BaseURL, cfg.Engine.Timeout)
	default:
		backend = model.NewSimBackend(cfg.Engine.SimLatency)
	}
	if err := backend.Ping(); err == nil {
		log.Printf("logosnode: model engine connected (%s)", backend.Name())
	} else {
		log.Printf("logosnode: model engine not available (%v)", err)
	}

	// Messaging client; the consumer group must be unique per node so the
	// sync topic behaves as a broadcast.
	cfg.Messaging.Kafka.GroupID = cfg.Messaging.Kafka.GroupID + "-" + cfg.Node.ID
	cfg.Messaging.MQTT.ClientID = cfg.Messaging.MQTT.ClientID + "-" + cfg.Node.ID
	msgClient, err := messaging.New(cfg.Messaging)
	if err != nil {
		log.Fatalf("messaging: %v", err)
	}
	if err := msgClient.Connect(); err != nil {
		log.Printf("logosnode: messaging connect failed (%v)", err)
	} else {
		log.Printf("logosnode: messaging connected (%s)", cfg.Messaging.Backend)
	}
	defer msgClient.Close()

	// Engine
	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		DB:         db,
		Backend:    backend,
		MsgClient:  msgClient,
		Cache:      cache,
	})
	if err := eng.Start(); err != nil {
		log.Fatalf("engine start: %v", err)
	}
	defer eng.Stop()

	// Websocket gateway
	gw := gateway.NewServer(cfg.Node.ID, cfg.Tier.Name, cfg.Gateway, eng.Dispatcher(), eng.Status, eng)
	go func() {
		if err := gw.ListenAndServe(); err != nil {
			log.Fatalf("gateway: %v", err)
		}
	}()

	// Web server
	handler, stopWeb := www.NewRouter(eng)
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	go func() {
		log.Printf("logosnode: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("web server: %v", err)
		}
	}()

	log.Printf("logosnode: ready")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("logosnode: shutting down...")
	stopWeb()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	gw.Shutdown(shutdownCtx)
	srv.Shutdown(shutdownCtx)

	log.Printf("logosnode: stopped")
}
