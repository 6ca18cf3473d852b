package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/chainrpc"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/completion"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/config"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/dispatch"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/execution"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/locationmatch"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/query"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/quorum"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/ratelimit"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/rules"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/server"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/wasmstore"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("🚀 Starting GeoLink execution service")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	log.Println("🗄️ Connecting to PostgreSQL database...")
	dbClient, err := database.NewClient(cfg, database.WithLogger(
		log.New(log.Writer(), "[Database] ", log.LstdFlags),
	))
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL database")

	if err := dbClient.MigrateUp(context.Background()); err != nil {
		log.Fatalf("❌ Database migration failed: %v", err)
	}
	log.Println("✅ Migrations applied")

	repos := database.NewRepositories(dbClient)
	contractRepo := repos.Contracts
	ruleRepo := repos.Rules
	geofenceRepo := repos.Geofences
	queueRepo := repos.Queue
	historyRepo := repos.History

	log.Printf("📡 Connecting to chain RPC at %s...", cfg.ChainRPCURL)
	chainClient := chainrpc.NewHTTPClient(cfg.ChainRPCURL, cfg.ChainPollAttempts, cfg.ChainPollInterval)

	wasmDir := getEnv("WASM_BLOB_DIR", "./data/wasm")
	blobs, err := wasmstore.NewFilesystemBlobStore(wasmDir)
	if err != nil {
		log.Fatalf("❌ Failed to initialize wasm blob store: %v", err)
	}

	registry := contracts.NewRegistry(contractRepo, chainClient)
	quorumOracle := quorum.NewOracle(ruleRepo, queueRepo, geofenceRepo)
	ruleStore := rules.NewStore(ruleRepo, quorumOracle)
	matcher := locationmatch.NewMatcher(ruleRepo, contractRepo, geofenceRepo)
	limiter := ratelimit.NewLimiter(historyRepo)
	wasmStore := wasmstore.NewStore(contractRepo, blobs)
	executor := execution.NewExecutor(contractRepo, chainClient, chainClient, cfg.NativeSACAddress)
	dispatcher := dispatch.NewDispatcher(matcher, queueRepo, historyRepo, contractRepo, limiter, ruleStore, ruleRepo, chainClient, executor)
	completionMgr := completion.NewManager(dbClient, queueRepo, historyRepo)
	queries := query.NewStore(queueRepo)

	srv := server.New(registry, ruleStore, matcher, dispatcher, completionMgr, queries, wasmStore, executor, []byte(cfg.JWTSecret))

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Routes(),
	}

	go func() {
		log.Printf("🌐 GeoLink API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("🛑 Shutting down GeoLink execution service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Printf("✅ GeoLink execution service stopped")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
