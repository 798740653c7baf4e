package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"strikeball/internal/api"
	"strikeball/internal/config"
	"strikeball/internal/match"
	"strikeball/internal/matchmaking"
	"strikeball/internal/sim"
	"strikeball/internal/store"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("⚽ ================================")
	log.Println("⚽  STRIKEBALL - MATCH SERVER")
	log.Println("⚽ ================================")

	// Load centralized configuration (SSOT - Single Source of Truth)
	appConfig := config.Load()
	simCfg := appConfig.Sim
	mmCfg := appConfig.Matchmaking
	serverCfg := appConfig.Server

	port := strconv.Itoa(serverCfg.Port)

	log.Printf("🎮 Config: %d TPS, field %.0fx%.0f, halves of %d ticks",
		simCfg.TickRate, simCfg.FieldWidth, simCfg.FieldHeight, simCfg.HalfTicks)
	log.Printf("🛡️ Anti-cheat: %g inputs/s per actor, exclusion after %d violations",
		simCfg.Validator.InputsPerSecond, simCfg.Validator.ViolationLimit)

	// Snapshot store. In-memory for now; the interface is where a
	// Redis or disk-backed store would plug in.
	snapStore := store.NewMemoryStore()

	// Session token verification. SESSION_SECRET enables the shared-secret
	// scheme; without it every token is accepted (development mode).
	var verifier sim.TokenVerifier
	if secret := os.Getenv("SESSION_SECRET"); secret != "" {
		verifier = sim.TokenVerifierFunc(func(actorID, token string) bool {
			return token == sim.SessionToken(secret, actorID)
		})
		log.Println("🔐 Session token verification ENABLED")
	} else {
		log.Println("⚠️ SESSION_SECRET not set - token verification disabled")
	}

	// Match manager owns the running engines
	managerCfg := match.DefaultManagerConfig()
	managerCfg.Engine = simCfg
	manager := match.NewManager(managerCfg, snapStore, verifier)

	// Matchmaking queue pairs actors and hands them to the manager
	queue := matchmaking.NewQueue(mmCfg)
	queue.OnMatch(func(created matchmaking.MatchCreated) {
		if _, err := manager.CreateMatch(created); err != nil {
			log.Printf("❌ Failed to create match %s: %v", created.MatchID, err)
		}
	})
	queue.OnTimeout(func(actorID string) {
		log.Printf("⌛ Matchmaking timeout for %s", actorID)
	})
	queue.Start()
	log.Println("✅ Matchmaking queue started")

	// Resume any matches left behind by a previous process
	for _, id := range splitIDs(os.Getenv("RESUME_MATCHES")) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := manager.Resume(ctx, id); err != nil {
			log.Printf("⚠️ Could not resume match %s: %v", id, err)
		}
		cancel()
	}

	// Start debug server
	debugCfg := api.DefaultObservabilityConfig()
	if os.Getenv("DISABLE_DEBUG_SERVER") != "true" {
		if err := api.StartDebugServer(debugCfg); err != nil {
			log.Printf("⚠️ Debug server disabled: %v", err)
		}
	}

	// Create API server
	server := api.NewServer(manager, queue)

	// Start API server in goroutine
	go func() {
		addr := ":" + port
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	queue.Stop()
	manager.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Printf("⚠️ Shutdown error: %v", err)
	}
	log.Println("👋 Goodbye!")
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
