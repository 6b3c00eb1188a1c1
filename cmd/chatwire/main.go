package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatwire/chatwire/internal/api"
	"github.com/chatwire/chatwire/internal/auth"
	"github.com/chatwire/chatwire/internal/cache"
	"github.com/chatwire/chatwire/internal/call"
	"github.com/chatwire/chatwire/internal/config"
	"github.com/chatwire/chatwire/internal/fanout"
	"github.com/chatwire/chatwire/internal/hub"
	"github.com/chatwire/chatwire/internal/metrics"
	"github.com/chatwire/chatwire/internal/policy"
	"github.com/chatwire/chatwire/internal/presence"
	"github.com/chatwire/chatwire/internal/service"
	"github.com/chatwire/chatwire/internal/store"
	"github.com/chatwire/chatwire/internal/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting chatwire...")
	log.Printf("Port: %d", cfg.Port)
	log.Printf("Database: %s", cfg.DatabaseURL)

	metrics.MustRegister()

	// Initialize durable store
	st, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	// Initialize policy engine
	pol, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize hub
	connectionHub := hub.NewHub()
	go connectionHub.Run()

	// Initialize message service with hub-backed fan-out
	svc := service.New(st, cache.New(), fanout.NewChannelPublisher(connectionHub), pol)

	// Initialize registries and signaling relay
	verifier := auth.NewStaticVerifier(cfg.APIKey)
	presenceRegistry := presence.NewRegistry()
	callRegistry := call.NewRegistry(cfg.RingTimeout)
	wsServer := ws.NewServer(cfg, connectionHub, verifier, presenceRegistry, callRegistry)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/ws", wsServer.HandleWebSocket)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	api.NewHandler(svc, verifier).RegisterRoutes(e)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %d", cfg.Port)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down chatwire...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Chatwire stopped")
}
