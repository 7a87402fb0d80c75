package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"p2p-pricer/internal/api"
	"p2p-pricer/internal/config"
	"p2p-pricer/internal/database"
	"p2p-pricer/internal/pricing"
	"p2p-pricer/internal/services/venue"
	"p2p-pricer/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize configuration
	cfg := config.Load()

	if cfg.VenueAPIKey == "" {
		log.Println("⚠️  平台API密钥未配置，改价请求将被平台拒绝")
	}

	// Initialize database
	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	ruleStore := store.NewRuleStore(db)
	logStore := store.NewLogStore(db)

	// 平台客户端
	venueClient := venue.NewClient(cfg.VenueBaseURL, cfg.VenueAPIKey, cfg.VenueSecret)
	venueClient.SetReferenceSampleSize(cfg.ReferenceSampleSize)

	// 执行日志实时推送
	hub := api.NewLogHub()
	sink := api.NewStreamingSink(logStore, hub)

	// 调价引擎与调度器
	engine := pricing.NewEngine(venueClient, ruleStore, sink, log.Default())
	engine.SetCycleTimeout(time.Duration(cfg.CycleTimeoutSeconds) * time.Second)

	scheduler := pricing.NewScheduler(engine, ruleStore, log.Default())
	scheduler.SetRefreshInterval(time.Duration(cfg.RuleRefreshSeconds) * time.Second)
	scheduler.SetDefaultInterval(time.Duration(cfg.DefaultCheckIntervalSeconds) * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler:", err)
	}

	// Initialize Gin router
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API routes
	apiGroup := r.Group("/api/v1")
	api.SetupRoutes(apiGroup, ruleStore, logStore, scheduler, hub)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error:", err)
		}
	}()

	// 等待关闭信号，先停调度器再停HTTP
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("收到关闭信号，正在优雅关闭...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Printf("调度器停止超时: %v", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP服务停止失败: %v", err)
	}
}
