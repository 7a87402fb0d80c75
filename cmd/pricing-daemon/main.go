package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"p2p-pricer/internal/config"
	"p2p-pricer/internal/database"
	"p2p-pricer/internal/pricing"
	"p2p-pricer/internal/services/venue"
	"p2p-pricer/internal/store"

	"github.com/joho/godotenv"
)

var (
	dbURL   = flag.String("db", "", "数据库连接字符串（如不指定，读环境变量/默认值）")
	logFile = flag.String("log", "", "日志文件路径")
	once    = flag.Bool("once", false, "只对所有活跃规则执行一轮，不常驻")
	refresh = flag.Int("refresh", 30, "规则列表刷新间隔（秒）")
	timeout = flag.Int("timeout", 30, "单轮评估超时（秒）")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// 初始化日志
	var logWriter *os.File
	var err error
	if *logFile != "" {
		logWriter, err = os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("无法打开日志文件: %v", err)
		}
		defer logWriter.Close()
	} else {
		logWriter = os.Stdout
	}
	logger := log.New(logWriter, "[PricingDaemon] ", log.LstdFlags)

	cfg := config.Load()
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("❌ 数据库连接失败: %v", err)
	}
	logger.Println("✅ 数据库连接成功")

	ruleStore := store.NewRuleStore(db)
	logStore := store.NewLogStore(db)

	venueClient := venue.NewClient(cfg.VenueBaseURL, cfg.VenueAPIKey, cfg.VenueSecret)
	venueClient.SetReferenceSampleSize(cfg.ReferenceSampleSize)

	engine := pricing.NewEngine(venueClient, ruleStore, logStore, logger)
	engine.SetCycleTimeout(time.Duration(*timeout) * time.Second)

	scheduler := pricing.NewScheduler(engine, ruleStore, logger)
	scheduler.SetRefreshInterval(time.Duration(*refresh) * time.Second)
	scheduler.SetDefaultInterval(time.Duration(cfg.DefaultCheckIntervalSeconds) * time.Second)

	if *once {
		logger.Println("单轮模式：对所有活跃规则执行一轮后退出")
		if err := scheduler.RunAllOnce(context.Background()); err != nil {
			logger.Fatalf("❌ 执行失败: %v", err)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatalf("❌ 调度器启动失败: %v", err)
	}
	logger.Printf("✅ 定价守护进程已启动 (PID: %d)", os.Getpid())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Println("🛑 收到关闭信号，正在优雅关闭...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		logger.Printf("调度器停止超时: %v", err)
	}
}
