package config

import (
	"os"
	"strconv"
)

type Config struct {
	DatabaseURL string
	Port        string
	Environment string

	// P2P交易平台API配置
	VenueBaseURL string
	VenueAPIKey  string
	VenueSecret  string

	// 定价引擎配置
	CycleTimeoutSeconds         int // 单轮调价超时（秒）
	RuleRefreshSeconds          int // 规则列表刷新间隔（秒）
	ReferenceSampleSize         int // 市场参考价取样档数
	DefaultCheckIntervalSeconds int
}

func Load() *Config {
	// Default MySQL connection string
	defaultDSN := "root:root@tcp(127.0.0.1:3306)/p2p_pricer?charset=utf8mb4&parseTime=True&loc=Local"

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", defaultDSN),
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		VenueBaseURL: getEnv("VENUE_BASE_URL", "https://p2p.example-exchange.com"),
		VenueAPIKey:  getEnv("VENUE_API_KEY", ""),
		VenueSecret:  getEnv("VENUE_SECRET", ""),

		CycleTimeoutSeconds:         getEnvInt("CYCLE_TIMEOUT_SECONDS", 30),
		RuleRefreshSeconds:          getEnvInt("RULE_REFRESH_SECONDS", 30),
		ReferenceSampleSize:         getEnvInt("REFERENCE_SAMPLE_SIZE", 10),
		DefaultCheckIntervalSeconds: getEnvInt("DEFAULT_CHECK_INTERVAL_SECONDS", 60),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
