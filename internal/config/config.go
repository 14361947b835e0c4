package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔）、Topic、消费者组
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis Stream outbox（定序器原子入流，Relay 异步转 Kafka）
	BidEventStream   string
	BidEventGroup    string
	BidEventConsumer string

	// 出价接口限流策略
	BidRateLimit  int
	BidRateWindow time.Duration

	// 每个拍卖的定序队列容量与排队超时上限
	BidQueueSize    int
	BidQueueTimeout time.Duration

	// 结算货币与静态汇率表（CSV：EUR=0.92,NGN=1520）
	CanonicalCurrency string
	ExchangeRates     map[string]string
	RateSnapshotTTL   time.Duration

	// 汇率快照预热接口的简单管理员令牌（demo 级别保护）
	AdminToken string
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		DBPath:            getEnv("DB_PATH", "live_auction.db"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:           0,
		KafkaBrokers:      splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "auction-bid-events"),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "auction-bid-consumer"),
		BidEventStream:    getEnv("BID_EVENT_STREAM", "live_auction:bid_events"),
		BidEventGroup:     getEnv("BID_EVENT_GROUP", "live-auction-relay-group"),
		BidEventConsumer:  getEnv("BID_EVENT_CONSUMER", "live-auction-relay-1"),
		BidRateLimit:      100,
		BidRateWindow:     time.Second,
		BidQueueSize:      1024,
		BidQueueTimeout:   3 * time.Second,
		CanonicalCurrency: getEnv("CANONICAL_CURRENCY", "USD"),
		RateSnapshotTTL:   24 * time.Hour,
		AdminToken:        getEnv("ADMIN_TOKEN", "dev-admin-token"),
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	rateLimit, err := getEnvInt("BID_RATE_LIMIT", cfg.BidRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BID_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("BID_RATE_LIMIT must be > 0")
	}
	cfg.BidRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("BID_RATE_WINDOW_SEC", int(cfg.BidRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BID_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("BID_RATE_WINDOW_SEC must be > 0")
	}
	cfg.BidRateWindow = time.Duration(rateWindowSec) * time.Second

	queueSize, err := getEnvInt("BID_QUEUE_SIZE", cfg.BidQueueSize)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BID_QUEUE_SIZE: %w", err)
	}
	if queueSize <= 0 {
		return AppConfig{}, fmt.Errorf("BID_QUEUE_SIZE must be > 0")
	}
	cfg.BidQueueSize = queueSize

	queueTimeoutMs, err := getEnvInt("BID_QUEUE_TIMEOUT_MS", int(cfg.BidQueueTimeout.Milliseconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BID_QUEUE_TIMEOUT_MS: %w", err)
	}
	if queueTimeoutMs <= 0 {
		return AppConfig{}, fmt.Errorf("BID_QUEUE_TIMEOUT_MS must be > 0")
	}
	cfg.BidQueueTimeout = time.Duration(queueTimeoutMs) * time.Millisecond

	snapshotTTLHour, err := getEnvInt("RATE_SNAPSHOT_TTL_HOUR", int(cfg.RateSnapshotTTL.Hours()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid RATE_SNAPSHOT_TTL_HOUR: %w", err)
	}
	if snapshotTTLHour <= 0 {
		return AppConfig{}, fmt.Errorf("RATE_SNAPSHOT_TTL_HOUR must be > 0")
	}
	cfg.RateSnapshotTTL = time.Duration(snapshotTTLHour) * time.Hour

	// 汇率表：1 结算货币 = rate 个显示货币。结算货币自身恒为 1。
	rates, err := parseRates(getEnv("EXCHANGE_RATES", "EUR=0.92,GBP=0.79,NGN=1520,JPY=147"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid EXCHANGE_RATES: %w", err)
	}
	cfg.ExchangeRates = rates

	if cfg.CanonicalCurrency == "" {
		return AppConfig{}, fmt.Errorf("CANONICAL_CURRENCY must not be empty")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if cfg.KafkaGroupID == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_GROUP_ID must not be empty")
	}
	if cfg.BidEventStream == "" {
		return AppConfig{}, fmt.Errorf("BID_EVENT_STREAM must not be empty")
	}
	if cfg.BidEventGroup == "" {
		return AppConfig{}, fmt.Errorf("BID_EVENT_GROUP must not be empty")
	}
	if cfg.BidEventConsumer == "" {
		return AppConfig{}, fmt.Errorf("BID_EVENT_CONSUMER must not be empty")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseRates 解析 CUR=RATE 键值对；数值合法性由 money 包在构建快照时校验。
func parseRates(value string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitCSV(value) {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, fmt.Errorf("bad rate pair %q", pair)
		}
		out[strings.ToUpper(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
	}
	return out, nil
}
