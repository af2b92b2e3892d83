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
	// SQLite 等锁时长，需大于网关超时
	DBBusyTimeout time.Duration

	LogLevel string
	LogDev   bool

	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔）、Topic、消费者组
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis Stream outbox（结算成功后原子入流，Relay 异步转 Kafka）
	SettlementStream   string
	SettlementGroup    string
	SettlementConsumer string

	// 支付网关（Iamport）
	GatewayURL         string
	GatewayKey         string
	GatewaySecret      string
	GatewayTimeout     time.Duration
	GatewayMaxFailures int

	// 结算接口限流
	CheckoutRateLimit  int
	CheckoutRateWindow time.Duration

	// 对账任务
	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration
	ReconcileMaxAge   time.Duration
	ReconcileBatch    int
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DBPath:             getEnv("DB_PATH", "onlineshop.db"),
		DBBusyTimeout:      15 * time.Second,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:            0,
		KafkaBrokers:       splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "onlineshop-settlements"),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "onlineshop-settlement-consumer"),
		SettlementStream:   getEnv("SETTLEMENT_STREAM", "onlineshop:settlement_events"),
		SettlementGroup:    getEnv("SETTLEMENT_GROUP", "onlineshop-relay-group"),
		SettlementConsumer: getEnv("SETTLEMENT_CONSUMER", "onlineshop-relay-1"),
		GatewayURL:         getEnv("IAMPORT_API_URL", "https://api.iamport.kr"),
		GatewayKey:         getEnv("IAMPORT_KEY", ""),
		GatewaySecret:      getEnv("IAMPORT_SECRET", ""),
		GatewayTimeout:     10 * time.Second,
		GatewayMaxFailures: 5,
		CheckoutRateLimit:  10,
		CheckoutRateWindow: time.Minute,
		ReconcileInterval:  time.Minute,
		ReconcileGrace:     10 * time.Minute,
		ReconcileMaxAge:    24 * time.Hour,
		ReconcileBatch:     100,
	}

	logDev, err := getEnvBool("LOG_DEV", false)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid LOG_DEV: %w", err)
	}
	cfg.LogDev = logDev

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	if cfg.GatewayTimeout, err = getEnvSeconds("GATEWAY_TIMEOUT_SEC", cfg.GatewayTimeout); err != nil {
		return AppConfig{}, err
	}
	maxFailures, err := getEnvInt("GATEWAY_MAX_FAILURES", cfg.GatewayMaxFailures)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid GATEWAY_MAX_FAILURES: %w", err)
	}
	if maxFailures <= 0 {
		return AppConfig{}, fmt.Errorf("GATEWAY_MAX_FAILURES must be > 0")
	}
	cfg.GatewayMaxFailures = maxFailures

	rateLimit, err := getEnvInt("CHECKOUT_RATE_LIMIT", cfg.CheckoutRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CHECKOUT_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("CHECKOUT_RATE_LIMIT must be > 0")
	}
	cfg.CheckoutRateLimit = rateLimit

	if cfg.CheckoutRateWindow, err = getEnvSeconds("CHECKOUT_RATE_WINDOW_SEC", cfg.CheckoutRateWindow); err != nil {
		return AppConfig{}, err
	}
	if cfg.ReconcileInterval, err = getEnvSeconds("RECONCILE_INTERVAL_SEC", cfg.ReconcileInterval); err != nil {
		return AppConfig{}, err
	}
	if cfg.ReconcileGrace, err = getEnvSeconds("RECONCILE_GRACE_SEC", cfg.ReconcileGrace); err != nil {
		return AppConfig{}, err
	}
	if cfg.ReconcileMaxAge, err = getEnvSeconds("RECONCILE_MAX_AGE_SEC", cfg.ReconcileMaxAge); err != nil {
		return AppConfig{}, err
	}
	batch, err := getEnvInt("RECONCILE_BATCH_SIZE", cfg.ReconcileBatch)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid RECONCILE_BATCH_SIZE: %w", err)
	}
	if batch <= 0 {
		return AppConfig{}, fmt.Errorf("RECONCILE_BATCH_SIZE must be > 0")
	}
	cfg.ReconcileBatch = batch

	if cfg.DBBusyTimeout, err = getEnvSeconds("DB_BUSY_TIMEOUT_SEC", cfg.DBBusyTimeout); err != nil {
		return AppConfig{}, err
	}
	if cfg.DBBusyTimeout <= cfg.GatewayTimeout {
		return AppConfig{}, fmt.Errorf("DB_BUSY_TIMEOUT_SEC must be greater than GATEWAY_TIMEOUT_SEC")
	}

	if cfg.ReconcileMaxAge <= cfg.ReconcileGrace {
		return AppConfig{}, fmt.Errorf("RECONCILE_MAX_AGE_SEC must be greater than RECONCILE_GRACE_SEC")
	}

	if cfg.GatewayURL == "" {
		return AppConfig{}, fmt.Errorf("IAMPORT_API_URL must not be empty")
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
	if cfg.SettlementStream == "" {
		return AppConfig{}, fmt.Errorf("SETTLEMENT_STREAM must not be empty")
	}
	if cfg.SettlementGroup == "" {
		return AppConfig{}, fmt.Errorf("SETTLEMENT_GROUP must not be empty")
	}
	if cfg.SettlementConsumer == "" {
		return AppConfig{}, fmt.Errorf("SETTLEMENT_CONSUMER must not be empty")
	}

	return cfg, nil
}

// SQLiteDSN 在 DBPath 上附加 busy timeout 与 WAL。
func (c AppConfig) SQLiteDSN() string {
	sep := "?"
	if strings.Contains(c.DBPath, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d&_journal_mode=WAL", c.DBPath, sep, c.DBBusyTimeout.Milliseconds())
}

// SweepLockTTL 对账锁的过期时间：至少两个周期，且覆盖一整批交易各两次网关调用的最坏耗时。
func (c AppConfig) SweepLockTTL() time.Duration {
	ttl := 2 * c.ReconcileInterval
	if worst := time.Duration(c.ReconcileBatch) * 2 * c.GatewayTimeout; worst > ttl {
		ttl = worst
	}
	return ttl
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

func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

// getEnvSeconds 读取以秒为单位的正整数时长。
func getEnvSeconds(key string, fallback time.Duration) (time.Duration, error) {
	sec, err := getEnvInt(key, int(fallback.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if sec <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return time.Duration(sec) * time.Second, nil
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
