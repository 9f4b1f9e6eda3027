package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/rosspathan/ipg-app-sub010/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type KafkaTopicsConfig struct {
	DLQ string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topics  KafkaTopicsConfig
}

type RedisConfig struct {
	Enabled bool
	Addr    string
	DB      int
}

type ChainConfig struct {
	GatewayURL        string
	APIKey            string
	HotWalletAddress  string
	FeeAccountID      string
	DepositLookback   int64
	ConfirmTimeout    time.Duration
	WithdrawalConfirm int64
}

type WorkersConfig struct {
	DepositScanInterval    time.Duration
	WithdrawalInterval     time.Duration
	ReconciliationInterval time.Duration
	StuckSweepInterval     time.Duration
	StuckAfter             time.Duration
	SettingsRefresh        time.Duration
}

type Config struct {
	App     base.AppConfig
	DB      DBConfig
	Kafka   KafkaConfig
	Redis   RedisConfig
	Chain   ChainConfig
	Workers WorkersConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("IPG_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "exchange"),
			User:     envString("POSTGRES_USER", "exchange"),
			Password: envString("POSTGRES_PASSWORD", "exchange"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Enabled: envBool("KAFKA_ENABLED", true),
			Brokers: envCSV("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topics: KafkaTopicsConfig{
				DLQ: envString("KAFKA_DLQ_TOPIC", "exchange.events.dlq"),
			},
		},
		Redis: RedisConfig{
			Enabled: envBool("REDIS_ENABLED", false),
			Addr:    envString("REDIS_ADDR", "localhost:6379"),
			DB:      envInt("REDIS_DB", 0),
		},
		Chain: ChainConfig{
			GatewayURL:        envString("CHAIN_GATEWAY_URL", "http://localhost:8545"),
			APIKey:            envString("CHAIN_GATEWAY_API_KEY", ""),
			HotWalletAddress:  envString("HOT_WALLET_ADDRESS", ""),
			FeeAccountID:      envString("FEE_ACCOUNT_ID", ""),
			DepositLookback:   int64(envInt("DEPOSIT_LOOKBACK_BLOCKS", 5000)),
			ConfirmTimeout:    envDuration("WITHDRAWAL_CONFIRM_TIMEOUT", 10*time.Minute),
			WithdrawalConfirm: int64(envInt("WITHDRAWAL_CONFIRMATIONS", 12)),
		},
		Workers: WorkersConfig{
			DepositScanInterval:    envDuration("DEPOSIT_SCAN_INTERVAL", 30*time.Second),
			WithdrawalInterval:     envDuration("WITHDRAWAL_INTERVAL", 60*time.Second),
			ReconciliationInterval: envDuration("RECONCILIATION_INTERVAL", 15*time.Minute),
			StuckSweepInterval:     envDuration("STUCK_SWEEP_INTERVAL", 5*time.Minute),
			StuckAfter:             envDuration("WITHDRAWAL_STUCK_AFTER", 30*time.Minute),
			SettingsRefresh:        envDuration("SETTINGS_REFRESH_INTERVAL", 30*time.Second),
		},
	}

	if cfg.DB.Host == "" || cfg.DB.Name == "" {
		return nil, fmt.Errorf("postgres host and database required")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required when kafka is enabled")
	}
	if cfg.Chain.GatewayURL == "" {
		return nil, fmt.Errorf("chain gateway url required")
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
