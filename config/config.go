// Package config 从环境变量(含 .env)装配运行配置。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"sellwatch/policy"
)

// Backend 选择账本的持久化实现。
type Backend string

const (
	BackendCSV    Backend = "csv"
	BackendSQLite Backend = "sqlite"
)

type Config struct {
	Symbol        string
	KlineInterval string

	LedgerPath    string
	LedgerBackend Backend

	BinanceAPIKey    string
	BinanceSecretKey string

	TelegramBotToken string
	TelegramChatID   int64

	WSReconnectBackoff time.Duration
	OrderTimeout       time.Duration
	LogLevel           string

	Policy *policy.Params
}

// Load 读取 .env(若存在)与环境变量。缺省值与线上运行的参数一致。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Symbol:             getString("SYMBOL", "ETHUSDC"),
		KlineInterval:      getString("KLINE_INTERVAL", "1m"),
		LedgerPath:         getString("LEDGER_PATH", "trade_signals.csv"),
		BinanceAPIKey:      os.Getenv("BINANCE_API_KEY"),
		BinanceSecretKey:   os.Getenv("BINANCE_SECRET_KEY"),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:     getInt64("TELEGRAM_CHAT_ID", 0),
		WSReconnectBackoff: getDuration("WS_RECONNECT_BACKOFF", 3*time.Second),
		OrderTimeout:       getDuration("ORDER_TIMEOUT", 10*time.Second),
		LogLevel:           getString("LOG_LEVEL", "info"),
	}

	cfg.LedgerBackend = resolveBackend(getString("LEDGER_BACKEND", ""), cfg.LedgerPath)

	cfg.Policy = policy.Resolve(&policy.Params{
		Leverage:              getFloat("LEVERAGE", 0),
		TakeProfitContractPct: getFloat("TP_BASE_CONTRACT_PCT", 0),
		StopLossContractPct:   getFloat("SL_BASE_CONTRACT_PCT", 0),
		MaxHoldBars:           getInt("MAX_HOLD_BARS", 0),
		TrailStartBars:        getInt("TRAIL_START_BARS", 0),
		LateTakeProfitFactor:  getFloat("LATE_TP_FACTOR", 0),
		LateStopLossFactor:    getFloat("LATE_SL_FACTOR", 0),
		WeakStopLossTighten:   getFloat("WEAK_SL_TIGHTEN", 0),
		TrailPctWeak:          getFloat("TRAIL_PCT_WEAK", 0),
		TrailPctNormal:        getFloat("TRAIL_PCT_NORMAL", 0),
		ActivationProfitRatio: getFloat("ACTIVATION_PROFIT_RATIO", 0),
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("SYMBOL 不能为空")
	}
	if c.BinanceAPIKey == "" || c.BinanceSecretKey == "" {
		return fmt.Errorf("必须配置 BINANCE_API_KEY 与 BINANCE_SECRET_KEY")
	}
	if c.TelegramBotToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("配置了 TELEGRAM_BOT_TOKEN 就必须同时配置 TELEGRAM_CHAT_ID")
	}
	if c.Policy.Leverage <= 0 {
		return fmt.Errorf("LEVERAGE 必须为正数")
	}
	if c.Policy.TakeProfitContractPct <= 0 || c.Policy.StopLossContractPct <= 0 {
		return fmt.Errorf("止盈/止损基准必须为正数")
	}
	return nil
}

// resolveBackend 未显式指定后端时按账本文件后缀推断。
func resolveBackend(explicit, path string) Backend {
	switch strings.ToLower(explicit) {
	case string(BackendCSV):
		return BackendCSV
	case string(BackendSQLite):
		return BackendSQLite
	}
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".db") || strings.HasSuffix(lower, ".sqlite") {
		return BackendSQLite
	}
	return BackendCSV
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
