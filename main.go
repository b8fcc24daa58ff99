package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"sellwatch/config"
	"sellwatch/engine"
	"sellwatch/ledger"
	"sellwatch/logger"
	"sellwatch/market"
	"sellwatch/notify"
	"sellwatch/trader"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("info")
		log.Fatal().Err(err).Msg("❌ 配置加载失败")
	}
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ 账本初始化失败")
	}
	defer closeStore()

	var notifier engine.Notifier = notify.Noop{}
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("⚠ Telegram 初始化失败，降级为不推送")
		} else {
			notifier = tg
		}
	}

	client := trader.NewBinance(cfg.BinanceAPIKey, cfg.BinanceSecretKey)

	eng := engine.New(engine.Options{
		Symbol:       cfg.Symbol,
		Interval:     cfg.KlineInterval,
		Params:       cfg.Policy,
		OrderTimeout: cfg.OrderTimeout,
	}, store, client, notifier)

	stream := market.NewStream(cfg.Symbol, cfg.KlineInterval, cfg.WSReconnectBackoff)

	log.Info().Msgf("🚀 启动卖出监听: %s @ %s | 账本 %s(%s)",
		cfg.Symbol, cfg.KlineInterval, cfg.LedgerPath, cfg.LedgerBackend)

	if err := eng.Run(ctx, stream.Ticks(ctx)); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("❌ 监听循环异常退出")
	}
	log.Info().Msg("👋 已停止")
}

// buildStore 按配置选择账本后端。返回的清理函数对 CSV 是空操作。
func buildStore(cfg *config.Config) (engine.Store, func(), error) {
	switch cfg.LedgerBackend {
	case config.BackendSQLite:
		store, err := ledger.NewSQLiteStore(cfg.LedgerPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return ledger.NewCSVStore(cfg.LedgerPath), func() {}, nil
	}
}
