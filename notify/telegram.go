// Package notify 提供平仓事件的推送通道。
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Telegram 通过 Bot API 推送文本消息。推送失败只记日志，不影响交易流程。
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("初始化 Telegram Bot 失败: %w", err)
	}
	log.Info().Msgf("✅ Telegram 通知已启用: @%s", bot.Self.UserName)
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("发送 Telegram 消息失败: %w", err)
	}
	return nil
}

// Noop 在未配置推送通道时使用。
type Noop struct{}

func (Noop) Notify(ctx context.Context, text string) error { return nil }
