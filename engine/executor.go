package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"sellwatch/ledger"
)

// ExitExecutor 把平仓决定落实为真实的交易所订单。
type ExitExecutor struct {
	client  TradingClient
	timeout time.Duration
}

// NewExitExecutor 创建执行器；timeout 限制单次平仓（查询+下单）的总耗时。
func NewExitExecutor(client TradingClient, timeout time.Duration) *ExitExecutor {
	return &ExitExecutor{client: client, timeout: timeout}
}

// Close 查询该方向的实际持仓并市价全平。
// 仓位已不存在（如被交易所侧止盈单先行触发）属预期竞态：返回 ok=false 且无错误。
// 后续盈亏计算必须使用返回的实际成交均价，而不是触发决策的行情价。
func (x *ExitExecutor) Close(ctx context.Context, symbol string, dir ledger.Direction, reason string) (fill *Fill, ok bool, err error) {
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	positions, err := x.client.GetPositions(ctx, symbol)
	if err != nil {
		return nil, false, fmt.Errorf("查询持仓失败: %w", err)
	}

	side := dir.PositionSide()
	var quantity float64
	for _, p := range positions {
		if p.Side == side {
			quantity = math.Abs(p.Quantity)
			break
		}
	}
	if quantity == 0 {
		log.Warn().Msgf("⚠ 未找到%s持仓，可能已被止盈单触发", dir)
		return nil, false, nil
	}

	fill, err = x.client.ClosePosition(ctx, symbol, side, quantity, reason)
	if err != nil {
		return nil, false, fmt.Errorf("平仓下单失败: %w", err)
	}
	// 市价单可能无错误但未成交（如 EXPIRED，均价为 0）。此时仓位仍在，
	// 不能按成交落账，交给下一条行情重试。
	if fill == nil || fill.AvgPrice <= 0 {
		return nil, false, fmt.Errorf("平仓单未成交，均价为 0: %s %s", symbol, side)
	}
	if fill.Quantity == 0 {
		fill.Quantity = quantity
	}
	return fill, true, nil
}
