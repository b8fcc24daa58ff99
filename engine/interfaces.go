// Package engine 实现卖出监听核心：消费行情、跟踪持仓极值、执行动态止盈止损与追踪止损。
package engine

import (
	"context"

	"sellwatch/ledger"
)

// TradingClient describes the minimum exchange API the exit engine needs.
// 与主交易客户端解耦，便于在测试中注入假实现。
type TradingClient interface {
	// GetPositions 查询某交易对当前各方向的实际持仓。
	GetPositions(ctx context.Context, symbol string) ([]PositionInfo, error)
	// ClosePosition 按方向市价平仓指定数量，返回实际成交结果。
	ClosePosition(ctx context.Context, symbol, positionSide string, quantity float64, reason string) (*Fill, error)
}

// PositionInfo 交易所返回的某一方向持仓。Side 取 LONG / SHORT。
type PositionInfo struct {
	Side     string
	Quantity float64
}

// Fill 平仓订单的成交结果。
type Fill struct {
	AvgPrice float64
	Quantity float64
}

// Store 仓位账本的读写接口（CSV 或 sqlite 后端）。
type Store interface {
	// LoadOpenPositions 返回当前全部未平仓记录；读取失败时应降级为空快照。
	LoadOpenPositions() (map[string]ledger.Position, error)
	// MarkClosed 将仓位标记为已平仓，全部重试失败时返回 false。
	MarkClosed(rec ledger.CloseRecord) bool
}

// Notifier 平仓提醒推送接口。
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
