// Package ledger 负责仓位账本的读写：买入端追加开仓记录，本模块在平仓时原地回写。
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout 账本中时间字段的格式。
const TimeLayout = "2006-01-02 15:04:05"

// Direction 表示仓位方向，取值与账本中的记录保持一致。
type Direction string

const (
	// Long 做多仓位。
	Long Direction = "做多"
	// Short 做空仓位。
	Short Direction = "做空"
)

// ParseDirection 解析方向字段，兼容中英文写法。
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "做多", "long", "buy":
		return Long, true
	case "做空", "short", "sell":
		return Short, true
	default:
		return "", false
	}
}

// IsLong reports whether the position profits from rising prices.
func (d Direction) IsLong() bool {
	return d == Long
}

// PositionSide 返回交易所双向持仓模式下对应的方向标识。
func (d Direction) PositionSide() string {
	if d.IsLong() {
		return "LONG"
	}
	return "SHORT"
}

// Position 账本中的一条未平仓记录。
type Position struct {
	TradeID    string
	EntryPrice float64
	Direction  Direction
	// EntryTime 开仓时间；零值表示账本中缺失，此时按持仓0根K线处理。
	EntryTime time.Time
}

// EntryTimestampMs 返回开仓时间的毫秒时间戳，未知时为 0。
func (p Position) EntryTimestampMs() int64 {
	if p.EntryTime.IsZero() {
		return 0
	}
	return p.EntryTime.UnixMilli()
}

// FallbackTradeID 在账本缺少仓位ID列时，用方向+入场价合成一个稳定的标识。
func FallbackTradeID(entryPriceRaw string, dir string) string {
	return fmt.Sprintf("NO_ID_%s_%s", entryPriceRaw, dir)
}

// CloseRecord 平仓后需要回写账本的信息。Pct 为按实际成交价计算的幅度（%）。
type CloseRecord struct {
	TradeID    string
	EntryPrice float64
	Direction  Direction
	ClosePrice float64
	Reason     string
	Pct        float64
	// CloseTSMs 平仓时刻（毫秒），取触发平仓的那根K线的收盘时间。
	CloseTSMs int64
}

// Record 账本中的一行（含已平仓行），供报表等只读消费方使用。
type Record struct {
	Position
	Closed      bool
	OrderAmount float64
	ExitPrice   float64
	ExitTime    string
	HoldBars    int
	PnL         float64
	Remark      string
}
