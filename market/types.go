// Package market 提供行情接入：K线 WebSocket 长连接与少量 REST 查询。
package market

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Tick 一次解码后的行情更新，来自某根K线的推送（可能是未收盘的中间状态）。
type Tick struct {
	Symbol string
	Close  float64
	High   float64
	Low    float64
	// CloseTime 该K线的收盘时间（毫秒）。
	CloseTime int64
	// Final 该K线是否已收盘。
	Final bool
}

// EventTime 返回K线收盘时间对应的 time.Time。
func (t Tick) EventTime() time.Time {
	return time.UnixMilli(t.CloseTime)
}

// klineEvent 币安 <symbol>@kline_<interval> 推送的报文结构。
type klineEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Kline  struct {
		CloseTime int64  `json:"T"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Final     bool   `json:"x"`
	} `json:"k"`
}

// parseTick 把一条原始报文解码为 Tick；格式不符或字段残缺时返回 false，由调用方丢弃。
func parseTick(raw []byte) (Tick, bool) {
	var ev klineEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Event != "kline" {
		return Tick{}, false
	}

	closePrice, err := strconv.ParseFloat(ev.Kline.Close, 64)
	if err != nil || closePrice <= 0 {
		return Tick{}, false
	}
	high, err := strconv.ParseFloat(ev.Kline.High, 64)
	if err != nil {
		return Tick{}, false
	}
	low, err := strconv.ParseFloat(ev.Kline.Low, 64)
	if err != nil {
		return Tick{}, false
	}

	return Tick{
		Symbol:    ev.Symbol,
		Close:     closePrice,
		High:      high,
		Low:       low,
		CloseTime: ev.Kline.CloseTime,
		Final:     ev.Kline.Final,
	}, true
}

// Normalize 规整交易对写法（REST 与报文中使用大写，如 ETHUSDC）。
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
