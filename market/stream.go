package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const defaultWSBase = "wss://fstream.binance.com/ws"

// Stream 维护单一交易对K线流的长连接：断开后等待固定间隔重连，直到被取消。
type Stream struct {
	symbol   string
	interval string
	backoff  time.Duration
	dialer   *websocket.Dialer
	url      string
}

// NewStream 创建 <symbol>@kline_<interval> 的行情流客户端。
func NewStream(symbol, interval string, backoff time.Duration) *Stream {
	if backoff <= 0 {
		backoff = 3 * time.Second
	}
	s := strings.ToLower(strings.TrimSpace(symbol))
	return &Stream{
		symbol:   s,
		interval: interval,
		backoff:  backoff,
		dialer:   websocket.DefaultDialer,
		url:      fmt.Sprintf("%s/%s@kline_%s", defaultWSBase, s, interval),
	}
}

// Ticks 启动接收协程，返回惰性的无限 Tick 序列。
// 解析失败的报文被直接丢弃；连接断开后按固定间隔重连；ctx 取消时通道关闭。
func (s *Stream) Ticks(ctx context.Context) <-chan Tick {
	out := make(chan Tick, 16)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			s.runOnce(ctx, out)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.backoff):
			}
		}
	}()
	return out
}

// runOnce 建立一次连接并持续读取，直到连接出错或 ctx 取消。
func (s *Stream) runOnce(ctx context.Context, out chan<- Tick) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msgf("⚠ 行情流连接失败，%.0f秒后重连", s.backoff.Seconds())
		}
		return
	}
	defer conn.Close()

	// ctx 取消时主动断开连接，让阻塞中的 ReadMessage 返回
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	log.Info().Msgf("✅ 行情流已连接: %s@kline_%s", s.symbol, s.interval)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msgf("⚠ 行情流断开，%.0f秒后重连", s.backoff.Seconds())
			}
			return
		}
		tick, ok := parseTick(raw)
		if !ok {
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return
		}
	}
}
