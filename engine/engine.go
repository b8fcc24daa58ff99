package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"sellwatch/ledger"
	"sellwatch/market"
	"sellwatch/policy"
)

// 平仓原因，同时作为账本与提醒中的记录文案。
const (
	ReasonTakeProfit   = "止盈"
	ReasonStopLoss     = "止损"
	ReasonTrailingStop = "追踪止损"
)

// Options 引擎的运行参数。
type Options struct {
	// Symbol 监听的交易对（大写，如 ETHUSDC）。
	Symbol string
	// Interval 行情K线周期，作为持仓K线数的时间刻度。
	Interval string
	// Params 动态止盈止损策略参数，nil 时使用默认值。
	Params *policy.Params
	// OrderTimeout 单次平仓执行（查询+下单）的超时。
	OrderTimeout time.Duration
}

// Engine 卖出监听引擎：单一顺序循环，逐个行情逐个仓位地评估平仓条件。
// 所有可变状态（追踪状态、已处理集合）只被该循环访问。
type Engine struct {
	symbol   string
	barMs    int64
	params   *policy.Params
	store    Store
	exec     *ExitExecutor
	notifier Notifier
	registry *trailRegistry
	// handled 进程生命周期内已平仓的仓位ID，避免账本尚未落盘时重复触发。
	handled map[string]struct{}
}

// New 组装引擎。notifier 可为 nil（不推送提醒）。
func New(opts Options, store Store, client TradingClient, notifier Notifier) *Engine {
	return &Engine{
		symbol:   market.Normalize(opts.Symbol),
		barMs:    intervalMillis(opts.Interval),
		params:   policy.Resolve(opts.Params),
		store:    store,
		exec:     NewExitExecutor(client, opts.OrderTimeout),
		notifier: notifier,
		registry: newTrailRegistry(),
		handled:  make(map[string]struct{}),
	}
}

// Run 消费行情直到 ctx 取消或通道关闭。每条行情的全部处理在下一条行情之前完成。
func (e *Engine) Run(ctx context.Context, ticks <-chan market.Tick) error {
	e.logPolicyBanner()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			e.handleTick(ctx, tick)
		}
	}
}

// handleTick 处理一条行情：刷新未平仓列表（买入端新开的仓位即时纳入追踪）、
// 逐仓评估、清理已不在账本中的追踪状态。
func (e *Engine) handleTick(ctx context.Context, tick market.Tick) {
	open, err := e.store.LoadOpenPositions()
	if err != nil {
		log.Warn().Err(err).Msg("⚠ 读取账本失败，本轮按无持仓处理")
		return
	}

	active := make(map[string]struct{}, len(open))
	ids := make([]string, 0, len(open))
	for id := range open {
		active[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, done := e.handled[id]; done {
			continue
		}
		e.evaluate(ctx, id, open[id], tick)
	}

	for _, id := range e.registry.cleanup(active) {
		log.Debug().Msgf("🧹 移除已平仓仓位的追踪状态: %s", id)
	}
}

// evaluate 对单个仓位执行一轮完整评估：极值更新 → 激活判定 → 触发判定 → 执行与落账。
func (e *Engine) evaluate(ctx context.Context, id string, pos ledger.Position, tick market.Tick) {
	state := e.registry.ensure(id, pos)
	price := tick.Close

	e.registry.observe(state, pos.Direction, price)

	bars := barsHeld(state, tick.CloseTime, e.barMs)

	var priceProfitPct float64
	if pos.EntryPrice > 0 {
		if pos.Direction.IsLong() {
			priceProfitPct = (price - pos.EntryPrice) / pos.EntryPrice * 100
		} else {
			priceProfitPct = (pos.EntryPrice - price) / pos.EntryPrice * 100
		}
	}
	contractProfitPct := priceProfitPct * e.params.Leverage

	weak := e.params.IsWeak(bars, contractProfitPct)

	if state.Activated == policy.ActivationNone {
		switch act := e.params.ShouldActivateTrail(bars, contractProfitPct, priceProfitPct); act {
		case policy.ActivationWeak:
			state.Activated = act
			state.TrailPct = e.params.TrailPct(act)
			log.Info().Msgf("🔔 激活追踪[弱势] 仓位ID %s | bars %d | 合约收益 %.2f%% < %.2f%% -> %.0f%%追踪",
				id, bars, contractProfitPct, e.params.WeakContractThreshold(), state.TrailPct*100)
		case policy.ActivationNormal:
			state.Activated = act
			state.TrailPct = e.params.TrailPct(act)
			log.Info().Msgf("🔔 激活追踪[正常] 仓位ID %s | bars %d | 价格浮盈 %.4f%% ≥ %.4f%% -> %.0f%%追踪",
				id, bars, priceProfitPct, e.params.PriceProfitGatePct(), state.TrailPct*100)
		}
	}

	reason, triggerLine := e.decide(pos, state, price, bars, weak)
	if reason == "" {
		return
	}

	log.Info().Msgf("📤 卖出(%s): 仓位ID %s | %s | 入场 %.2f | 当前 %.2f%s",
		reason, id, pos.Direction, pos.EntryPrice, price, triggerLine)

	fill, ok, err := e.exec.Close(ctx, e.symbol, pos.Direction, reason)
	if err != nil {
		// 账本不动，下一条行情会重试；若其间仓位被外部平掉，重试会正确落入竞态分支
		log.Error().Err(err).Msgf("❌ 平仓失败，跳过账本更新: 仓位ID %s", id)
		return
	}
	if !ok {
		return
	}

	pct := closedPct(pos.Direction, reason, pos.EntryPrice, fill.AvgPrice)
	log.Info().Msgf("   实际成交价: %.2f | 幅度: %.2f%% | 数量: %.4f", fill.AvgPrice, pct, fill.Quantity)

	marked := e.store.MarkClosed(ledger.CloseRecord{
		TradeID:    id,
		EntryPrice: pos.EntryPrice,
		Direction:  pos.Direction,
		ClosePrice: fill.AvgPrice,
		Reason:     reason,
		Pct:        pct,
		CloseTSMs:  tick.CloseTime,
	})
	if !marked {
		log.Warn().Msgf("⚠ 账本更新失败，但实盘已平仓: 仓位ID %s（需人工核对）", id)
	}
	// 实盘已平仓就必须去重，哪怕账本没写成功
	e.handled[id] = struct{}{}

	e.notifyClose(ctx, id, pos, fill, reason, pct)
}

// decide 返回本轮的平仓原因（空串表示不动作）。每个仓位每条行情至多触发一种动作。
func (e *Engine) decide(pos ledger.Position, state *TrailState, price float64, bars int, weak bool) (string, string) {
	tpPct := e.params.TakeProfitPct(bars)
	slPct := e.params.StopLossPct(bars, weak)

	if pos.Direction.IsLong() {
		if state.Activated != policy.ActivationNone {
			trailing := state.High * (1 - state.TrailPct)
			fixed := pos.EntryPrice * (1 - slPct)
			// 生效止损取两者中更保护本金的一条：追踪线不允许低于固定止损
			stop := math.Max(trailing, fixed)
			if price <= stop {
				return ReasonTrailingStop, fmt.Sprintf(" | 触发线 %.2f", stop)
			}
			if price >= pos.EntryPrice*(1+tpPct) {
				return ReasonTakeProfit, ""
			}
			return "", ""
		}
		if price >= pos.EntryPrice*(1+tpPct) {
			return ReasonTakeProfit, ""
		}
		if price <= pos.EntryPrice*(1-slPct) {
			return ReasonStopLoss, ""
		}
		return "", ""
	}

	if state.Activated != policy.ActivationNone {
		trailing := state.Low * (1 + state.TrailPct)
		fixed := pos.EntryPrice * (1 + slPct)
		stop := math.Min(trailing, fixed)
		if price >= stop {
			return ReasonTrailingStop, fmt.Sprintf(" | 触发线 %.2f", stop)
		}
		if price <= pos.EntryPrice*(1-tpPct) {
			return ReasonTakeProfit, ""
		}
		return "", ""
	}
	if price <= pos.EntryPrice*(1-tpPct) {
		return ReasonTakeProfit, ""
	}
	if price >= pos.EntryPrice*(1+slPct) {
		return ReasonStopLoss, ""
	}
	return "", ""
}

// closedPct 按实际成交价计算记录用的幅度：止盈记有利方向的涨跌幅，止损类记回撤幅度。
func closedPct(dir ledger.Direction, reason string, entry, fillPrice float64) float64 {
	if entry <= 0 {
		return 0
	}
	change := (fillPrice - entry) / entry * 100
	if !dir.IsLong() {
		change = -change
	}
	if reason == ReasonTakeProfit {
		return change
	}
	return -change
}

func (e *Engine) notifyClose(ctx context.Context, id string, pos ledger.Position, fill *Fill, reason string, pct float64) {
	if e.notifier == nil {
		return
	}
	text := fmt.Sprintf("📤 %s %s 平仓(%s)\n仓位ID %s\n入场 %.2f → 成交 %.2f (%.2f%%)\n数量 %.4f",
		e.symbol, pos.Direction, reason, id, pos.EntryPrice, fill.AvgPrice, pct, fill.Quantity)
	if err := e.notifier.Notify(ctx, text); err != nil {
		log.Warn().Err(err).Msg("⚠ 平仓提醒推送失败")
	}
}

// intervalMillis 把K线周期（如 1m、5m、1h）换算成毫秒，无法识别时按1分钟处理。
func intervalMillis(interval string) int64 {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if len(interval) < 2 {
		return 60_000
	}
	n := int64(0)
	for _, r := range interval[:len(interval)-1] {
		if r < '0' || r > '9' {
			return 60_000
		}
		n = n*10 + int64(r-'0')
	}
	if n == 0 {
		return 60_000
	}
	switch interval[len(interval)-1] {
	case 's':
		return n * 1000
	case 'm':
		return n * 60_000
	case 'h':
		return n * 3_600_000
	case 'd':
		return n * 86_400_000
	default:
		return 60_000
	}
}

// logPolicyBanner 启动时输出当前生效的策略参数。
func (e *Engine) logPolicyBanner() {
	p := e.params
	log.Info().Msg(strings.Repeat("━", 40))
	log.Info().Msgf("卖出监听已启动 %s (杠杆 %.0fx)", e.symbol, p.Leverage)
	log.Info().Msgf("止盈: %d根内 %.2f%% | %d根后 %.2f%%",
		p.TrailStartBars, p.TakeProfitPct(0)*100, p.TrailStartBars, p.TakeProfitPct(p.TrailStartBars+1)*100)
	log.Info().Msgf("止损: %d根内 %.2f%% | 弱势 %.2f%% | %d根后 %.2f%% | %d根后弱势 %.2f%%",
		p.TrailStartBars, p.StopLossPct(0, false)*100, p.StopLossPct(0, true)*100,
		p.TrailStartBars, p.StopLossPct(p.TrailStartBars+1, false)*100,
		p.TrailStartBars, p.StopLossPct(p.TrailStartBars+1, true)*100)
	log.Info().Msgf("追踪止损: 激活后回撤 %.0f%%(弱势) / %.0f%%(正常)", p.TrailPctWeak*100, p.TrailPctNormal*100)
	log.Info().Msgf("弱势判定: bars>%d 且 合约收益<%.0f%%", p.MaxHoldBars, p.WeakContractThreshold())
	log.Info().Msg(strings.Repeat("━", 40))
}
