package engine

import (
	"sellwatch/ledger"
	"sellwatch/policy"
)

// TrailState 记录单个仓位的追踪状态。仅存于进程内存：
// 进程重启后极值与激活状态会丢失，由首个行情以入场价重新播种。
type TrailState struct {
	// High / Low 持仓以来的有利极值，初始为入场价。
	High float64
	Low  float64
	// Activated 激活档位；一旦离开 None 便不再回退。
	Activated policy.Activation
	// TrailPct 激活时确定的追踪回撤幅度，此后不变。
	TrailPct float64
	// EntryTSMs 开仓时间（毫秒），0 表示未知（按持仓0根K线处理）。
	EntryTSMs int64
}

// trailRegistry 按仓位ID保存追踪状态。只被引擎的单一循环访问，无需加锁。
type trailRegistry struct {
	states map[string]*TrailState
}

func newTrailRegistry() *trailRegistry {
	return &trailRegistry{states: make(map[string]*TrailState)}
}

// ensure 返回仓位的追踪状态，首次见到该仓位时以入场价播种。
func (r *trailRegistry) ensure(id string, pos ledger.Position) *TrailState {
	if state, ok := r.states[id]; ok {
		return state
	}
	state := &TrailState{
		High:      pos.EntryPrice,
		Low:       pos.EntryPrice,
		EntryTSMs: pos.EntryTimestampMs(),
	}
	r.states[id] = state
	return state
}

// observe 用最新价格更新有利极值：多头只抬高 High，空头只压低 Low。
func (r *trailRegistry) observe(state *TrailState, dir ledger.Direction, price float64) {
	if dir.IsLong() {
		if price > state.High {
			state.High = price
		}
		return
	}
	if price < state.Low {
		state.Low = price
	}
}

// cleanup 移除账本不再返回的仓位状态，返回被移除的仓位ID。
func (r *trailRegistry) cleanup(active map[string]struct{}) []string {
	var removed []string
	for id := range r.states {
		if _, ok := active[id]; ok {
			continue
		}
		removed = append(removed, id)
		delete(r.states, id)
	}
	return removed
}

// barsHeld 估算持仓的K线数：已过毫秒数除以单根K线的毫秒数，向下取整。
func barsHeld(state *TrailState, nowMs, barMs int64) int {
	if state.EntryTSMs <= 0 || barMs <= 0 || nowMs <= state.EntryTSMs {
		return 0
	}
	return int((nowMs - state.EntryTSMs) / barMs)
}
