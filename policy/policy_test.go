package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTakeProfitPct(t *testing.T) {
	p := DefaultParams()

	// 40根内：330% / 100 / 100 = 0.033
	for _, bars := range []int{0, 10, 30, 40} {
		assert.InDelta(t, 0.033, p.TakeProfitPct(bars), 1e-9, "bars=%d", bars)
	}

	// 40根后：330% × 0.9 = 297% -> 0.0297
	for _, bars := range []int{41, 50, 500} {
		assert.InDelta(t, 0.0297, p.TakeProfitPct(bars), 1e-9, "bars=%d", bars)
	}
}

func TestStopLossPct(t *testing.T) {
	p := DefaultParams()

	// 40根内（非弱势）：530% -> 0.053
	for _, bars := range []int{0, 10, 40} {
		assert.InDelta(t, 0.053, p.StopLossPct(bars, false), 1e-9, "bars=%d", bars)
	}

	// 40根内弱势：530% × 0.85 = 450.5% -> 0.04505
	assert.InDelta(t, 0.04505, p.StopLossPct(35, true), 1e-9)

	// 40根后：530% × 0.3 = 159% -> 0.0159
	assert.InDelta(t, 0.0159, p.StopLossPct(50, false), 1e-9)

	// 40根后弱势：530% × 0.3 × 0.85 = 135.15% -> 0.013515
	assert.InDelta(t, 0.013515, p.StopLossPct(50, true), 1e-9)
}

func TestIsWeak(t *testing.T) {
	p := DefaultParams()

	// 30根内无论收益多差都不判弱势
	for _, bars := range []int{0, 15, 30} {
		assert.False(t, p.IsWeak(bars, -500))
	}

	assert.True(t, p.IsWeak(31, 98.99))
	assert.True(t, p.IsWeak(100, 0))
	assert.False(t, p.IsWeak(31, 99))
	assert.False(t, p.IsWeak(100, 150))
}

func TestShouldActivateTrail(t *testing.T) {
	p := DefaultParams()

	assert.Equal(t, ActivationNone, p.ShouldActivateTrail(30, 0, 0))
	assert.Equal(t, ActivationWeak, p.ShouldActivateTrail(31, 50, 0.5))
	assert.Equal(t, ActivationNone, p.ShouldActivateTrail(40, 150, 1.5))

	// 正常激活：bars>40 且价格浮盈 ≥ 0.99%
	assert.Equal(t, ActivationNormal, p.ShouldActivateTrail(41, 150, 1.5))
	assert.Equal(t, ActivationNone, p.ShouldActivateTrail(41, 150, 0.98))

	// 两个条件同时满足时弱势优先
	assert.Equal(t, ActivationWeak, p.ShouldActivateTrail(41, 98, 0.99))
}

func TestActivationGateValues(t *testing.T) {
	p := DefaultParams()

	assert.InDelta(t, 99, p.WeakContractThreshold(), 1e-9)
	assert.InDelta(t, 0.99, p.PriceProfitGatePct(), 1e-9)
}

func TestTrailPct(t *testing.T) {
	p := DefaultParams()

	assert.Equal(t, 0.06, p.TrailPct(ActivationWeak))
	assert.Equal(t, 0.08, p.TrailPct(ActivationNormal))
	assert.Equal(t, 0.0, p.TrailPct(ActivationNone))
}

func TestResolve(t *testing.T) {
	base := Resolve(nil)
	assert.Equal(t, DefaultParams(), base)

	merged := Resolve(&Params{Leverage: 50, TrailPctWeak: 0.05})
	assert.Equal(t, float64(50), merged.Leverage)
	assert.Equal(t, 0.05, merged.TrailPctWeak)
	// 未覆盖的字段保持默认值
	assert.Equal(t, float64(330), merged.TakeProfitContractPct)
	assert.Equal(t, 40, merged.TrailStartBars)
}

func TestScenarioLong100k(t *testing.T) {
	p := DefaultParams()
	entry := 100000.0

	// bars=10：TP 3.3%，触发价 ≥ 103300
	tp := p.TakeProfitPct(10)
	assert.InDelta(t, 103300, entry*(1+tp), 1e-6)

	// bars=50：TP 2.97%；弱势止损 1.3515%
	assert.InDelta(t, 0.0297, p.TakeProfitPct(50), 1e-9)
	assert.InDelta(t, 0.013515, p.StopLossPct(50, true), 1e-9)
}
