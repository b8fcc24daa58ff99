// Package policy 提供动态止盈止损策略的纯计算函数，不做任何 I/O。
package policy

// Params captures all tunable thresholds that govern the dynamic exit policy.
type Params struct {
	// Leverage 实盘杠杆倍数，用于价格变动%与合约收益%之间的换算。
	Leverage float64
	// TakeProfitContractPct 基准止盈（合约收益%），如 330 表示本金的 330%。
	TakeProfitContractPct float64
	// StopLossContractPct 基准止损（合约收益%）。
	StopLossContractPct float64
	// MaxHoldBars 弱势判定的持仓K线数阈值（超过后才可能判定为弱势）。
	MaxHoldBars int
	// TrailStartBars 止盈止损衰减与正常追踪激活的K线数阈值。
	TrailStartBars int
	// LateTakeProfitFactor 超过 TrailStartBars 后的止盈衰减系数。
	LateTakeProfitFactor float64
	// LateStopLossFactor 超过 TrailStartBars 后的止损收缩系数。
	LateStopLossFactor float64
	// WeakStopLossTighten 弱势持仓的止损额外收紧系数。
	WeakStopLossTighten float64
	// TrailPctWeak 弱势激活后的追踪回撤幅度（小数，0.06 即 6%）。
	TrailPctWeak float64
	// TrailPctNormal 正常激活后的追踪回撤幅度。
	TrailPctNormal float64
	// ActivationProfitRatio 弱势/激活门槛相对基准止盈的比例（0.30 即 30%）。
	ActivationProfitRatio float64
}

var defaultParams = &Params{
	Leverage:              100,
	TakeProfitContractPct: 330,
	StopLossContractPct:   530,
	MaxHoldBars:           30,
	TrailStartBars:        40,
	LateTakeProfitFactor:  0.9,
	LateStopLossFactor:    0.3,
	WeakStopLossTighten:   0.85,
	TrailPctWeak:          0.06,
	TrailPctNormal:        0.08,
	ActivationProfitRatio: 0.30,
}

// DefaultParams returns a copy of the built-in parameters so callers can tweak them safely.
func DefaultParams() *Params {
	p := *defaultParams
	return &p
}

// Resolve 以默认参数为底，用调用方提供的非零字段覆盖，返回新的参数块。
func Resolve(p *Params) *Params {
	base := DefaultParams()
	if p == nil {
		return base
	}
	if p.Leverage > 0 {
		base.Leverage = p.Leverage
	}
	if p.TakeProfitContractPct > 0 {
		base.TakeProfitContractPct = p.TakeProfitContractPct
	}
	if p.StopLossContractPct > 0 {
		base.StopLossContractPct = p.StopLossContractPct
	}
	if p.MaxHoldBars > 0 {
		base.MaxHoldBars = p.MaxHoldBars
	}
	if p.TrailStartBars > 0 {
		base.TrailStartBars = p.TrailStartBars
	}
	if p.LateTakeProfitFactor > 0 {
		base.LateTakeProfitFactor = p.LateTakeProfitFactor
	}
	if p.LateStopLossFactor > 0 {
		base.LateStopLossFactor = p.LateStopLossFactor
	}
	if p.WeakStopLossTighten > 0 {
		base.WeakStopLossTighten = p.WeakStopLossTighten
	}
	if p.TrailPctWeak > 0 {
		base.TrailPctWeak = p.TrailPctWeak
	}
	if p.TrailPctNormal > 0 {
		base.TrailPctNormal = p.TrailPctNormal
	}
	if p.ActivationProfitRatio > 0 {
		base.ActivationProfitRatio = p.ActivationProfitRatio
	}
	return base
}

// Activation 表示追踪止损的激活档位。
type Activation int

const (
	// ActivationNone 尚未激活追踪。
	ActivationNone Activation = iota
	// ActivationWeak 弱势激活（持仓过久且收益不达标）。
	ActivationWeak
	// ActivationNormal 正常激活（持仓超过阈值且有足够浮盈）。
	ActivationNormal
)

func (a Activation) String() string {
	switch a {
	case ActivationWeak:
		return "weak"
	case ActivationNormal:
		return "normal"
	default:
		return "none"
	}
}

// TakeProfitPct 根据持仓K线数计算止盈价格变动幅度（小数，0.033 即 3.3%）。
func (p *Params) TakeProfitPct(barsHeld int) float64 {
	pct := p.TakeProfitContractPct
	if barsHeld > p.TrailStartBars {
		pct *= p.LateTakeProfitFactor
	}
	return pct / p.Leverage / 100
}

// StopLossPct 根据持仓K线数与弱势状态计算止损价格变动幅度（小数）。
func (p *Params) StopLossPct(barsHeld int, isWeak bool) float64 {
	pct := p.StopLossContractPct
	if barsHeld > p.TrailStartBars {
		pct *= p.LateStopLossFactor
	}
	if isWeak {
		pct *= p.WeakStopLossTighten
	}
	return pct / p.Leverage / 100
}

// WeakContractThreshold 弱势判定门槛（合约收益%），默认 330% × 30% = 99%。
func (p *Params) WeakContractThreshold() float64 {
	return p.TakeProfitContractPct * p.ActivationProfitRatio
}

// PriceProfitGatePct 正常激活门槛（价格浮盈%），默认 330%/100 × 30% = 0.99%。
func (p *Params) PriceProfitGatePct() float64 {
	return p.TakeProfitContractPct / p.Leverage * p.ActivationProfitRatio
}

// IsWeak 判定仓位是否弱势：持仓超过 MaxHoldBars 且合约收益低于弱势门槛。
func (p *Params) IsWeak(barsHeld int, contractProfitPct float64) bool {
	return barsHeld > p.MaxHoldBars && contractProfitPct < p.WeakContractThreshold()
}

// ShouldActivateTrail 判定本轮是否激活追踪，弱势条件优先于正常条件。
func (p *Params) ShouldActivateTrail(barsHeld int, contractProfitPct, priceProfitPct float64) Activation {
	if barsHeld > p.MaxHoldBars && contractProfitPct < p.WeakContractThreshold() {
		return ActivationWeak
	}
	if barsHeld > p.TrailStartBars && priceProfitPct >= p.PriceProfitGatePct() {
		return ActivationNormal
	}
	return ActivationNone
}

// TrailPct 返回对应激活档位的追踪回撤幅度，未激活时为 0。
func (p *Params) TrailPct(a Activation) float64 {
	switch a {
	case ActivationWeak:
		return p.TrailPctWeak
	case ActivationNormal:
		return p.TrailPctNormal
	default:
		return 0
	}
}
