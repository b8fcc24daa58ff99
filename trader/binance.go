// Package trader 封装交易所侧的持仓查询与市价平仓。
package trader

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sellwatch/engine"
)

// Binance 通过合约 REST API 执行查询与平仓。实现 engine.TradingClient。
type Binance struct {
	client *futures.Client
}

func NewBinance(apiKey, secretKey string) *Binance {
	return &Binance{client: binance.NewFuturesClient(apiKey, secretKey)}
}

// GetPositions 查询指定交易对的非零持仓。
// 双向持仓模式下按 PositionSide 区分，单向模式(BOTH)按仓位数量正负推断方向。
func (b *Binance) GetPositions(ctx context.Context, symbol string) ([]engine.PositionInfo, error) {
	risks, err := b.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询持仓失败: %w", err)
	}

	var out []engine.PositionInfo
	for _, r := range risks {
		amt, err := strconv.ParseFloat(r.PositionAmt, 64)
		if err != nil || amt == 0 {
			continue
		}
		side := strings.ToUpper(r.PositionSide)
		if side == "" || side == "BOTH" {
			if amt > 0 {
				side = "LONG"
			} else {
				side = "SHORT"
			}
		}
		out = append(out, engine.PositionInfo{Side: side, Quantity: math.Abs(amt)})
	}
	return out, nil
}

// ClosePosition 以市价单平掉指定方向的仓位，返回实际成交均价与数量。
// 平多发卖单，平空发买单；双向持仓模式下必须带上原仓位方向。
func (b *Binance) ClosePosition(ctx context.Context, symbol, positionSide string, quantity float64, reason string) (*engine.Fill, error) {
	side := futures.SideTypeSell
	posSide := futures.PositionSideTypeLong
	if positionSide == "SHORT" {
		side = futures.SideTypeBuy
		posSide = futures.PositionSideTypeShort
	}

	clientID := "sellwatch-" + uuid.NewString()[:18]
	log.Info().Msgf("📤 市价平仓: %s %s 数量 %s | 原因 %s | 订单ID %s",
		symbol, positionSide, formatQty(quantity), reason, clientID)

	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		PositionSide(posSide).
		Type(futures.OrderTypeMarket).
		Quantity(formatQty(quantity)).
		NewClientOrderID(clientID).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("市价平仓下单失败: %w", err)
	}

	avgPrice, _ := strconv.ParseFloat(res.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	log.Info().Msgf("✅ 平仓成交: 订单 %d | 均价 %s | 数量 %s", res.OrderID, res.AvgPrice, res.ExecutedQuantity)

	return &engine.Fill{AvgPrice: avgPrice, Quantity: execQty}, nil
}

// formatQty 去掉多余的尾随零，避免 -1111 精度错误。
func formatQty(qty float64) string {
	s := strconv.FormatFloat(qty, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
