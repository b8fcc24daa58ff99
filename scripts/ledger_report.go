// 账本汇总报表：读取 CSV 账本，打印已平仓统计与未平仓列表。
//
// 用法:
//
//	go run ./scripts -ledger trade_signals.csv -live -symbol ETHUSDC
//
// -live 时会请求当前价格并计算未平仓的浮动收益。
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"

	"sellwatch/ledger"
	"sellwatch/market"
)

func main() {
	ledgerPath := flag.String("ledger", "trade_signals.csv", "账本 CSV 路径")
	live := flag.Bool("live", false, "查询当前价格计算未平仓浮盈")
	symbol := flag.String("symbol", "ETHUSDC", "查询现价用的交易对")
	flag.Parse()

	store := ledger.NewCSVStore(*ledgerPath)
	records, err := store.AllRecords()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取账本失败: %v\n", err)
		os.Exit(1)
	}

	var closed, open []ledger.Record
	for _, rec := range records {
		if rec.Closed {
			closed = append(closed, rec)
		} else {
			open = append(open, rec)
		}
	}

	printClosedTable(closed)
	printOpenTable(open, *live, *symbol)
	printSummary(closed)
}

func printClosedTable(records []ledger.Record) {
	fmt.Printf("\n已平仓 (%d 笔)\n", len(records))
	if len(records) == 0 {
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("仓位ID", "方向", "入场价", "出场价", "持仓K线", "盈亏USDC", "备注")
	for _, rec := range records {
		table.Append(
			rec.TradeID,
			string(rec.Direction),
			fmt.Sprintf("%.2f", rec.EntryPrice),
			fmt.Sprintf("%.2f", rec.ExitPrice),
			fmt.Sprintf("%d", rec.HoldBars),
			fmt.Sprintf("%+.2f", rec.PnL),
			rec.Remark,
		)
	}
	table.Render()
}

func printOpenTable(records []ledger.Record, live bool, symbol string) {
	fmt.Printf("\n未平仓 (%d 笔)\n", len(records))
	if len(records) == 0 {
		return
	}

	currentPrice := 0.0
	if live {
		price, err := market.NewAPIClient().GetCurrentPrice(symbol)
		if err != nil {
			fmt.Fprintf(os.Stderr, "查询现价失败: %v\n", err)
		} else {
			currentPrice = price
			fmt.Printf("当前价格: %.2f\n", currentPrice)
		}
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("仓位ID", "方向", "入场价", "入场时间", "下单金额(U)", "浮动%")
	for _, rec := range records {
		floating := "-"
		if currentPrice > 0 && rec.EntryPrice > 0 {
			change := (currentPrice - rec.EntryPrice) / rec.EntryPrice * 100
			if !rec.Direction.IsLong() {
				change = -change
			}
			floating = fmt.Sprintf("%+.2f%%", change)
		}
		entryTime := "-"
		if !rec.EntryTime.IsZero() {
			entryTime = rec.EntryTime.Format(ledger.TimeLayout)
		}
		table.Append(
			rec.TradeID,
			string(rec.Direction),
			fmt.Sprintf("%.2f", rec.EntryPrice),
			entryTime,
			fmt.Sprintf("%.2f", rec.OrderAmount),
			floating,
		)
	}
	table.Render()
}

func printSummary(closed []ledger.Record) {
	if len(closed) == 0 {
		return
	}
	var total float64
	wins := 0
	for _, rec := range closed {
		total += rec.PnL
		if rec.PnL > 0 {
			wins++
		}
	}
	winRate := float64(wins) / float64(len(closed)) * 100
	fmt.Printf("\n合计盈亏: %+.2f USDC | 胜率: %.1f%% (%d/%d)\n", total, winRate, wins, len(closed))
}
