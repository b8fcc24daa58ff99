package ledger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fullHeader = []string{
	colTime, colID, colDirection, colEntry, colClosed, colOrderAmt,
	colExitTime, colExitPrice, colHoldBars, colHoldDur,
	colPriceChange, colContractRet, colPnL, colRemark,
}

func writeCSV(t *testing.T, path string, header []string, rows [][]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.Write(header))
	require.NoError(t, w.WriteAll(rows))
	w.Flush()
	require.NoError(t, w.Error())
	require.NoError(t, f.Close())
}

func newTestStore(t *testing.T, header []string, rows [][]string) *CSVStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trade_signals.csv")
	writeCSV(t, path, header, rows)
	s := NewCSVStore(path)
	s.RetryDelay = time.Millisecond
	return s
}

func TestLoadOpenPositions(t *testing.T) {
	s := newTestStore(t, fullHeader, [][]string{
		{"2024-05-01 10:00:00", "T1", "做多", "3000.50", "未平仓", "50", "", "", "", "", "", "", "", ""},
		{"2024-05-01 11:00:00", "T2", "做空", "3100.00", "已平仓", "50", "", "", "", "", "", "", "", ""},
		{"2024-05-01 12:00:00", "T3", "做空", "3200.00", "未平仓", "50", "", "", "", "", "", "", "", ""},
		{"bad time", "T4", "做多", "not-a-number", "未平仓", "", "", "", "", "", "", "", "", ""},
		{"2024-05-01 13:00:00", "T5", "斜着开", "3300.00", "未平仓", "", "", "", "", "", "", "", "", ""},
	})

	open, err := s.LoadOpenPositions()
	require.NoError(t, err)
	require.Len(t, open, 2)

	assert.Equal(t, 3000.50, open["T1"].EntryPrice)
	assert.Equal(t, Long, open["T1"].Direction)
	assert.Equal(t, "2024-05-01 10:00:00", open["T1"].EntryTime.Format(TimeLayout))
	assert.Equal(t, Short, open["T3"].Direction)
}

func TestLoadOpenPositionsMissingFile(t *testing.T) {
	s := NewCSVStore(filepath.Join(t.TempDir(), "nope.csv"))
	open, err := s.LoadOpenPositions()
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestLoadOpenPositionsFallbackID(t *testing.T) {
	// 没有仓位ID列时用 方向+入场价 合成标识
	header := []string{colTime, colDirection, colEntry, colClosed}
	s := newTestStore(t, header, [][]string{
		{"2024-05-01 10:00:00", "做多", "3000.00", "未平仓"},
	})

	open, err := s.LoadOpenPositions()
	require.NoError(t, err)
	require.Len(t, open, 1)
	_, ok := open["NO_ID_3000.00_做多"]
	assert.True(t, ok)
}

func TestMarkClosedByID(t *testing.T) {
	s := newTestStore(t, fullHeader, [][]string{
		{"2024-05-01 10:00:00", "T1", "做多", "3000.00", "未平仓", "50", "", "", "", "", "", "", "", "开仓备注"},
	})

	closeTS := time.Date(2024, 5, 1, 10, 45, 30, 0, time.Local).UnixMilli()
	ok := s.MarkClosed(CloseRecord{
		TradeID:    "T1",
		EntryPrice: 3000,
		Direction:  Long,
		ClosePrice: 3099,
		Reason:     "止盈",
		Pct:        3.3,
		CloseTSMs:  closeTS,
	})
	require.True(t, ok)

	records, err := s.AllRecords()
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]

	assert.True(t, rec.Closed)
	assert.Equal(t, 3099.0, rec.ExitPrice)
	assert.Equal(t, "2024-05-01 10:45:30", rec.ExitTime)
	assert.Equal(t, 45, rec.HoldBars)
	// 价格变动 3.3%，下单金额 50 -> 盈亏 1.65
	assert.InDelta(t, 1.65, rec.PnL, 1e-9)
	assert.True(t, strings.HasPrefix(rec.Remark, "开仓备注 | 平仓:止盈"))

	// 未平仓列表里不应再出现
	open, err := s.LoadOpenPositions()
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestMarkClosedFallbackMatch(t *testing.T) {
	// 账本没有仓位ID列：按 方向+入场价(两位小数) 匹配首个未平仓行
	header := []string{colTime, colDirection, colEntry, colClosed, colRemark}
	s := newTestStore(t, header, [][]string{
		{"2024-05-01 10:00:00", "做空", "3000.00", "未平仓", ""},
		{"2024-05-01 10:05:00", "做空", "3000.00", "未平仓", ""},
	})

	ok := s.MarkClosed(CloseRecord{
		TradeID:    "NO_ID_3000.00_做空",
		EntryPrice: 3000,
		Direction:  Short,
		ClosePrice: 2900,
		Reason:     "止盈",
		Pct:        3.33,
		CloseTSMs:  time.Now().UnixMilli(),
	})
	require.True(t, ok)

	records, err := s.AllRecords()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Closed)
	assert.False(t, records[1].Closed, "只应关闭首个匹配行")
}

func TestMarkClosedIdempotent(t *testing.T) {
	s := newTestStore(t, fullHeader, [][]string{
		{"2024-05-01 10:00:00", "T1", "做多", "3000.00", "未平仓", "", "", "", "", "", "", "", "", ""},
	})
	s.Retries = 1

	rec := CloseRecord{
		TradeID: "T1", EntryPrice: 3000, Direction: Long,
		ClosePrice: 3099, Reason: "止盈", Pct: 3.3, CloseTSMs: time.Now().UnixMilli(),
	}
	require.True(t, s.MarkClosed(rec))
	// 第二次找不到未平仓行，必须返回 false 而不是重复回写
	assert.False(t, s.MarkClosed(rec))
}

func TestMarkClosedNoMatchSkipsRetries(t *testing.T) {
	s := newTestStore(t, fullHeader, [][]string{
		{"2024-05-01 10:00:00", "T1", "做多", "3000.00", "未平仓", "", "", "", "", "", "", "", "", ""},
	})
	// 找不到匹配行是永久性结果，不应消耗重试等待
	s.Retries = 3
	s.RetryDelay = time.Second

	start := time.Now()
	ok := s.MarkClosed(CloseRecord{TradeID: "不存在", Direction: Long, CloseTSMs: time.Now().UnixMilli()})
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestMarkClosedMissingFileReturnsFalse(t *testing.T) {
	s := NewCSVStore(filepath.Join(t.TempDir(), "nope.csv"))
	s.Retries = 2
	s.RetryDelay = time.Millisecond

	ok := s.MarkClosed(CloseRecord{TradeID: "T1", Direction: Long, CloseTSMs: time.Now().UnixMilli()})
	assert.False(t, ok)
}

func TestMarkClosedShortDirectionMath(t *testing.T) {
	s := newTestStore(t, fullHeader, [][]string{
		{"2024-05-01 10:00:00", "T1", "做空", "3000.00", "未平仓", "100", "", "", "", "", "", "", "", ""},
	})

	// 做空价格下跌 2% -> 方向修正后收益 +2%，盈亏 = 100 × 2% = 2
	ok := s.MarkClosed(CloseRecord{
		TradeID: "T1", EntryPrice: 3000, Direction: Short,
		ClosePrice: 2940, Reason: "止盈", Pct: 2, CloseTSMs: time.Now().UnixMilli(),
	})
	require.True(t, ok)

	records, err := s.AllRecords()
	require.NoError(t, err)
	assert.InDelta(t, 2.0, records[0].PnL, 1e-9)
}
