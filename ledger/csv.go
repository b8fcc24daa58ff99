package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// 账本列名。买入端写入前五列，平仓时回填其余列（若存在）。
const (
	colTime        = "时间"
	colID          = "仓位ID"
	colDirection   = "方向"
	colEntry       = "入场价"
	colClosed      = "是否平仓"
	colOrderAmt    = "下单金额(U)"
	colExitTime    = "出场时间"
	colExitPrice   = "出场价格"
	colHoldBars    = "持仓K线数"
	colHoldDur     = "持仓时长"
	colPriceChange = "价格变动%"
	colContractRet = "合约收益%"
	colPnL         = "盈亏USDC"
	colRemark      = "备注"

	// openFlag 是唯一表示“未平仓”的哨兵值，其余任何取值都视为已平仓。
	openFlag   = "未平仓"
	closedFlag = "已平仓"
)

// CSVStore 以 CSV 文件作为仓位账本。文件可能被买入端并发写入，
// 所有读写都按尽力而为处理：读失败降级为空快照，写失败在限定次数内重试。
type CSVStore struct {
	path string

	// Retries 为 MarkClosed 的读-改-写重试次数。
	Retries int
	// RetryDelay 为两次尝试之间的等待时间。
	RetryDelay time.Duration
}

// NewCSVStore 创建账本存储，使用默认的重试策略（3次，间隔200ms）。
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{
		path:       path,
		Retries:    3,
		RetryDelay: 200 * time.Millisecond,
	}
}

// LoadOpenPositions 扫描账本并返回全部未平仓记录。
// 单行解析失败只跳过该行；整个文件读取失败（如正被写入）时返回空快照而不是报错。
func (s *CSVStore) LoadOpenPositions() (map[string]Position, error) {
	rows, header, err := s.readAll()
	if err != nil || len(rows) == 0 {
		return map[string]Position{}, nil
	}

	idxTime := header.index(colTime)
	idxID := header.index(colID)
	idxDir := header.index(colDirection)
	idxEntry := header.index(colEntry)
	idxClosed := header.index(colClosed)

	if idxDir == -1 || idxEntry == -1 {
		return map[string]Position{}, nil
	}

	open := make(map[string]Position)
	for _, row := range rows {
		if cell(row, idxClosed, openFlag) != openFlag {
			continue
		}
		dir, ok := ParseDirection(cell(row, idxDir, ""))
		if !ok {
			continue
		}
		entryRaw := cell(row, idxEntry, "")
		entry, err := strconv.ParseFloat(entryRaw, 64)
		if err != nil || entry <= 0 {
			continue
		}

		id := cell(row, idxID, "")
		if id == "" {
			id = FallbackTradeID(entryRaw, cell(row, idxDir, ""))
		}

		pos := Position{TradeID: id, EntryPrice: entry, Direction: dir}
		if raw := cell(row, idxTime, ""); raw != "" {
			if ts, err := time.ParseInLocation(TimeLayout, raw, time.Local); err == nil {
				pos.EntryTime = ts
			}
		}
		open[id] = pos
	}
	return open, nil
}

// MarkClosed 将对应仓位标记为已平仓并回填统计字段。
// 优先按仓位ID匹配；账本没有ID列时回退按 方向+入场价（两位小数）匹配首个未平仓行。
// 每次尝试都完整执行读-改-写，以容忍买入端的并发写；全部失败时返回 false。
func (s *CSVStore) MarkClosed(rec CloseRecord) bool {
	for attempt := 1; attempt <= s.Retries; attempt++ {
		marked, err := s.tryMarkClosed(rec)
		if marked {
			return true
		}
		// 找不到匹配的未平仓行是永久性结果，重试也不会出现，直接放弃
		if errors.Is(err, errNoOpenRow) {
			return false
		}
		if attempt < s.Retries {
			time.Sleep(s.RetryDelay)
		}
	}
	return false
}

// errNoOpenRow 账本中没有与平仓记录匹配的未平仓行。
var errNoOpenRow = errors.New("未找到匹配的未平仓行")

// tryMarkClosed 执行一次完整的读-改-写。返回 errNoOpenRow 表示匹配失败，
// 其余错误（读/写失败，可能与买入端的写入撞上）由调用方重试。
func (s *CSVStore) tryMarkClosed(rec CloseRecord) (bool, error) {
	rows, header, err := s.readAll()
	if err != nil {
		return false, err
	}
	if len(header) == 0 {
		return false, errNoOpenRow
	}

	idxTime := header.index(colTime)
	idxID := header.index(colID)
	idxDir := header.index(colDirection)
	idxEntry := header.index(colEntry)
	idxClosed := header.index(colClosed)

	if idxDir == -1 || idxEntry == -1 || idxClosed == -1 {
		return false, errNoOpenRow
	}

	target := -1
	if idxID != -1 {
		for i, row := range rows {
			if cell(row, idxClosed, "") == openFlag && cell(row, idxID, "") == rec.TradeID {
				target = i
				break
			}
		}
	} else {
		entryStr := fmt.Sprintf("%.2f", rec.EntryPrice)
		for i, row := range rows {
			if cell(row, idxClosed, "") != openFlag {
				continue
			}
			if cell(row, idxDir, "") == string(rec.Direction) && cell(row, idxEntry, "") == entryStr {
				target = i
				break
			}
		}
	}
	if target == -1 {
		return false, errNoOpenRow
	}

	row := rows[target]
	setCell(&row, idxClosed, closedFlag)

	closeTime := time.UnixMilli(rec.CloseTSMs).Format(TimeLayout)
	setCell(&row, header.index(colExitTime), closeTime)
	setCell(&row, header.index(colExitPrice), fmt.Sprintf("%.2f", rec.ClosePrice))

	extra := fmt.Sprintf("平仓:%s 价:%.2f 时:%s 幅:%.2f%%", rec.Reason, rec.ClosePrice, closeTime, rec.Pct)
	if idxRemark := header.index(colRemark); idxRemark != -1 {
		if prev := cell(row, idxRemark, ""); prev != "" {
			setCell(&row, idxRemark, prev+" | "+extra)
		} else {
			setCell(&row, idxRemark, extra)
		}
	}

	// 持仓K线数与时长（按1分钟bar估算，入场时间缺失或无法解析时跳过）
	if raw := cell(row, idxTime, ""); raw != "" {
		if entryTS, err := time.ParseInLocation(TimeLayout, raw, time.Local); err == nil {
			holdMs := rec.CloseTSMs - entryTS.UnixMilli()
			if holdMs < 0 {
				holdMs = 0
			}
			holdSecs := holdMs / 1000
			holdMins := holdSecs / 60
			holdBars := holdMins
			if holdBars == 0 && holdMs > 0 {
				holdBars = 1
			}
			setCell(&row, header.index(colHoldBars), strconv.FormatInt(holdBars, 10))
			setCell(&row, header.index(colHoldDur), fmt.Sprintf("%d分%d秒", holdMins, holdSecs%60))
		}
	}

	// 价格变动%（带符号）、方向修正后的收益%、按下单金额折算的盈亏
	if rec.EntryPrice > 0 {
		priceChange := (rec.ClosePrice - rec.EntryPrice) / rec.EntryPrice * 100
		contractRet := priceChange
		if !rec.Direction.IsLong() {
			contractRet = -priceChange
		}
		setCell(&row, header.index(colPriceChange), fmt.Sprintf("%.2f", priceChange))
		setCell(&row, header.index(colContractRet), fmt.Sprintf("%.2f", contractRet))

		if idxAmt := header.index(colOrderAmt); idxAmt != -1 {
			if amt, err := strconv.ParseFloat(cell(row, idxAmt, ""), 64); err == nil {
				setCell(&row, header.index(colPnL), fmt.Sprintf("%.4f", amt*contractRet/100))
			}
		}
	}

	rows[target] = row
	if err := s.writeAll(header, rows); err != nil {
		return false, err
	}
	return true, nil
}

// AllRecords 返回账本中全部行（含已平仓行），供报表使用。
func (s *CSVStore) AllRecords() ([]Record, error) {
	rows, header, err := s.readAll()
	if err != nil {
		return nil, err
	}

	idxDir := header.index(colDirection)
	idxEntry := header.index(colEntry)
	if idxDir == -1 || idxEntry == -1 {
		return nil, errors.New("账本缺少方向或入场价列")
	}

	var out []Record
	for _, row := range rows {
		dir, ok := ParseDirection(cell(row, idxDir, ""))
		if !ok {
			continue
		}
		entryRaw := cell(row, idxEntry, "")
		entry, err := strconv.ParseFloat(entryRaw, 64)
		if err != nil {
			continue
		}

		r := Record{
			Position: Position{
				TradeID:    cell(row, header.index(colID), ""),
				EntryPrice: entry,
				Direction:  dir,
			},
			Closed:   cell(row, header.index(colClosed), openFlag) != openFlag,
			ExitTime: cell(row, header.index(colExitTime), ""),
			Remark:   cell(row, header.index(colRemark), ""),
		}
		if r.TradeID == "" {
			r.TradeID = FallbackTradeID(entryRaw, cell(row, idxDir, ""))
		}
		if raw := cell(row, header.index(colTime), ""); raw != "" {
			if ts, err := time.ParseInLocation(TimeLayout, raw, time.Local); err == nil {
				r.EntryTime = ts
			}
		}
		r.OrderAmount, _ = strconv.ParseFloat(cell(row, header.index(colOrderAmt), ""), 64)
		r.ExitPrice, _ = strconv.ParseFloat(cell(row, header.index(colExitPrice), ""), 64)
		r.PnL, _ = strconv.ParseFloat(cell(row, header.index(colPnL), ""), 64)
		if bars, err := strconv.Atoi(cell(row, header.index(colHoldBars), "")); err == nil {
			r.HoldBars = bars
		}
		out = append(out, r)
	}
	return out, nil
}

type headerIndex []string

func (h headerIndex) index(name string) int {
	for i, col := range h {
		if col == name {
			return i
		}
	}
	return -1
}

// readAll 读出表头与数据行。文件缺失或正被写入导致的读取失败返回错误，由调用方降级处理。
func (s *CSVStore) readAll() ([][]string, headerIndex, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		log.Debug().Err(err).Msg("账本读取失败（可能正被写入）")
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	return rows[1:], headerIndex(rows[0]), nil
}

func (s *CSVStore) writeAll(header headerIndex, rows [][]string) error {
	f, err := os.Create(s.path)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := writer.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// cell 取行内指定列，索引越界或缺列时返回默认值。
func cell(row []string, idx int, def string) string {
	if idx < 0 || idx >= len(row) {
		return def
	}
	return row[idx]
}

// setCell 写入指定列，必要时把行补齐到足够长度；idx 为 -1（缺列）时不做任何事。
func setCell(row *[]string, idx int, value string) {
	if idx < 0 {
		return
	}
	for idx >= len(*row) {
		*row = append(*row, "")
	}
	(*row)[idx] = value
}
