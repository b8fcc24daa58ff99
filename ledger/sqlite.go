package ledger

// sqlite.go — 与 CSVStore 语义一致的 sqlite 账本后端。
// 账本由买入端追加，本模块只把未平仓行翻转为已平仓并回填统计字段；
// 行从不删除。并发写入由 busy 重试兜底。

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS positions (
    trade_id            TEXT PRIMARY KEY,
    entry_time          TEXT,
    direction           TEXT NOT NULL,
    entry_price         REAL NOT NULL,
    order_amount        REAL,
    closed              INTEGER NOT NULL DEFAULT 0,
    exit_time           TEXT,
    exit_price          REAL,
    hold_bars           INTEGER,
    hold_duration       TEXT,
    price_change_pct    REAL,
    contract_return_pct REAL,
    pnl                 REAL,
    remark              TEXT
);
`

// SQLiteStore 把仓位账本放进单文件 sqlite 库，适合替换容易被写坏的 CSV。
type SQLiteStore struct {
	db *sql.DB

	// Retries / RetryDelay 控制写冲突（database is locked）时的重试策略。
	Retries    int
	RetryDelay time.Duration
}

// NewSQLiteStore 打开（必要时创建）sqlite 账本。
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开账本数据库失败: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化账本表结构失败: %w", err)
	}
	return &SQLiteStore{
		db:         db,
		Retries:    3,
		RetryDelay: 200 * time.Millisecond,
	}, nil
}

// Close 关闭底层数据库连接。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append 追加一条开仓记录（买入端使用；测试也用它构造账本）。
func (s *SQLiteStore) Append(pos Position, orderAmount float64) error {
	entryTime := ""
	if !pos.EntryTime.IsZero() {
		entryTime = pos.EntryTime.Format(TimeLayout)
	}
	_, err := s.db.Exec(
		`INSERT INTO positions (trade_id, entry_time, direction, entry_price, order_amount) VALUES (?, ?, ?, ?, ?)`,
		pos.TradeID, entryTime, string(pos.Direction), pos.EntryPrice, orderAmount,
	)
	return err
}

// LoadOpenPositions 返回全部未平仓记录；查询失败时降级为空快照。
func (s *SQLiteStore) LoadOpenPositions() (map[string]Position, error) {
	rows, err := s.db.Query(`SELECT trade_id, entry_time, direction, entry_price FROM positions WHERE closed = 0`)
	if err != nil {
		return map[string]Position{}, nil
	}
	defer rows.Close()

	open := make(map[string]Position)
	for rows.Next() {
		var id, entryTime, dirRaw string
		var entry float64
		if err := rows.Scan(&id, &entryTime, &dirRaw, &entry); err != nil {
			continue
		}
		dir, ok := ParseDirection(dirRaw)
		if !ok || entry <= 0 {
			continue
		}
		pos := Position{TradeID: id, EntryPrice: entry, Direction: dir}
		if entryTime != "" {
			if ts, err := time.ParseInLocation(TimeLayout, entryTime, time.Local); err == nil {
				pos.EntryTime = ts
			}
		}
		open[id] = pos
	}
	return open, nil
}

// MarkClosed 把匹配的未平仓行翻转为已平仓并回填统计字段，语义与 CSVStore 一致。
func (s *SQLiteStore) MarkClosed(rec CloseRecord) bool {
	for attempt := 1; attempt <= s.Retries; attempt++ {
		ok, err := s.tryMarkClosed(rec)
		if err == nil {
			return ok
		}
		if !isBusy(err) {
			return false
		}
		if attempt < s.Retries {
			time.Sleep(s.RetryDelay)
		}
	}
	return false
}

func (s *SQLiteStore) tryMarkClosed(rec CloseRecord) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	// sqlite 账本始终有主键，无需 CSV 那种按方向+入场价的回退匹配。
	row := tx.QueryRow(
		`SELECT rowid, entry_time, order_amount FROM positions WHERE closed = 0 AND trade_id = ? LIMIT 1`,
		rec.TradeID,
	)

	var rowid int64
	var entryTime sql.NullString
	var orderAmount sql.NullFloat64
	if err := row.Scan(&rowid, &entryTime, &orderAmount); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}

	closeTime := time.UnixMilli(rec.CloseTSMs).Format(TimeLayout)
	remark := fmt.Sprintf("平仓:%s 价:%.2f 时:%s 幅:%.2f%%", rec.Reason, rec.ClosePrice, closeTime, rec.Pct)

	var holdBars, holdDuration interface{}
	if entryTime.Valid && entryTime.String != "" {
		if ts, err := time.ParseInLocation(TimeLayout, entryTime.String, time.Local); err == nil {
			holdMs := rec.CloseTSMs - ts.UnixMilli()
			if holdMs < 0 {
				holdMs = 0
			}
			holdSecs := holdMs / 1000
			holdMins := holdSecs / 60
			bars := holdMins
			if bars == 0 && holdMs > 0 {
				bars = 1
			}
			holdBars = bars
			holdDuration = fmt.Sprintf("%d分%d秒", holdMins, holdSecs%60)
		}
	}

	var priceChange, contractRet, pnl interface{}
	if rec.EntryPrice > 0 {
		change := (rec.ClosePrice - rec.EntryPrice) / rec.EntryPrice * 100
		ret := change
		if !rec.Direction.IsLong() {
			ret = -change
		}
		priceChange = change
		contractRet = ret
		if orderAmount.Valid && orderAmount.Float64 != 0 {
			pnl = orderAmount.Float64 * ret / 100
		}
	}

	res, err := tx.Exec(
		`UPDATE positions SET
			closed = 1, exit_time = ?, exit_price = ?, hold_bars = ?, hold_duration = ?,
			price_change_pct = ?, contract_return_pct = ?, pnl = ?,
			remark = CASE WHEN remark IS NULL OR remark = '' THEN ? ELSE remark || ' | ' || ? END
		 WHERE rowid = ? AND closed = 0`,
		closeTime, rec.ClosePrice, holdBars, holdDuration,
		priceChange, contractRet, pnl,
		remark, remark, rowid,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	return true, tx.Commit()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}
