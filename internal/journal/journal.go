package journal

import (
	"strings"
	"time"

	"main/internal/schema"
	"main/pkg/conn"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

// TradeRecord is one completed group in the journal table.
type TradeRecord struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	BotID       string `gorm:"index"`
	GroupID     uint64
	StrategyID  string
	Underlying  string
	Legs        string // comma-joined leg symbols
	EntryTime   time.Time
	ExitTime    time.Time
	Credit      decimal.Decimal `gorm:"type:numeric(12,4)"`
	Debit       decimal.Decimal `gorm:"type:numeric(12,4)"`
	Realized    decimal.Decimal `gorm:"type:numeric(12,4)"`
	CloseReason string
	PolicyVer   string
}

// OrphanWriteoff is one orphan resolution in the journal table.
type OrphanWriteoff struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	BotID  string `gorm:"index"`
	Symbol string
	Note   string
	SeenAt time.Time
}

// Journal is an optional postgres sink for completed trades. It is a pure
// output: every failure is logged and swallowed, trading never waits on it.
// A nil Journal is valid and records nothing.
type Journal struct {
	botID string
	pg    *conn.Postgres
	now   func() time.Time
}

// Open connects and migrates the journal tables. An empty DSN disables the
// journal.
func Open(botID, dsn string) (*Journal, error) {
	if dsn == "" {
		return nil, nil
	}
	pg, err := conn.OpenPostgres(dsn)
	if err != nil {
		return nil, err
	}
	if err := pg.DB().AutoMigrate(&TradeRecord{}, &OrphanWriteoff{}); err != nil {
		_ = pg.Close()
		return nil, err
	}
	logs.Info("trade journal connected")
	return &Journal{botID: botID, pg: pg, now: time.Now}, nil
}

// RecordClose journals one closed group.
func (j *Journal) RecordClose(group *schema.PositionGroup, debit, realized decimal.Decimal) {
	if j == nil {
		return
	}
	symbols := make([]string, 0, len(group.Legs))
	for _, leg := range group.Legs {
		symbols = append(symbols, leg.Spec.Symbol)
	}
	record := TradeRecord{
		BotID:       j.botID,
		GroupID:     group.ID,
		StrategyID:  group.StrategyID,
		Underlying:  group.Underlying,
		Legs:        strings.Join(symbols, ","),
		EntryTime:   group.EntryTime,
		ExitTime:    j.now(),
		Credit:      group.NetCredit(),
		Debit:       debit,
		Realized:    realized,
		CloseReason: group.CloseReason,
		PolicyVer:   group.StopPolicyVersion,
	}
	if err := j.pg.DB().Create(&record).Error; err != nil {
		logs.Warnf("journal: record close for group %d failed: %v", group.ID, err)
	}
}

// RecordOrphan journals an orphan position writeoff.
func (j *Journal) RecordOrphan(symbol, note string) {
	if j == nil {
		return
	}
	record := OrphanWriteoff{
		BotID:  j.botID,
		Symbol: symbol,
		Note:   note,
		SeenAt: j.now(),
	}
	if err := j.pg.DB().Create(&record).Error; err != nil {
		logs.Warnf("journal: record orphan %s failed: %v", symbol, err)
	}
}

// Close drains the connection pool.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.pg.Close()
}
