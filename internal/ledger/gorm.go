package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type accountRow struct {
	ID        string `gorm:"primaryKey"`
	Balance   int64  `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (accountRow) TableName() string { return "ledger_accounts" }

type holdRow struct {
	ID         string `gorm:"primaryKey"`
	Account    string `gorm:"index;not null"`
	Amount     int64  `gorm:"not null"`
	Reason     string
	Released   bool `gorm:"not null;default:false"`
	Receipt    string
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

func (holdRow) TableName() string { return "ledger_holds" }

type entryRow struct {
	Seq     uint64 `gorm:"primaryKey;autoIncrement"`
	ID      string `gorm:"uniqueIndex;not null"`
	Account string `gorm:"index;not null"`
	Delta   int64  `gorm:"not null"`
	Reason  string
	Hold    string `gorm:"index"`
	At      time.Time
}

func (entryRow) TableName() string { return "ledger_entries" }

// GormStore keeps the ledger in a SQL database. Every mutation runs in one transaction.
type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn through the pgx-backed gorm driver.
func OpenPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewGormStore(db)
}

// OpenSQLite opens a sqlite file, or a private in-memory database for ":memory:".
func OpenSQLite(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps ":memory:" in one database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return NewGormStore(db)
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&accountRow{}, &holdRow{}, &entryRow{}); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *GormStore) Balance(ctx context.Context, account string) (int64, bool, error) {
	var row accountRow
	err := g.db.WithContext(ctx).First(&row, "id = ?", account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.Balance, true, nil
}

func (g *GormStore) Open(ctx context.Context, account string, grant Entry) (bool, error) {
	created := false
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&accountRow{}).Where("id = ?", account).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		if err := tx.Create(&accountRow{ID: account, Balance: grant.Delta}).Error; err != nil {
			return err
		}
		created = true
		if grant.Delta == 0 {
			return nil
		}
		return tx.Create(toEntryRow(grant)).Error
	})
	return created, err
}

func (g *GormStore) Debit(ctx context.Context, hold Hold, entry Entry) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&accountRow{}).
			Where("id = ? AND balance >= ?", hold.Account, hold.Amount).
			UpdateColumn("balance", gorm.Expr("balance - ?", hold.Amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientFunds
		}
		row := holdRow{ID: hold.ID, Account: hold.Account, Amount: hold.Amount, Reason: hold.Reason, CreatedAt: entry.At}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Create(toEntryRow(entry)).Error
	})
}

func (g *GormStore) Hold(ctx context.Context, id string) (Hold, bool, error) {
	var row holdRow
	err := g.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Hold{}, false, nil
	}
	if err != nil {
		return Hold{}, false, err
	}
	h := Hold{ID: row.ID, Account: row.Account, Amount: row.Amount, Reason: row.Reason, Released: row.Released}
	if row.Receipt != "" {
		var r Receipt
		if err := json.Unmarshal([]byte(row.Receipt), &r); err != nil {
			return Hold{}, false, fmt.Errorf("%w: hold %s receipt: %v", ErrConsistencyFault, id, err)
		}
		h.Receipt = &r
	}
	return h, true, nil
}

func (g *GormStore) Settle(ctx context.Context, receipt Receipt, entries []Entry) error {
	raw, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		at := receipt.At
		res := tx.Model(&holdRow{}).
			Where("id = ? AND released = ?", receipt.Hold, false).
			Updates(map[string]any{"released": true, "receipt": string(raw), "released_at": &at})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: hold %s missing or already released", ErrConsistencyFault, receipt.Hold)
		}
		for _, e := range entries {
			if err := credit(tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *GormStore) Credit(ctx context.Context, entry Entry) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return credit(tx, entry)
	})
}

func credit(tx *gorm.DB, e Entry) error {
	res := tx.Model(&accountRow{}).Where("id = ?", e.Account).
		UpdateColumn("balance", gorm.Expr("balance + ?", e.Delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: unknown account %s", ErrConsistencyFault, e.Account)
	}
	return tx.Create(toEntryRow(e)).Error
}

func (g *GormStore) Entries(ctx context.Context, account string) ([]Entry, error) {
	var rows []entryRow
	if err := g.db.WithContext(ctx).Where("account = ?", account).Order("seq").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, Entry{ID: r.ID, Account: r.Account, Delta: r.Delta, Reason: r.Reason, Hold: r.Hold, At: r.At})
	}
	return out, nil
}

func toEntryRow(e Entry) *entryRow {
	return &entryRow{ID: e.ID, Account: e.Account, Delta: e.Delta, Reason: e.Reason, Hold: e.Hold, At: e.At}
}
