// Package store is the write-through persistence layer for sessions,
// signals, positions and trades (C9), modeled on the teacher's
// internal/database/database.go dispatch-on-connection-string pattern.
package store

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps a gorm connection to either sqlite (local/dev) or postgres
// (production), chosen by the DSN prefix exactly like the teacher does.
type Store struct {
	db *gorm.DB
}

// Session mirrors the Session entity in the spec's data model: the only
// durable state required to resume trading on restart.
type Session struct {
	ID            string `gorm:"primaryKey"`
	UserID        int64  `gorm:"index"`
	StrategyID    string
	Exchange      string
	Pair          string
	Timeframe     string
	Status        string `gorm:"index"` // active, stopped, error
	StrategyJSON  string `gorm:"type:text"` // serialized StrategyConfig
	StartedAt     time.Time
	StoppedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StoredSignal is the immutable record of every emitted non-Hold signal.
type StoredSignal struct {
	ID               string `gorm:"primaryKey"`
	UserID           int64  `gorm:"index"`
	StrategyID       string
	Exchange         string
	Pair             string
	Side             string // Buy, Sell
	SignalType       string
	Price            decimal.Decimal `gorm:"type:decimal(28,8)"`
	Confidence       decimal.Decimal `gorm:"type:decimal(28,8)"`
	Reason           string
	Timeframe        string
	Status           string `gorm:"index"` // executed, suppressed
	ExecutedPrice    decimal.Decimal `gorm:"type:decimal(28,8)"`
	ExecutedAt       *time.Time
	CandleTimestamp  int64
	IndicatorValues  string `gorm:"type:text"` // JSON
	RelatedSignalID  *string
	CreatedAt        time.Time
}

// Position mirrors the Position entity (invariant I1: at most one open
// Position per user+pair).
type Position struct {
	ID                   string `gorm:"primaryKey"`
	UserID               int64  `gorm:"index"`
	Exchange             string
	Pair                 string `gorm:"index"`
	Side                 string
	EntryPrice           decimal.Decimal `gorm:"type:decimal(28,8)"`
	Quantity             decimal.Decimal `gorm:"type:decimal(28,8)"`
	EntryValue           decimal.Decimal `gorm:"type:decimal(28,8)"`
	CurrentPrice         decimal.Decimal `gorm:"type:decimal(28,8)"`
	UnrealisedPnL        decimal.Decimal `gorm:"type:decimal(28,8)"`
	UnrealisedPnLPercent decimal.Decimal `gorm:"type:decimal(28,8)"`
	Status               string          `gorm:"index"` // open, closed
	EntryTime            time.Time
	CloseTime            *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Trade mirrors the Trade entity, created exactly on an open->closed
// Position transition (invariant I2).
type Trade struct {
	ID             string `gorm:"primaryKey"`
	UserID         int64  `gorm:"index"`
	PositionID     string `gorm:"index"`
	BuySignalID    *string
	SellSignalID   *string
	Exchange       string
	Pair           string
	EntryPrice     decimal.Decimal `gorm:"type:decimal(28,8)"`
	ExitPrice      decimal.Decimal `gorm:"type:decimal(28,8)"`
	Quantity       decimal.Decimal `gorm:"type:decimal(28,8)"`
	EntryValue     decimal.Decimal `gorm:"type:decimal(28,8)"`
	ExitValue      decimal.Decimal `gorm:"type:decimal(28,8)"`
	PnL            decimal.Decimal `gorm:"type:decimal(28,8)"`
	PnLPercent     decimal.Decimal `gorm:"type:decimal(28,8)"`
	EntryTime      time.Time
	ExitTime       time.Time
	DurationS      int64
	CreatedAt      time.Time
}

// UserSettings supplements the spec: a per-user override of the default
// signal quantity and notification toggle (grounded on the teacher's
// UserSettings table), not named in spec.md but not excluded by any
// Non-goal either.
type UserSettings struct {
	UserID            int64 `gorm:"primaryKey"`
	NotificationsOn   bool  `gorm:"default:true"`
	SignalQuantity    decimal.Decimal `gorm:"type:decimal(28,8)"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// New opens a sqlite or postgres connection depending on dsn's prefix and
// auto-migrates all models.
func New(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
				return nil, mkErr
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Session{}, &StoredSignal{}, &Position{}, &Trade{}, &UserSettings{}); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewID generates a primary key for rows whose id isn't otherwise derived.
func NewID() string {
	return uuid.NewString()
}

// Session operations

func (s *Store) SaveSession(sess *Session) error {
	return s.db.Save(sess).Error
}

func (s *Store) ActiveSessions() ([]Session, error) {
	var sessions []Session
	err := s.db.Where("status = ?", "active").Find(&sessions).Error
	return sessions, err
}

func (s *Store) StopSession(id string) error {
	now := time.Now().UTC()
	return s.db.Model(&Session{}).Where("id = ?", id).Updates(map[string]any{
		"status":     "stopped",
		"stopped_at": &now,
	}).Error
}

// Signal operations

func (s *Store) SaveSignal(sig *StoredSignal) error {
	return s.db.Create(sig).Error
}

func (s *Store) SignalsByUser(userID int64, limit int) ([]StoredSignal, error) {
	var signals []StoredSignal
	err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&signals).Error
	return signals, err
}

// Position operations

func (s *Store) OpenPosition(userID int64, pair string) (*Position, error) {
	var pos Position
	err := s.db.Where("user_id = ? AND pair = ? AND status = ?", userID, pair, "open").First(&pos).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func (s *Store) CreatePosition(pos *Position) error {
	return s.db.Create(pos).Error
}

func (s *Store) ClosePosition(pos *Position) error {
	return s.db.Save(pos).Error
}

// Trade operations

func (s *Store) CreateTrade(trade *Trade) error {
	return s.db.Create(trade).Error
}

func (s *Store) TradesByUser(userID int64, limit int) ([]Trade, error) {
	var trades []Trade
	err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// UserSettings operations

func (s *Store) GetUserSettings(userID int64, defaultQty decimal.Decimal) (*UserSettings, error) {
	var settings UserSettings
	err := s.db.Where(UserSettings{UserID: userID}).
		Attrs(UserSettings{NotificationsOn: true, SignalQuantity: defaultQty}).
		FirstOrCreate(&settings).Error
	return &settings, err
}

func (s *Store) SaveUserSettings(settings *UserSettings) error {
	return s.db.Save(settings).Error
}
