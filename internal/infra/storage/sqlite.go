package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"paper_trade/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the keyed document store backing positions, transactions,
// accounts and watchlists
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a new SQLite storage instance at path
func NewStorage(path string) (*Storage, error) {
	// Ensure directory exists
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(
		&domain.Position{},
		&domain.Fill{},
		&domain.Transaction{},
		&domain.Account{},
		&domain.WatchlistEntry{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// ======================================================================================
// Position Operations
// ======================================================================================

// GetPosition retrieves a position with its fills by (user, symbol)
func (s *Storage) GetPosition(userID, symbol string) (*domain.Position, error) {
	var pos domain.Position
	err := s.db.Preload("Fills", func(db *gorm.DB) *gorm.DB {
		return db.Order("date ASC, id ASC")
	}).First(&pos, "user_id = ? AND symbol = ?", userID, symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// ListPositions retrieves all positions for a user ordered by symbol
func (s *Storage) ListPositions(userID string) ([]domain.Position, error) {
	var positions []domain.Position
	err := s.db.Order("symbol ASC").Find(&positions, "user_id = ?", userID).Error
	return positions, err
}

// ======================================================================================
// Account Operations
// ======================================================================================

// GetAccount retrieves a user's account
func (s *Storage) GetAccount(userID string) (*domain.Account, error) {
	var acct domain.Account
	err := s.db.First(&acct, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// SaveAccount creates or updates an account
func (s *Storage) SaveAccount(acct *domain.Account) error {
	return s.db.Save(acct).Error
}

// ======================================================================================
// Trade Application
// ======================================================================================

// ApplyTrade writes the position, the new fill, the account balance and the
// standalone transaction record as one database transaction. When
// closePosition is set the position and its fills are removed instead
// (a fully sold position does not exist as a stored record); the standalone
// transaction row is kept either way.
func (s *Storage) ApplyTrade(pos *domain.Position, fill *domain.Fill, closePosition bool, acct *domain.Account, txn *domain.Transaction) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if closePosition {
			if err := tx.Where("position_id = ?", pos.ID).Delete(&domain.Fill{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(pos).Error; err != nil {
				return err
			}
		} else {
			// Save creates the row when the primary key is still zero
			if err := tx.Omit("Fills").Save(pos).Error; err != nil {
				return err
			}
			fill.PositionID = pos.ID
			if err := tx.Create(fill).Error; err != nil {
				return err
			}
		}

		if err := tx.Save(acct).Error; err != nil {
			return err
		}

		return tx.Create(txn).Error
	})
}

// ======================================================================================
// Transaction Operations
// ======================================================================================

// TransactionFilter narrows and paginates transaction history queries
type TransactionFilter struct {
	Symbol string
	Kind   string
	Status string
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}

// ListTransactions retrieves a user's transactions, newest first,
// with optional filters and pagination. Returns the page and the total count.
func (s *Storage) ListTransactions(userID string, filter TransactionFilter) ([]domain.Transaction, int64, error) {
	query := s.db.Model(&domain.Transaction{}).Where("user_id = ?", userID)

	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.From != nil {
		query = query.Where("date >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("date <= ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 10
	}

	var txns []domain.Transaction
	err := query.Order("date DESC").Offset((page - 1) * limit).Limit(limit).Find(&txns).Error
	return txns, total, err
}

// GetTransaction retrieves one transaction scoped to a user
func (s *Storage) GetTransaction(userID, id string) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := s.db.First(&txn, "id = ? AND user_id = ?", id, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// SaveTransaction persists a transaction update (correction path)
func (s *Storage) SaveTransaction(txn *domain.Transaction) error {
	return s.db.Save(txn).Error
}

// ======================================================================================
// Watchlist Operations
// ======================================================================================

// ListWatchlist retrieves a user's watchlist symbols in insertion order
func (s *Storage) ListWatchlist(userID string) ([]domain.WatchlistEntry, error) {
	var entries []domain.WatchlistEntry
	err := s.db.Order("id ASC").Find(&entries, "user_id = ?", userID).Error
	return entries, err
}

// AddWatchlistEntry adds a symbol to a user's watchlist
func (s *Storage) AddWatchlistEntry(userID, symbol string) error {
	var existing domain.WatchlistEntry
	err := s.db.First(&existing, "user_id = ? AND symbol = ?", userID, symbol).Error
	if err == nil {
		return domain.ErrDuplicateWatchlistEntry
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.db.Create(&domain.WatchlistEntry{UserID: userID, Symbol: symbol}).Error
}

// RemoveWatchlistEntry removes a symbol from a user's watchlist
func (s *Storage) RemoveWatchlistEntry(userID, symbol string) error {
	res := s.db.Where("user_id = ? AND symbol = ?", userID, symbol).Delete(&domain.WatchlistEntry{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrWatchlistEntryNotFound
	}
	return nil
}
