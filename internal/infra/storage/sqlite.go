package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"depthscope/internal/domain"
)

// Storage persists pane settings, ticker metadata and user key-value
// configuration. Market data is never written here.
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a new SQLite storage instance
func NewStorage() (*Storage, error) {
	dbPath, err := getDBPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DB path: %w", err)
	}
	return NewStorageAt(dbPath)
}

// NewStorageAt opens a SQLite storage at an explicit file path.
func NewStorageAt(dbPath string) (*Storage, error) {
	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.PaneSetting{}, &domain.TickerInfo{}, &domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "DepthScope", "data", "depthscope.db"), nil
}

// ======================================================================================
// Pane Operations
// ======================================================================================

// SavePane creates or updates a pane's stream settings
func (s *Storage) SavePane(setting *domain.PaneSetting) error {
	return s.db.Save(setting).Error
}

// GetPane retrieves a pane's settings by id
func (s *Storage) GetPane(paneID string) (*domain.PaneSetting, error) {
	var setting domain.PaneSetting
	err := s.db.First(&setting, "pane_id = ?", paneID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &setting, err
}

// AllPanes retrieves all persisted pane settings
func (s *Storage) AllPanes() ([]domain.PaneSetting, error) {
	var settings []domain.PaneSetting
	err := s.db.Find(&settings).Error
	return settings, err
}

// DeletePane removes a pane's settings
func (s *Storage) DeletePane(paneID string) error {
	return s.db.Where("pane_id = ?", paneID).Delete(&domain.PaneSetting{}).Error
}

// ======================================================================================
// Ticker Operations
// ======================================================================================

// UpsertTicker creates or updates ticker metadata
func (s *Storage) UpsertTicker(info *domain.TickerInfo) error {
	return s.db.Save(info).Error
}

// GetTicker retrieves ticker metadata by symbol
func (s *Storage) GetTicker(symbol string) (*domain.TickerInfo, error) {
	var info domain.TickerInfo
	err := s.db.First(&info, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &info, err
}

// AllTickers retrieves all ticker metadata
func (s *Storage) AllTickers() ([]domain.TickerInfo, error) {
	var infos []domain.TickerInfo
	err := s.db.Find(&infos).Error
	return infos, err
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves a user configuration
func (s *Storage) SaveConfig(key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&config).Error
}

// LoadConfigMap loads all user configurations as a map
func (s *Storage) LoadConfigMap() (map[string]string, error) {
	var configs []domain.AppConfig
	if err := s.db.Find(&configs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}
