package domain

import (
	"time"
)

// PaneSetting persists the last stream configuration of a pane so it can
// be restored on startup. Live market data is never persisted.
type PaneSetting struct {
	PaneID     string    `gorm:"primaryKey" json:"pane_id"`
	Exchange   string    `json:"exchange"`
	Ticker     string    `json:"ticker"`
	TickSize   string    `json:"tick_size"`  // decimal string
	Timeframes string    `json:"timeframes"` // comma-joined, e.g. "1m,5m"
	UpdatedAt  time.Time `json:"updated_at"`
}

// TickerInfo represents metadata for a subscribed instrument
type TickerInfo struct {
	Symbol       string    `gorm:"primaryKey" json:"symbol"`
	Name         string    `json:"name"`
	IconPath     string    `json:"icon_path"`
	IsActive     bool      `json:"is_active" gorm:"index"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AppConfig represents user-specific configuration (Key-Value)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
