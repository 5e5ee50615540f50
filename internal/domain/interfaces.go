package domain

import (
	"context"
)

// StreamWorker defines the interface for exchange WebSocket connectors
type StreamWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// SnapshotRequester lets the aggregation core ask the transport collaborator
// for a fresh depth snapshot when the reconstructor enters resync.
type SnapshotRequester interface {
	RequestSnapshot()
}

// PaneSettingRepository defines how pane settings are persisted
type PaneSettingRepository interface {
	SavePane(setting *PaneSetting) error
	GetPane(paneID string) (*PaneSetting, error)
	AllPanes() ([]PaneSetting, error)
	DeletePane(paneID string) error
}
