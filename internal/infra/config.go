package infra

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// PaneConfig is one configured chart pane.
type PaneConfig struct {
	ID         string   `yaml:"id"`
	Exchange   string   `yaml:"exchange"` // "binance" or "bybit"
	Ticker     string   `yaml:"ticker"`
	TickSize   string   `yaml:"tick_size"`
	Timeframes []string `yaml:"timeframes"`
}

// Config holds the full application configuration.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		Binance struct {
			WSURL   string `yaml:"ws_url"`
			RestURL string `yaml:"rest_url"`
		} `yaml:"binance"`
		Bybit struct {
			WSURL   string `yaml:"ws_url"`
			RestURL string `yaml:"rest_url"`
		} `yaml:"bybit"`
		KlineRefreshSec int `yaml:"kline_refresh_sec"`
	} `yaml:"api"`

	Engine struct {
		Depth          int    `yaml:"depth"`
		HeatmapColumns int    `yaml:"heatmap_columns"`
		TradeMarkers   int    `yaml:"trade_markers"`
		CandleHistory  int    `yaml:"candle_history"`
		SizeFilter     string `yaml:"size_filter"`
		InboxSize      int    `yaml:"inbox_size"`
	} `yaml:"engine"`

	Panes []PaneConfig `yaml:"panes"`

	// RestorePanes replaces the configured panes with the last persisted
	// set on startup, when any exist.
	RestorePanes bool `yaml:"restore_panes"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.API.Binance.WSURL == "" || (!hasPrefix(c.API.Binance.WSURL, "ws://") && !hasPrefix(c.API.Binance.WSURL, "wss://")) {
		return fmt.Errorf("invalid Binance WS URL: %s", c.API.Binance.WSURL)
	}
	if c.API.Bybit.WSURL == "" || (!hasPrefix(c.API.Bybit.WSURL, "ws://") && !hasPrefix(c.API.Bybit.WSURL, "wss://")) {
		return fmt.Errorf("invalid Bybit WS URL: %s", c.API.Bybit.WSURL)
	}
	if c.API.KlineRefreshSec <= 0 {
		return fmt.Errorf("kline refresh interval must be positive")
	}

	for _, pane := range c.Panes {
		if pane.ID == "" {
			return fmt.Errorf("pane without id")
		}
		if pane.Exchange != "binance" && pane.Exchange != "bybit" {
			return fmt.Errorf("pane %s: unsupported exchange %q", pane.ID, pane.Exchange)
		}
		if pane.Ticker == "" {
			return fmt.Errorf("pane %s: ticker is required", pane.ID)
		}
		tick, err := decimal.NewFromString(pane.TickSize)
		if err != nil || tick.Sign() <= 0 {
			return fmt.Errorf("pane %s: invalid tick size %q", pane.ID, pane.TickSize)
		}
		if len(pane.Timeframes) == 0 {
			return fmt.Errorf("pane %s: at least one timeframe is required", pane.ID)
		}
	}

	if c.Engine.SizeFilter != "" {
		if _, err := decimal.NewFromString(c.Engine.SizeFilter); err != nil {
			return fmt.Errorf("invalid size filter %q", c.Engine.SizeFilter)
		}
	}

	return nil
}

// SizeFilter returns the parsed footprint/heatmap size threshold.
func (c *Config) SizeFilter() decimal.Decimal {
	if c.Engine.SizeFilter == "" {
		return decimal.Zero
	}
	f, err := decimal.NewFromString(c.Engine.SizeFilter)
	if err != nil {
		return decimal.Zero
	}
	return f
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv overrides configuration from environment variables.
func overrideWithEnv(cfg *Config) {
	if lvl := os.Getenv("DEPTHSCOPE_LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if url := os.Getenv("DEPTHSCOPE_BINANCE_WS"); url != "" {
		cfg.API.Binance.WSURL = url
	}
	if url := os.Getenv("DEPTHSCOPE_BYBIT_WS"); url != "" {
		cfg.API.Bybit.WSURL = url
	}
}
