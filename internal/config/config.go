// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Backend names accepted by app.backend.
const (
	BackendNative  = "native"
	BackendBrowser = "browser"
)

// Config holds the entire application configuration. It is built once by the
// command layer and passed explicitly to every component that needs it.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	App      AppConfig      `mapstructure:"app" yaml:"app"`
	Native   NativeConfig   `mapstructure:"native" yaml:"native"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Locator  LocatorConfig  `mapstructure:"locator" yaml:"locator"`
	Pacing   PacingConfig   `mapstructure:"pacing" yaml:"pacing"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Monitor  MonitorConfig  `mapstructure:"monitor" yaml:"monitor"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// AppConfig selects the backend and the on-disk layout.
type AppConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"`
	DataDir       string `mapstructure:"data_dir" yaml:"data_dir"`
	LogDir        string `mapstructure:"log_dir" yaml:"log_dir"`
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// NativeConfig configures the macOS accessibility backend.
type NativeConfig struct {
	AppName         string        `mapstructure:"app_name" yaml:"app_name"`
	MainWindow      string        `mapstructure:"main_window" yaml:"main_window"`
	ReservedWindows []string      `mapstructure:"reserved_windows" yaml:"reserved_windows"`
	ScriptTimeout   time.Duration `mapstructure:"script_timeout" yaml:"script_timeout"`
	// ActionsPerSecond caps osascript invocations. Zero disables the limiter.
	ActionsPerSecond float64     `mapstructure:"actions_per_second" yaml:"actions_per_second"`
	Strategies       StrategySet `mapstructure:"strategies" yaml:"strategies"`
}

// BrowserConfig holds settings for the Chromium instance driving the web client.
type BrowserConfig struct {
	URL               string         `mapstructure:"url" yaml:"url"`
	HostMatch         string         `mapstructure:"host_match" yaml:"host_match"`
	UserDataDir       string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	Locale            string         `mapstructure:"locale" yaml:"locale"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration  `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	LoginTimeout      time.Duration  `mapstructure:"login_timeout" yaml:"login_timeout"`
	// SurfaceSelectors are tried in order; the first that matches any element
	// defines the conversation panes reported as top level surfaces.
	SurfaceSelectors []string    `mapstructure:"surface_selectors" yaml:"surface_selectors"`
	BadgeSelectors   []string    `mapstructure:"badge_selectors" yaml:"badge_selectors"`
	ReservedSurfaces []string    `mapstructure:"reserved_surfaces" yaml:"reserved_surfaces"`
	Strategies       StrategySet `mapstructure:"strategies" yaml:"strategies"`
}

// StrategyConfig is the configuration form of one locator strategy.
type StrategyConfig struct {
	// Kind is one of "accessibility", "css", "text", "geometry".
	Kind    string  `mapstructure:"kind" yaml:"kind"`
	Value   string  `mapstructure:"value" yaml:"value"`
	Window  string  `mapstructure:"window" yaml:"window"`
	Index   int     `mapstructure:"index" yaml:"index"`
	XRatio  float64 `mapstructure:"x_ratio" yaml:"x_ratio"`
	YRatio  float64 `mapstructure:"y_ratio" yaml:"y_ratio"`
	XOffset int     `mapstructure:"x_offset" yaml:"x_offset"`
	YOffset int     `mapstructure:"y_offset" yaml:"y_offset"`
}

// StrategySet groups the ordered fallback chains for every control the dispatcher needs.
type StrategySet struct {
	Search       []StrategyConfig `mapstructure:"search" yaml:"search"`
	SearchResult []StrategyConfig `mapstructure:"search_result" yaml:"search_result"`
	MessageInput []StrategyConfig `mapstructure:"message_input" yaml:"message_input"`
	LoggedIn     []StrategyConfig `mapstructure:"logged_in" yaml:"logged_in"`
}

// LocatorConfig tunes the resilient locator.
type LocatorConfig struct {
	StrategyTimeout time.Duration `mapstructure:"strategy_timeout" yaml:"strategy_timeout"`
}

// PacingConfig holds the settle delays inserted after UI mutating steps.
type PacingConfig struct {
	Settle       time.Duration `mapstructure:"settle" yaml:"settle"`
	Activate     time.Duration `mapstructure:"activate" yaml:"activate"`
	SearchSettle time.Duration `mapstructure:"search_settle" yaml:"search_settle"`
	SendSettle   time.Duration `mapstructure:"send_settle" yaml:"send_settle"`
}

// CaptureConfig controls the audit screenshots taken around mutating operations.
type CaptureConfig struct {
	OnActions bool          `mapstructure:"on_actions" yaml:"on_actions"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MonitorConfig holds the monitor loop parameters. CLI flags override these.
type MonitorConfig struct {
	Target       string        `mapstructure:"target" yaml:"target"`
	AutoReply    string        `mapstructure:"auto_reply" yaml:"auto_reply"`
	Delay        time.Duration `mapstructure:"delay" yaml:"delay"`
	Jitter       time.Duration `mapstructure:"jitter" yaml:"jitter"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxReplies   int           `mapstructure:"max_replies" yaml:"max_replies"`
	DryRun       bool          `mapstructure:"dry_run" yaml:"dry_run"`
	ReplyOnBadge bool          `mapstructure:"reply_on_badge" yaml:"reply_on_badge"`
}

// DatabaseConfig holds the optional Postgres mirror of the event log.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "chatpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- App --
	v.SetDefault("app.backend", BackendNative)
	v.SetDefault("app.data_dir", "~/.chatpilot")
	v.SetDefault("app.log_dir", "")
	v.SetDefault("app.screenshot_dir", "")

	// -- Native --
	v.SetDefault("native.app_name", "QQ")
	v.SetDefault("native.main_window", "QQ")
	v.SetDefault("native.reserved_windows", []string{"", "QQ", "全网搜索"})
	v.SetDefault("native.script_timeout", "10s")
	v.SetDefault("native.actions_per_second", 10.0)
	setNativeStrategyDefaults(v)

	// -- Browser --
	v.SetDefault("browser.url", "https://im.qq.com/index/")
	v.SetDefault("browser.host_match", "qq.com")
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.locale", "zh-CN")
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 900})
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.post_load_wait", "2s")
	v.SetDefault("browser.login_timeout", "5m")
	v.SetDefault("browser.surface_selectors", []string{
		".recent-chat-list .list-item",
		"[class*='session-list'] [class*='item']",
		"[class*='recent'] [class*='item']",
	})
	v.SetDefault("browser.badge_selectors", []string{})
	v.SetDefault("browser.reserved_surfaces", []string{""})
	setBrowserStrategyDefaults(v)

	// -- Locator --
	v.SetDefault("locator.strategy_timeout", "3s")

	// -- Pacing --
	v.SetDefault("pacing.settle", "300ms")
	v.SetDefault("pacing.activate", "500ms")
	v.SetDefault("pacing.search_settle", "1s")
	v.SetDefault("pacing.send_settle", "500ms")

	// -- Capture --
	v.SetDefault("capture.on_actions", true)
	v.SetDefault("capture.timeout", "5s")

	// -- Monitor --
	v.SetDefault("monitor.delay", "15s")
	v.SetDefault("monitor.jitter", "5s")
	v.SetDefault("monitor.poll_interval", "5s")
	v.SetDefault("monitor.max_replies", 0)
	v.SetDefault("monitor.dry_run", false)
	v.SetDefault("monitor.reply_on_badge", false)

	// -- Database --
	v.SetDefault("database.url", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The database URL usually carries credentials; keep it out of config files.
	_ = v.BindEnv("database.url", "CHATPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, fmt.Errorf("invalid configuration paths: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ResolvePaths expands "~" and fills the directories derived from app.data_dir.
func (c *Config) ResolvePaths() error {
	dataDir, err := homedir.Expand(c.App.DataDir)
	if err != nil {
		return fmt.Errorf("app.data_dir: %w", err)
	}
	c.App.DataDir = dataDir

	resolve := func(field *string, name, fallback string) error {
		if *field == "" {
			*field = filepath.Join(dataDir, fallback)
			return nil
		}
		expanded, err := homedir.Expand(*field)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = expanded
		return nil
	}

	if err := resolve(&c.App.LogDir, "app.log_dir", "logs"); err != nil {
		return err
	}
	if err := resolve(&c.App.ScreenshotDir, "app.screenshot_dir", "screenshots"); err != nil {
		return err
	}
	if err := resolve(&c.Browser.UserDataDir, "browser.user_data_dir", "browser_data"); err != nil {
		return err
	}
	if c.Logger.LogFile != "" {
		logFile, err := homedir.Expand(c.Logger.LogFile)
		if err != nil {
			return fmt.Errorf("logger.log_file: %w", err)
		}
		c.Logger.LogFile = logFile
	}
	return nil
}

// EnsureDirs creates the log and screenshot directories. It is an explicit
// initialization step run by the command layer after the config is loaded.
func (c *Config) EnsureDirs() error {
	dirs := []string{c.App.LogDir, c.App.ScreenshotDir}
	if c.App.Backend == BackendBrowser {
		dirs = append(dirs, c.Browser.UserDataDir)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ActiveStrategies returns the strategy set of the selected backend.
func (c *Config) ActiveStrategies() StrategySet {
	if c.App.Backend == BackendBrowser {
		return c.Browser.Strategies
	}
	return c.Native.Strategies
}

// ReservedSurfaces returns the surface identities that are structural rather
// than conversational for the selected backend.
func (c *Config) ReservedSurfaces() []string {
	if c.App.Backend == BackendBrowser {
		return c.Browser.ReservedSurfaces
	}
	return c.Native.ReservedWindows
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.App.Backend) {
	case BackendNative, BackendBrowser:
		c.App.Backend = strings.ToLower(c.App.Backend)
	default:
		return fmt.Errorf("app.backend must be %q or %q, got %q", BackendNative, BackendBrowser, c.App.Backend)
	}
	if c.Locator.StrategyTimeout <= 0 {
		return fmt.Errorf("locator.strategy_timeout must be a positive duration")
	}
	if c.Pacing.Settle < 0 || c.Pacing.Activate < 0 || c.Pacing.SearchSettle < 0 || c.Pacing.SendSettle < 0 {
		return fmt.Errorf("pacing delays must not be negative")
	}
	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("monitor configuration invalid: %w", err)
	}

	set := c.ActiveStrategies()
	if len(set.Search) == 0 {
		return fmt.Errorf("%s.strategies.search must list at least one strategy", c.App.Backend)
	}
	if len(set.MessageInput) == 0 {
		return fmt.Errorf("%s.strategies.message_input must list at least one strategy", c.App.Backend)
	}

	if c.App.Backend == BackendNative {
		if c.Native.AppName == "" {
			return fmt.Errorf("native.app_name is required")
		}
		if c.Native.ScriptTimeout <= 0 {
			return fmt.Errorf("native.script_timeout must be a positive duration")
		}
	} else if c.Browser.URL == "" {
		return fmt.Errorf("browser.url is required")
	}
	return nil
}

// Validate checks the MonitorConfig settings.
func (m *MonitorConfig) Validate() error {
	if m.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if m.Delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}
	if m.Jitter < 0 {
		return fmt.Errorf("jitter must not be negative")
	}
	if m.MaxReplies < 0 {
		return fmt.Errorf("max_replies must be zero (unlimited) or positive")
	}
	return nil
}
