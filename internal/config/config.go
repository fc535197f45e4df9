// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for every environment variable the harness reads.
const EnvPrefix = "E2E"

// Interface defines the contract for accessing harness configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	App() AppConfig
	Browser() BrowserConfig
	Validator() ValidatorConfig
	Report() ReportConfig
	Artifacts() ArtifactsConfig
	Scenarios() ScenariosConfig
	Database() DatabaseConfig
	Pages() PagesConfig

	// Setters used by CLI flag overrides.
	SetAppURL(string)
	SetBrowserHeadless(bool)
	SetScenariosDir(string)
	SetScenariosMarkers([]string)
	SetScenariosRun(string)
}

// Config holds the entire harness configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	AppCfg       AppConfig       `mapstructure:"app" yaml:"app"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	ValidatorCfg ValidatorConfig `mapstructure:"validator" yaml:"validator"`
	ReportCfg    ReportConfig    `mapstructure:"report" yaml:"report"`
	ArtifactsCfg ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
	ScenariosCfg ScenariosConfig `mapstructure:"scenarios" yaml:"scenarios"`
	DatabaseCfg  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	PagesCfg     PagesConfig     `mapstructure:"pages" yaml:"pages"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) App() AppConfig             { return c.AppCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Validator() ValidatorConfig { return c.ValidatorCfg }
func (c *Config) Report() ReportConfig       { return c.ReportCfg }
func (c *Config) Artifacts() ArtifactsConfig { return c.ArtifactsCfg }
func (c *Config) Scenarios() ScenariosConfig { return c.ScenariosCfg }
func (c *Config) Database() DatabaseConfig   { return c.DatabaseCfg }
func (c *Config) Pages() PagesConfig         { return c.PagesCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetAppURL(u string)             { c.AppCfg.URL = strings.TrimSuffix(u, "/") }
func (c *Config) SetBrowserHeadless(b bool)      { c.BrowserCfg.Headless = b }
func (c *Config) SetScenariosDir(d string)       { c.ScenariosCfg.Dir = d }
func (c *Config) SetScenariosMarkers(m []string) { c.ScenariosCfg.Markers = m }
func (c *Config) SetScenariosRun(pattern string) { c.ScenariosCfg.Run = pattern }

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
	// CaptureLevel is the minimum level copied into per-test log captures.
	CaptureLevel string `mapstructure:"capture_level" yaml:"capture_level"`
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

// AppConfig points at the application under test. The same base URL is the
// browser's navigation target and the API base for response validation.
type AppConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the single shared browser session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	StartMaximized    bool          `mapstructure:"start_maximized" yaml:"start_maximized"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	NetworkIdleQuiet  time.Duration `mapstructure:"network_idle_quiet" yaml:"network_idle_quiet"`
}

// ValidatorConfig configures the out-of-band chat API validation.
type ValidatorConfig struct {
	ChatPath     string        `mapstructure:"chat_path" yaml:"chat_path"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	SettleTime   time.Duration `mapstructure:"settle_time" yaml:"settle_time"`
	ShareCookies bool          `mapstructure:"share_cookies" yaml:"share_cookies"`
}

// ReportConfig configures report rendering and post-processing.
type ReportConfig struct {
	Path       string `mapstructure:"path" yaml:"path"`
	Title      string `mapstructure:"title" yaml:"title"`
	JUnitPath  string `mapstructure:"junit_path" yaml:"junit_path"`
	RenameFrom string `mapstructure:"rename_from" yaml:"rename_from"`
	RenameTo   string `mapstructure:"rename_to" yaml:"rename_to"`
}

// ArtifactsConfig configures where failure screenshots are written.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// ScenariosConfig selects which scenario files run.
type ScenariosConfig struct {
	Dir     string   `mapstructure:"dir" yaml:"dir"`
	Markers []string `mapstructure:"markers" yaml:"markers"`
	// Run is a regular expression matched against scenario ids and titles.
	Run string `mapstructure:"run" yaml:"run"`
}

// DatabaseConfig holds the optional results store connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// PagesConfig tunes the DKM page object.
type PagesConfig struct {
	// PollInterval is the cadence at which response completion is checked.
	PollInterval    time.Duration   `mapstructure:"poll_interval" yaml:"poll_interval"`
	ResponseTimeout time.Duration   `mapstructure:"response_timeout" yaml:"response_timeout"`
	Selectors       SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`
}

// SelectorsConfig locates the DKM UI elements. Selectors starting with "/" or
// "(" are XPath, anything else is CSS. DocumentCheckbox, DetailsButton,
// FilterGroup, FilterOption, TimeFilterOption and PopupTab take a name as an
// XPath string literal through a single %s verb.
type SelectorsConfig struct {
	HomeTitle             string `mapstructure:"home_title" yaml:"home_title"`
	DocumentRow           string `mapstructure:"document_row" yaml:"document_row"`
	ChatInput             string `mapstructure:"chat_input" yaml:"chat_input"`
	SendButton            string `mapstructure:"send_button" yaml:"send_button"`
	NewTopicButton        string `mapstructure:"new_topic_button" yaml:"new_topic_button"`
	SearchInput           string `mapstructure:"search_input" yaml:"search_input"`
	ClearAllButton        string `mapstructure:"clear_all_button" yaml:"clear_all_button"`
	DocumentCheckbox      string `mapstructure:"document_checkbox" yaml:"document_checkbox"`
	SuggestedQuestion     string `mapstructure:"suggested_question" yaml:"suggested_question"`
	AssistantMessage      string `mapstructure:"assistant_message" yaml:"assistant_message"`
	ResponseLoading       string `mapstructure:"response_loading" yaml:"response_loading"`
	DetailsButton         string `mapstructure:"details_button" yaml:"details_button"`
	PopupDialog           string `mapstructure:"popup_dialog" yaml:"popup_dialog"`
	PopupChatTab          string `mapstructure:"popup_chat_tab" yaml:"popup_chat_tab"`
	PopupChatInput        string `mapstructure:"popup_chat_input" yaml:"popup_chat_input"`
	PopupAssistantMessage string `mapstructure:"popup_assistant_message" yaml:"popup_assistant_message"`
	PopupLoading          string `mapstructure:"popup_loading" yaml:"popup_loading"`
	ClosePopupButton      string `mapstructure:"close_popup_button" yaml:"close_popup_button"`
	PopupTab              string `mapstructure:"popup_tab" yaml:"popup_tab"`
	DetailsButtons        string `mapstructure:"details_buttons" yaml:"details_buttons"`
	Pagination            string `mapstructure:"pagination" yaml:"pagination"`
	FilterGroup           string `mapstructure:"filter_group" yaml:"filter_group"`
	FilterOption          string `mapstructure:"filter_option" yaml:"filter_option"`
	TimeFilterDropdown    string `mapstructure:"time_filter_dropdown" yaml:"time_filter_dropdown"`
	TimeFilterOption      string `mapstructure:"time_filter_option" yaml:"time_filter_option"`
	Citation              string `mapstructure:"citation" yaml:"citation"`
}

// NewDefaultConfig creates a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static, a failure here is a programming error.
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
	v.SetDefault("logger.service_name", "dkm-e2e")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.capture_level", "info")
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Application --
	v.SetDefault("app.url", "http://localhost:5900")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.start_maximized", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.action_timeout", "120s")
	v.SetDefault("browser.navigation_timeout", "120s")
	v.SetDefault("browser.network_idle_quiet", "500ms")

	// -- Validator --
	v.SetDefault("validator.chat_path", "/backend/chat")
	v.SetDefault("validator.timeout", "200s")
	v.SetDefault("validator.settle_time", "4s")
	v.SetDefault("validator.share_cookies", true)

	// -- Report --
	v.SetDefault("report.path", "report.html")
	v.SetDefault("report.title", "Test Automation DKM")
	v.SetDefault("report.junit_path", "")
	v.SetDefault("report.rename_from", "Duration")
	v.SetDefault("report.rename_to", "Execution Time")

	// -- Artifacts --
	v.SetDefault("artifacts.dir", "screenshots")

	// -- Scenarios --
	v.SetDefault("scenarios.dir", "scenarios")
	v.SetDefault("scenarios.markers", []string{})
	v.SetDefault("scenarios.run", "")

	// -- Pages --
	v.SetDefault("pages.poll_interval", "1s")
	v.SetDefault("pages.response_timeout", "180s")
	v.SetDefault("pages.selectors.home_title", "//span[normalize-space()='Document Knowledge Mining']")
	v.SetDefault("pages.selectors.document_row", "//div[contains(@class,'documentCard')]")
	v.SetDefault("pages.selectors.chat_input", `textarea[aria-label="Chat input"]`)
	v.SetDefault("pages.selectors.send_button", `button[aria-label="Send"]`)
	v.SetDefault("pages.selectors.new_topic_button", "//button[normalize-space()='New Topic']")
	v.SetDefault("pages.selectors.search_input", "//input[contains(@placeholder,'Search')]")
	v.SetDefault("pages.selectors.clear_all_button", "//button[normalize-space()='Clear all']")
	v.SetDefault("pages.selectors.document_checkbox", "(//div[contains(@class,'documentCard')][.//*[contains(normalize-space(), %s)]]//input[@type='checkbox'])[1]")
	v.SetDefault("pages.selectors.suggested_question", "//button[contains(@class,'fai-Suggestion')]")
	v.SetDefault("pages.selectors.assistant_message", "//div[contains(@class,'fai-CopilotMessage')]")
	v.SetDefault("pages.selectors.response_loading", "//button[normalize-space()='Stop generating'] | //div[contains(@class,'fai-CopilotMessage')]//*[@role='progressbar']")
	v.SetDefault("pages.selectors.details_button", "(//div[contains(@class,'documentCard')][.//*[contains(normalize-space(), %s)]]//button[normalize-space()='Details'])[1]")
	v.SetDefault("pages.selectors.popup_dialog", "//div[@role='dialog']")
	v.SetDefault("pages.selectors.popup_chat_tab", "//div[@role='dialog']//button[@role='tab' and normalize-space()='Chat']")
	v.SetDefault("pages.selectors.popup_chat_input", "//div[@role='dialog']//textarea")
	v.SetDefault("pages.selectors.popup_assistant_message", "//div[@role='dialog']//div[contains(@class,'fai-CopilotMessage')]")
	v.SetDefault("pages.selectors.popup_loading", "//div[@role='dialog']//*[@role='progressbar']")
	v.SetDefault("pages.selectors.close_popup_button", "//div[@role='dialog']//button[@aria-label='close']")
	v.SetDefault("pages.selectors.popup_tab", "//div[@role='dialog']//button[@role='tab' and normalize-space()=%s]")
	v.SetDefault("pages.selectors.details_buttons", "//div[contains(@class,'documentCard')]//button[normalize-space()='Details']")
	v.SetDefault("pages.selectors.pagination", "//nav[contains(@aria-label,'agination')] | //button[contains(@aria-label,'Next page')]")
	v.SetDefault("pages.selectors.filter_group", "//div[contains(@class,'filter')]//button[normalize-space()=%s]")
	v.SetDefault("pages.selectors.filter_option", "(//div[contains(@class,'filter')]//label[normalize-space()=%s])[1]")
	v.SetDefault("pages.selectors.time_filter_dropdown", "//button[normalize-space()='Anytime' or @aria-label='Time range']")
	v.SetDefault("pages.selectors.time_filter_option", "//*[@role='option' and normalize-space()=%s]")
	v.SetDefault("pages.selectors.citation", "//div[contains(@class,'fai-CopilotMessage')]//*[contains(@class,'citation') or contains(@class,'reference')]")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for values that rarely live in a file.
	_ = v.BindEnv("app.url", EnvPrefix+"_APP_URL")
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Fall back to the bare URL variable the original suite used.
	if cfg.AppCfg.URL == "" {
		cfg.AppCfg.URL = os.Getenv("url")
	}
	cfg.AppCfg.URL = strings.TrimSuffix(cfg.AppCfg.URL, "/")

	if err := cfg.ExpandPaths(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading ~ in every filesystem path of the configuration.
func (c *Config) ExpandPaths() error {
	paths := []*string{
		&c.LoggerCfg.LogFile,
		&c.BrowserCfg.ExecPath,
		&c.ReportCfg.Path,
		&c.ReportCfg.JUnitPath,
		&c.ArtifactsCfg.Dir,
		&c.ScenariosCfg.Dir,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.AppCfg.URL == "" {
		return fmt.Errorf("app.url is a required configuration field")
	}
	if !strings.HasPrefix(c.AppCfg.URL, "http://") && !strings.HasPrefix(c.AppCfg.URL, "https://") {
		return fmt.Errorf("app.url must be an http(s) URL, got %q", c.AppCfg.URL)
	}
	if c.BrowserCfg.ActionTimeout <= 0 {
		return fmt.Errorf("browser.action_timeout must be a positive duration")
	}
	if c.BrowserCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if c.BrowserCfg.NetworkIdleQuiet < 0 {
		return fmt.Errorf("browser.network_idle_quiet must not be negative")
	}
	if err := c.ValidatorCfg.Validate(); err != nil {
		return fmt.Errorf("validator configuration invalid: %w", err)
	}
	if c.ReportCfg.Path == "" {
		return fmt.Errorf("report.path is a required configuration field")
	}
	if c.ArtifactsCfg.Dir == "" {
		return fmt.Errorf("artifacts.dir is a required configuration field")
	}
	if c.PagesCfg.PollInterval <= 0 {
		return fmt.Errorf("pages.poll_interval must be a positive duration")
	}
	if c.PagesCfg.ResponseTimeout <= 0 {
		return fmt.Errorf("pages.response_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the ValidatorConfig settings.
func (v *ValidatorConfig) Validate() error {
	if v.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if v.SettleTime < 0 {
		return fmt.Errorf("settle_time must not be negative")
	}
	if !strings.HasPrefix(v.ChatPath, "/") {
		return fmt.Errorf("chat_path must start with '/'")
	}
	return nil
}
