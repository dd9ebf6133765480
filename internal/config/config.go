package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Grid       GridConfig       `mapstructure:"grid" yaml:"grid"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
	Control    ControlConfig    `mapstructure:"control" yaml:"control"`
	Recorder   RecorderConfig   `mapstructure:"recorder" yaml:"recorder"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig controls how the browser is launched or attached to.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// ControlURL attaches to an already running browser (its DevTools websocket URL)
	// instead of launching one.
	ControlURL     string        `mapstructure:"control_url" yaml:"control_url"`
	Width          int           `mapstructure:"width" yaml:"width"`
	Height         int           `mapstructure:"height" yaml:"height"`
	NavigationWait time.Duration `mapstructure:"navigation_wait" yaml:"navigation_wait"`
	GridTimeout    time.Duration `mapstructure:"grid_timeout" yaml:"grid_timeout"`
}

// GridConfig is the DOM convention of the grid widget. Defaults follow ag-Grid.
type GridConfig struct {
	RowIndexAttr       string `mapstructure:"row_index_attr" yaml:"row_index_attr"`
	ColumnIDAttr       string `mapstructure:"column_id_attr" yaml:"column_id_attr"`
	SubjectColumn      string `mapstructure:"subject_column" yaml:"subject_column"`
	MarkerClass        string `mapstructure:"marker_class" yaml:"marker_class"`
	OptionListSelector string `mapstructure:"option_list_selector" yaml:"option_list_selector"`
	ViewportSelector   string `mapstructure:"viewport_selector" yaml:"viewport_selector"`
}

// AutomationConfig tunes a session. The controller snapshots it at the start of every cycle.
// Its JSON form uses milliseconds for durations, matching AutomationPatch.
type AutomationConfig struct {
	TargetLabel        string        `mapstructure:"target_label" yaml:"target_label"`
	InitiatingKey      string        `mapstructure:"initiating_key" yaml:"initiating_key"`
	AdvanceRepetitions int           `mapstructure:"advance_repetitions" yaml:"advance_repetitions"`
	ActionDelay        time.Duration `mapstructure:"action_delay" yaml:"action_delay"`
	CycleDelay         time.Duration `mapstructure:"cycle_delay" yaml:"cycle_delay"`
	ScrollIncrement    float64       `mapstructure:"scroll_increment" yaml:"scroll_increment"`
	ScrollSettleDelay  time.Duration `mapstructure:"scroll_settle_delay" yaml:"scroll_settle_delay"`
	StopKey            string        `mapstructure:"stop_key" yaml:"stop_key"`
	CompletedDismiss   time.Duration `mapstructure:"completed_dismiss" yaml:"completed_dismiss"`
	StoppedDismiss     time.Duration `mapstructure:"stopped_dismiss" yaml:"stopped_dismiss"`
}

// ControlConfig configures the HTTP control API used by `serve`.
type ControlConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// RecorderConfig configures GIF recording of sessions.
type RecorderConfig struct {
	Output     string `mapstructure:"output" yaml:"output"`
	FrameDelay int    `mapstructure:"frame_delay" yaml:"frame_delay"`
	MaxWidth   uint   `mapstructure:"max_width" yaml:"max_width"`
}

// NewDefaultConfig returns a Config populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: unmarshalling defaults: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "gridfill")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.control_url", "")
	v.SetDefault("browser.width", 1280)
	v.SetDefault("browser.height", 800)
	v.SetDefault("browser.navigation_wait", "1s")
	v.SetDefault("browser.grid_timeout", "30s")

	v.SetDefault("grid.row_index_attr", "row-index")
	v.SetDefault("grid.column_id_attr", "col-id")
	v.SetDefault("grid.subject_column", "subject")
	v.SetDefault("grid.marker_class", "subject-select")
	v.SetDefault("grid.option_list_selector", `select, [role="listbox"], [role="combobox"]`)
	v.SetDefault("grid.viewport_selector", ".ag-body-viewport")

	v.SetDefault("automation.target_label", "Math")
	v.SetDefault("automation.initiating_key", "")
	v.SetDefault("automation.advance_repetitions", 0)
	v.SetDefault("automation.action_delay", "150ms")
	v.SetDefault("automation.cycle_delay", "300ms")
	v.SetDefault("automation.scroll_increment", 120.0)
	v.SetDefault("automation.scroll_settle_delay", "500ms")
	v.SetDefault("automation.stop_key", "Escape")
	v.SetDefault("automation.completed_dismiss", "3s")
	v.SetDefault("automation.stopped_dismiss", "8s")

	v.SetDefault("control.addr", "127.0.0.1:7420")
	v.SetDefault("control.shutdown_timeout", "5s")

	v.SetDefault("recorder.output", "")
	v.SetDefault("recorder.frame_delay", 60)
	v.SetDefault("recorder.max_width", 960)
}

// Load builds a Config from defaults, the optional config file and GRIDFILL_* environment
// variables. A missing file is not an error unless it was named explicitly.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("gridfill")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("GRIDFILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the automation cannot work with.
func (c *Config) Validate() error {
	if err := c.Automation.Validate(); err != nil {
		return err
	}
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	if c.Recorder.FrameDelay < 0 {
		return fmt.Errorf("recorder.frame_delay must not be negative, got %d", c.Recorder.FrameDelay)
	}
	return nil
}

// Validate checks the automation parameters.
func (a AutomationConfig) Validate() error {
	if strings.TrimSpace(a.TargetLabel) == "" {
		return errors.New("automation.target_label must not be empty")
	}
	if a.AdvanceRepetitions < 0 {
		return fmt.Errorf("automation.advance_repetitions must not be negative, got %d", a.AdvanceRepetitions)
	}
	for name, d := range map[string]time.Duration{
		"action_delay":        a.ActionDelay,
		"cycle_delay":         a.CycleDelay,
		"scroll_settle_delay": a.ScrollSettleDelay,
		"completed_dismiss":   a.CompletedDismiss,
		"stopped_dismiss":     a.StoppedDismiss,
	} {
		if d < 0 {
			return fmt.Errorf("automation.%s must not be negative, got %s", name, d)
		}
	}
	if a.ScrollIncrement <= 0 {
		return fmt.Errorf("automation.scroll_increment must be positive, got %g", a.ScrollIncrement)
	}
	return nil
}

// Validate checks that every part of the DOM convention is named.
func (g GridConfig) Validate() error {
	if g.RowIndexAttr == "" || g.ColumnIDAttr == "" || g.SubjectColumn == "" {
		return errors.New("grid.row_index_attr, grid.column_id_attr and grid.subject_column are required")
	}
	if g.MarkerClass == "" || g.OptionListSelector == "" {
		return errors.New("grid.marker_class and grid.option_list_selector are required")
	}
	return nil
}
