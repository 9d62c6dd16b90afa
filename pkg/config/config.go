package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/unklstewy/eqmount/pkg/alignment"
	"github.com/unklstewy/eqmount/pkg/autohome"
	"github.com/unklstewy/eqmount/pkg/coordinates"
	"github.com/unklstewy/eqmount/pkg/guide"
	"github.com/unklstewy/eqmount/pkg/slew"
	"github.com/unklstewy/eqmount/pkg/tracking"
)

// Config represents the complete eqmount configuration.
// Files may be JSON or YAML; the format follows the file extension.
type Config struct {
	Observer  ObserverConfig  `json:"observer" yaml:"observer"`
	Mount     MountConfig     `json:"mount" yaml:"mount"`
	Tracking  TrackingConfig  `json:"tracking" yaml:"tracking"`
	Goto      GotoConfig      `json:"goto" yaml:"goto"`
	Guide     GuideConfig     `json:"guide" yaml:"guide"`
	AutoHome  AutoHomeConfig  `json:"autohome" yaml:"autohome"`
	Park      ParkConfig      `json:"park" yaml:"park"`
	Alignment AlignmentConfig `json:"alignment" yaml:"alignment"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
}

// ObserverConfig contains the observer's geographic location.
// Latitude selects the hemisphere and with it every sign convention of
// the mount.
type ObserverConfig struct {
	// Name is a friendly identifier for this observer location
	Name string `json:"name" yaml:"name"`

	// Latitude in decimal degrees (-90 to +90)
	Latitude float64 `json:"latitude" yaml:"latitude"`

	// Longitude in decimal degrees (-180 to +180), positive east
	Longitude float64 `json:"longitude" yaml:"longitude"`

	// Elevation in meters above sea level
	Elevation float64 `json:"elevation" yaml:"elevation"`

	// TimeZone is the IANA timezone name (e.g., "America/New_York")
	TimeZone string `json:"timezone" yaml:"timezone"`
}

// MountConfig selects and tunes the mount driver.
type MountConfig struct {
	// Driver is the mount implementation. Only "simulator" ships with eqmount.
	Driver string `json:"driver" yaml:"driver"`

	// PollPeriodMS is the controller tick period in milliseconds
	PollPeriodMS int `json:"poll_period_ms" yaml:"poll_period_ms"`

	// ReverseDEC flips the DEC motor direction
	ReverseDEC bool `json:"reverse_dec" yaml:"reverse_dec"`

	// UsePPEC enables periodic error correction at startup
	UsePPEC bool `json:"use_ppec" yaml:"use_ppec"`

	Simulator SimulatorConfig `json:"simulator" yaml:"simulator"`
}

// SimulatorConfig tunes the simulated mount.
type SimulatorConfig struct {
	// SlewSpeed in degrees per second
	SlewSpeed float64 `json:"slew_speed" yaml:"slew_speed"`

	// SlewScale is the fraction of each slew actually travelled.
	// Values below 1 force goto iterations.
	SlewScale float64 `json:"slew_scale" yaml:"slew_scale"`

	// InstantSlew completes every slew immediately
	InstantSlew bool `json:"instant_slew" yaml:"instant_slew"`
}

// TrackingConfig contains tracking rate and limit settings.
type TrackingConfig struct {
	// Mode is the rate used by -track and after startup: sidereal, lunar, solar or custom
	Mode string `json:"mode" yaml:"mode"`

	// CustomRA and CustomDE are the custom rates in arcseconds per second
	CustomRA float64 `json:"custom_ra" yaml:"custom_ra"`
	CustomDE float64 `json:"custom_de" yaml:"custom_de"`

	// MinAltitude stops tracking below this altitude in degrees
	MinAltitude float64 `json:"min_altitude" yaml:"min_altitude"`

	// MeridianFlipHourAngle is how far past the meridian (hours) tracking
	// may run on the wrong pier side
	MeridianFlipHourAngle float64 `json:"meridian_flip_hour_angle" yaml:"meridian_flip_hour_angle"`
}

// GotoConfig contains goto convergence and travel limit settings.
type GotoConfig struct {
	ResolutionArcsec float64 `json:"resolution_arcsec" yaml:"resolution_arcsec"`
	MaxIterations    int     `json:"max_iterations" yaml:"max_iterations"`

	// LimitMarginDegrees is the RA travel either side of home
	LimitMarginDegrees float64 `json:"limit_margin_degrees" yaml:"limit_margin_degrees"`

	// LimitEast and LimitWest override the derived RA limits (counts).
	// Both zero means derive from the margin.
	LimitEast int64 `json:"limit_east" yaml:"limit_east"`
	LimitWest int64 `json:"limit_west" yaml:"limit_west"`

	// LimitDELow and LimitDEHigh bound the DEC axis when CheckDE is set
	CheckDE     bool  `json:"check_de" yaml:"check_de"`
	LimitDELow  int64 `json:"limit_de_low" yaml:"limit_de_low"`
	LimitDEHigh int64 `json:"limit_de_high" yaml:"limit_de_high"`
}

// GuideConfig contains pulse guiding settings.
type GuideConfig struct {
	// MinPulseMS rejects shorter pulses
	MinPulseMS int `json:"min_pulse_ms" yaml:"min_pulse_ms"`

	// SyncThresholdMS is the duration below which pulses complete inline
	SyncThresholdMS int `json:"sync_threshold_ms" yaml:"sync_threshold_ms"`

	// RateRA and RateDE are fractions of sidereal
	RateRA float64 `json:"rate_ra" yaml:"rate_ra"`
	RateDE float64 `json:"rate_de" yaml:"rate_de"`
}

// AutoHomeConfig contains homing settings.
type AutoHomeConfig struct {
	SearchDegrees float64 `json:"search_degrees" yaml:"search_degrees"`
	ClearDegrees  float64 `json:"clear_degrees" yaml:"clear_degrees"`

	// SeekSpeed in arcseconds per second
	SeekSpeed float64 `json:"seek_speed" yaml:"seek_speed"`

	SettleMS        int `json:"settle_ms" yaml:"settle_ms"`
	SeekTimeoutSecs int `json:"seek_timeout_seconds" yaml:"seek_timeout_seconds"`
}

// ParkConfig contains the park position.
type ParkConfig struct {
	// UseHome parks at the home counts and ignores RA and DE
	UseHome bool `json:"use_home" yaml:"use_home"`

	RA int64 `json:"ra" yaml:"ra"`
	DE int64 `json:"de" yaml:"de"`
}

// AlignmentConfig selects the alignment strategy.
type AlignmentConfig struct {
	// Strategy is none, standard or plugin
	Strategy string `json:"strategy" yaml:"strategy"`

	// MaxPoints caps the plugin model size
	MaxPoints int `json:"max_points" yaml:"max_points"`

	// PolarToleranceDegrees flags polar estimates whose star separations
	// disagree by more than this
	PolarToleranceDegrees float64 `json:"polar_tolerance_degrees" yaml:"polar_tolerance_degrees"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level" yaml:"level"`

	// Development selects the human readable console encoder
	Development bool `json:"development" yaml:"development"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
	Path    string `json:"path" yaml:"path"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Enabled turns on recording of sync points and polar estimates
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Driver is the database driver (postgres)
	Driver string `json:"driver" yaml:"driver"`

	// Host is the database server hostname
	Host string `json:"host" yaml:"host"`

	// Port is the database server port
	Port int `json:"port" yaml:"port"`

	// Database is the database name
	Database string `json:"database" yaml:"database"`

	// Username for database authentication
	Username string `json:"username" yaml:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password" yaml:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode" yaml:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns" yaml:"max_idle_conns"`

	// RetentionDays drops alignment history older than this at startup
	// (0 keeps everything)
	RetentionDays int `json:"retention_days" yaml:"retention_days"`

	// CheckIntervalSecs is how often the connection is checked and
	// re-established
	CheckIntervalSecs int `json:"check_interval_seconds" yaml:"check_interval_seconds"`
}

// Load reads configuration from a JSON or YAML file.
// If the file doesn't exist, returns a default configuration.
// Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.applyEnvironmentOverrides()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as JSON or YAML depending on the extension.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Observer: ObserverConfig{
			Name:     "Primary Observer",
			Latitude: 0.0,
			TimeZone: "UTC",
		},
		Mount: MountConfig{
			Driver:       "simulator",
			PollPeriodMS: 250,
			Simulator: SimulatorConfig{
				SlewSpeed: 4.0,
				SlewScale: 1.0,
			},
		},
		Tracking: TrackingConfig{
			Mode:                  "sidereal",
			MinAltitude:           0.0,
			MeridianFlipHourAngle: 0.25,
		},
		Goto: GotoConfig{
			ResolutionArcsec:   5.0,
			MaxIterations:      5,
			LimitMarginDegrees: 100.0,
		},
		Guide: GuideConfig{
			MinPulseMS:      10,
			SyncThresholdMS: 200,
			RateRA:          0.5,
			RateDE:          0.5,
		},
		AutoHome: AutoHomeConfig{
			SearchDegrees:   5.0,
			ClearDegrees:    10.0,
			SeekSpeed:       1800.0,
			SettleMS:        1000,
			SeekTimeoutSecs: 900,
		},
		Park: ParkConfig{
			UseHome: true,
		},
		Alignment: AlignmentConfig{
			Strategy:              alignment.StrategyNone,
			MaxPoints:             50,
			PolarToleranceDegrees: 0.05,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9090",
			Path:    "/metrics",
		},
		Database: DatabaseConfig{
			Enabled:           false,
			Driver:            "postgres",
			Host:              "localhost",
			Port:              5432,
			Database:          "eqmount",
			Username:          "eqmount",
			SSLMode:           "disable",
			MaxOpenConns:      5,
			MaxIdleConns:      2,
			RetentionDays:     365,
			CheckIntervalSecs: 60,
		},
	}
}

// Validate checks the values that would otherwise fail deep inside the
// motion components.
func (c *Config) Validate() error {
	switch {
	case c.Observer.Latitude < -90 || c.Observer.Latitude > 90:
		return errors.Errorf("observer latitude %.4f out of range", c.Observer.Latitude)
	case c.Observer.Longitude < -180 || c.Observer.Longitude > 180:
		return errors.Errorf("observer longitude %.4f out of range", c.Observer.Longitude)
	case c.Mount.Driver != "simulator":
		return errors.Errorf("unknown mount driver %q", c.Mount.Driver)
	case c.Mount.PollPeriodMS <= 0:
		return errors.New("mount poll period must be positive")
	case c.Goto.ResolutionArcsec <= 0:
		return errors.New("goto resolution must be positive")
	case c.Goto.MaxIterations < 0:
		return errors.New("goto max iterations must not be negative")
	case c.Goto.LimitEast > c.Goto.LimitWest:
		return errors.Errorf("goto limit east %d is beyond limit west %d", c.Goto.LimitEast, c.Goto.LimitWest)
	case c.Guide.MinPulseMS < 0 || c.Guide.SyncThresholdMS < 0:
		return errors.New("guide durations must not be negative")
	case c.AutoHome.SeekSpeed <= 0:
		return errors.New("autohome seek speed must be positive")
	}

	if _, err := tracking.ParseKind(c.Tracking.Mode); err != nil {
		return errors.Wrap(err, "tracking mode")
	}
	switch c.Alignment.Strategy {
	case "", alignment.StrategyNone, alignment.StrategyStandard, alignment.StrategyPlugin:
	default:
		return errors.Errorf("unknown alignment strategy %q", c.Alignment.Strategy)
	}
	return nil
}

// Location returns the observer as a coordinates.Observer.
func (cfg *ObserverConfig) Location() coordinates.Observer {
	return coordinates.Observer{
		Location: coordinates.Geographic{
			Latitude:  cfg.Latitude,
			Longitude: cfg.Longitude,
			Altitude:  cfg.Elevation,
		},
		Timezone: cfg.TimeZone,
	}
}

// PollPeriod returns the tick period.
func (cfg *MountConfig) PollPeriod() time.Duration {
	return time.Duration(cfg.PollPeriodMS) * time.Millisecond
}

// Settings returns the tracking rate settings. The hemisphere is filled in
// by the controller.
func (cfg *TrackingConfig) Settings(reverseDEC bool) tracking.Settings {
	return tracking.Settings{
		ReverseDEC: reverseDEC,
		CustomRA:   cfg.CustomRA,
		CustomDE:   cfg.CustomDE,
	}
}

// Limits returns the tracking limits.
func (cfg *TrackingConfig) Limits() tracking.TrackingLimits {
	return tracking.TrackingLimits{
		MinAltitude:           cfg.MinAltitude,
		MeridianFlipHourAngle: cfg.MeridianFlipHourAngle,
	}
}

// SlewConfig returns the goto parameters.
func (cfg *GotoConfig) SlewConfig() slew.Config {
	return slew.Config{
		ResolutionArcsec:   cfg.ResolutionArcsec,
		MaxIterations:      cfg.MaxIterations,
		LimitMarginDegrees: cfg.LimitMarginDegrees,
	}
}

// ExplicitLimits returns the configured travel limits, or nil when the
// limits should be derived from the home position.
func (cfg *GotoConfig) ExplicitLimits() *slew.Limits {
	if cfg.LimitEast == 0 && cfg.LimitWest == 0 {
		return nil
	}
	return &slew.Limits{
		East:    cfg.LimitEast,
		West:    cfg.LimitWest,
		CheckDE: cfg.CheckDE,
		DELow:   cfg.LimitDELow,
		DEHigh:  cfg.LimitDEHigh,
	}
}

// PulseConfig returns the guide parameters.
func (cfg *GuideConfig) PulseConfig() guide.Config {
	return guide.Config{
		MinPulse:      time.Duration(cfg.MinPulseMS) * time.Millisecond,
		SyncThreshold: time.Duration(cfg.SyncThresholdMS) * time.Millisecond,
		RateRA:        cfg.RateRA,
		RateDE:        cfg.RateDE,
	}
}

// HomeConfig returns the homing parameters for the given tick period.
func (cfg *AutoHomeConfig) HomeConfig(poll time.Duration) autohome.Config {
	return autohome.Config{
		SearchDegrees: cfg.SearchDegrees,
		ClearDegrees:  cfg.ClearDegrees,
		SeekSpeed:     cfg.SeekSpeed,
		Settle:        time.Duration(cfg.SettleMS) * time.Millisecond,
		PollPeriod:    poll,
		SeekTimeout:   time.Duration(cfg.SeekTimeoutSecs) * time.Second,
	}
}

// Retention returns how long alignment history is kept; 0 keeps it forever.
func (cfg *DatabaseConfig) Retention() time.Duration {
	return time.Duration(cfg.RetentionDays) * 24 * time.Hour
}

// CheckInterval returns the connection check period.
func (cfg *DatabaseConfig) CheckInterval() time.Duration {
	if cfg.CheckIntervalSecs <= 0 {
		return time.Minute
	}
	return time.Duration(cfg.CheckIntervalSecs) * time.Second
}

// ConnectionString returns the PostgreSQL connection string.
func (cfg *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode,
	)
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows sensitive data like passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if lat, ok := envFloat("EQMOUNT_LATITUDE"); ok {
		c.Observer.Latitude = lat
	}
	if lon, ok := envFloat("EQMOUNT_LONGITUDE"); ok {
		c.Observer.Longitude = lon
	}
	if level := os.Getenv("EQMOUNT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if listen := os.Getenv("EQMOUNT_METRICS_LISTEN"); listen != "" {
		c.Metrics.Listen = listen
	}
	if dbHost := os.Getenv("EQMOUNT_DB_HOST"); dbHost != "" {
		c.Database.Host = dbHost
	}
	if dbPassword := os.Getenv("EQMOUNT_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
