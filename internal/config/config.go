package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultAddr is the default TCP address for HTTP and WebSocket viewers.
	DefaultAddr = ":8080"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket control frames.
	DefaultMaxPayloadBytes int64 = 64 << 10
	// DefaultMaxViewers bounds concurrent WebSocket viewers. Zero disables the limit.
	DefaultMaxViewers = 64
	// DefaultFrameRateHz is the cadence of the frame loop.
	DefaultFrameRateHz = 30.0

	// DefaultControlMinInterval throttles discrete control commands per viewer.
	DefaultControlMinInterval = 50 * time.Millisecond
	// DefaultControlRateWindow bounds how often the HTTP control endpoint may be hit.
	DefaultControlRateWindow = time.Second
	// DefaultControlRateBurst sets how many HTTP control requests fit in one window.
	DefaultControlRateBurst = 20

	// DefaultDivisions is the grid resolution D of the D×D mesh.
	DefaultDivisions = 100
	// DefaultSamples is the length L of the sampled initial distribution.
	DefaultSamples = 100
	// DefaultCoefficients is the initial number of Fourier terms K.
	DefaultCoefficients = 100
	// DefaultMaxCoefficients caps K so a rebuild stays interactive.
	DefaultMaxCoefficients = 400
	// DefaultDiffusivity is the heat-equation constant k.
	DefaultDiffusivity = 0.6
	// DefaultTimeScale converts wall-clock seconds into simulated time.
	DefaultTimeScale = 0.1
	// DefaultTimeStep is the increment applied by the step-time controls.
	DefaultTimeStep = 0.25
	// DefaultInitialCondition names the initial temperature profile.
	DefaultInitialCondition = "step"
	// DefaultLighting selects shaded rendering with normals.
	DefaultLighting = "normals"

	// DefaultLogLevel controls verbosity for service logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "heatsurface.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 50
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 5
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// GRPCAuthMode selects how gRPC clients authenticate.
type GRPCAuthMode string

const (
	GRPCAuthModeNone         GRPCAuthMode = "none"
	GRPCAuthModeSharedSecret GRPCAuthMode = "shared_secret"
	GRPCAuthModeMTLS         GRPCAuthMode = "mtls"
)

// Config captures all runtime tunables for the service.
type Config struct {
	Address         string        `yaml:"address"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxPayloadBytes int64         `yaml:"max_payload_bytes"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MaxViewers      int           `yaml:"max_viewers"`
	TLSCertPath     string        `yaml:"tls_cert"`
	TLSKeyPath      string        `yaml:"tls_key"`
	ViewerDir       string        `yaml:"viewer_dir"`
	// ViewerTokenSecret enables HS256 token checks on /ws when set.
	ViewerTokenSecret string `yaml:"viewer_token_secret"`

	FrameRateHz                   float64 `yaml:"frame_rate_hz"`
	ViewerBandwidthBytesPerSecond float64 `yaml:"viewer_bandwidth_bytes_per_second"`

	ControlMinInterval time.Duration `yaml:"control_min_interval"`
	ControlRateWindow  time.Duration `yaml:"control_rate_window"`
	ControlRateBurst   int           `yaml:"control_rate_burst"`

	GRPCAddress        string       `yaml:"grpc_address"`
	GRPCAuthMode       GRPCAuthMode `yaml:"grpc_auth_mode"`
	GRPCSharedSecret   string       `yaml:"grpc_shared_secret"`
	GRPCServerCertPath string       `yaml:"grpc_server_cert"`
	GRPCServerKeyPath  string       `yaml:"grpc_server_key"`
	GRPCClientCAPath   string       `yaml:"grpc_client_ca"`

	Simulation SimulationConfig `yaml:"simulation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SimulationConfig parameterises the heat surface pipeline and scene driver.
type SimulationConfig struct {
	Divisions        int     `yaml:"divisions"`
	Samples          int     `yaml:"samples"`
	Coefficients     int     `yaml:"coefficients"`
	MaxCoefficients  int     `yaml:"max_coefficients"`
	Diffusivity      float64 `yaml:"diffusivity"`
	TimeScale        float64 `yaml:"time_scale"`
	TimeStep         float64 `yaml:"time_step"`
	InitialCondition string  `yaml:"initial_condition"`
	Lighting         string  `yaml:"lighting"`
	StartRunning     bool    `yaml:"start_running"`
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Address:            DefaultAddr,
		MaxPayloadBytes:    DefaultMaxPayloadBytes,
		PingInterval:       DefaultPingInterval,
		MaxViewers:         DefaultMaxViewers,
		FrameRateHz:        DefaultFrameRateHz,
		ControlMinInterval: DefaultControlMinInterval,
		ControlRateWindow:  DefaultControlRateWindow,
		ControlRateBurst:   DefaultControlRateBurst,
		GRPCAuthMode:       GRPCAuthModeNone,
		Simulation: SimulationConfig{
			Divisions:        DefaultDivisions,
			Samples:          DefaultSamples,
			Coefficients:     DefaultCoefficients,
			MaxCoefficients:  DefaultMaxCoefficients,
			Diffusivity:      DefaultDiffusivity,
			TimeScale:        DefaultTimeScale,
			TimeStep:         DefaultTimeStep,
			InitialCondition: DefaultInitialCondition,
			Lighting:         DefaultLighting,
		},
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Path:       DefaultLogPath,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// HEAT_CONFIG_FILE, and HEAT_* environment variables, in that order of
// precedence. All invalid overrides are reported together.
func Load() (*Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("HEAT_CONFIG_FILE")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	p := &problems{}
	cfg.Address = envString("HEAT_ADDR", cfg.Address)
	if raw := strings.TrimSpace(os.Getenv("HEAT_ALLOWED_ORIGINS")); raw != "" {
		cfg.AllowedOrigins = parseList(raw)
	}
	cfg.TLSCertPath = envString("HEAT_TLS_CERT", cfg.TLSCertPath)
	cfg.TLSKeyPath = envString("HEAT_TLS_KEY", cfg.TLSKeyPath)
	cfg.ViewerDir = envString("HEAT_VIEWER_DIR", cfg.ViewerDir)
	cfg.ViewerTokenSecret = envString("HEAT_VIEWER_TOKEN_SECRET", cfg.ViewerTokenSecret)
	p.int64("HEAT_MAX_PAYLOAD_BYTES", &cfg.MaxPayloadBytes, 1)
	p.duration("HEAT_PING_INTERVAL", &cfg.PingInterval)
	p.int("HEAT_MAX_VIEWERS", &cfg.MaxViewers, 0)
	p.float("HEAT_FRAME_RATE_HZ", &cfg.FrameRateHz, true)
	p.float("HEAT_VIEWER_BANDWIDTH", &cfg.ViewerBandwidthBytesPerSecond, false)
	p.duration("HEAT_CONTROL_MIN_INTERVAL", &cfg.ControlMinInterval)
	p.duration("HEAT_CONTROL_RATE_WINDOW", &cfg.ControlRateWindow)
	p.int("HEAT_CONTROL_RATE_BURST", &cfg.ControlRateBurst, 1)

	cfg.GRPCAddress = envString("HEAT_GRPC_ADDR", cfg.GRPCAddress)
	cfg.GRPCAuthMode = GRPCAuthMode(strings.ToLower(envString("HEAT_GRPC_AUTH_MODE", string(cfg.GRPCAuthMode))))
	cfg.GRPCSharedSecret = envString("HEAT_GRPC_SHARED_SECRET", cfg.GRPCSharedSecret)
	cfg.GRPCServerCertPath = envString("HEAT_GRPC_SERVER_CERT", cfg.GRPCServerCertPath)
	cfg.GRPCServerKeyPath = envString("HEAT_GRPC_SERVER_KEY", cfg.GRPCServerKeyPath)
	cfg.GRPCClientCAPath = envString("HEAT_GRPC_CLIENT_CA", cfg.GRPCClientCAPath)

	sim := &cfg.Simulation
	p.int("HEAT_DIVISIONS", &sim.Divisions, 2)
	p.int("HEAT_SAMPLES", &sim.Samples, 1)
	p.int("HEAT_COEFFICIENTS", &sim.Coefficients, 1)
	p.int("HEAT_MAX_COEFFICIENTS", &sim.MaxCoefficients, 1)
	p.float("HEAT_DIFFUSIVITY", &sim.Diffusivity, false)
	p.float("HEAT_TIME_SCALE", &sim.TimeScale, false)
	p.float("HEAT_TIME_STEP", &sim.TimeStep, true)
	sim.InitialCondition = envString("HEAT_INITIAL_CONDITION", sim.InitialCondition)
	sim.Lighting = envString("HEAT_LIGHTING", sim.Lighting)
	p.bool("HEAT_START_RUNNING", &sim.StartRunning)

	cfg.Logging.Level = envString("HEAT_LOG_LEVEL", cfg.Logging.Level)
	if raw, ok := os.LookupEnv("HEAT_LOG_PATH"); ok {
		cfg.Logging.Path = strings.TrimSpace(raw)
	}
	p.int("HEAT_LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB, 1)
	p.int("HEAT_LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups, 0)
	p.int("HEAT_LOG_MAX_AGE_DAYS", &cfg.Logging.MaxAgeDays, 0)
	p.bool("HEAT_LOG_COMPRESS", &cfg.Logging.Compress)

	cfg.validate(p)
	if len(p.list) > 0 {
		return nil, errors.New(strings.Join(p.list, "; "))
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read HEAT_CONFIG_FILE: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse HEAT_CONFIG_FILE %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate(p *problems) {
	sim := c.Simulation
	if sim.Divisions < 2 {
		p.add("simulation divisions must be at least 2, got %d", sim.Divisions)
	}
	if sim.Samples < 1 {
		p.add("simulation samples must be positive, got %d", sim.Samples)
	}
	if sim.MaxCoefficients < 1 {
		p.add("simulation max coefficients must be positive, got %d", sim.MaxCoefficients)
	}
	if sim.Coefficients < 1 || sim.Coefficients > sim.MaxCoefficients {
		p.add("simulation coefficients must be within [1, %d], got %d", sim.MaxCoefficients, sim.Coefficients)
	}
	if sim.Diffusivity < 0 {
		p.add("simulation diffusivity must be non-negative, got %v", sim.Diffusivity)
	}
	if sim.TimeScale < 0 {
		p.add("simulation time scale must be non-negative, got %v", sim.TimeScale)
	}
	if sim.TimeStep <= 0 {
		p.add("simulation time step must be positive, got %v", sim.TimeStep)
	}
	if c.FrameRateHz <= 0 {
		p.add("frame rate must be positive, got %v", c.FrameRateHz)
	}
	if (c.TLSCertPath == "") != (c.TLSKeyPath == "") {
		p.add("HEAT_TLS_CERT and HEAT_TLS_KEY must be provided together")
	}
	switch c.GRPCAuthMode {
	case GRPCAuthModeNone:
	case GRPCAuthModeSharedSecret:
		if strings.TrimSpace(c.GRPCSharedSecret) == "" {
			p.add("HEAT_GRPC_SHARED_SECRET is required when HEAT_GRPC_AUTH_MODE=%s", c.GRPCAuthMode)
		}
	case GRPCAuthModeMTLS:
		if c.GRPCServerCertPath == "" || c.GRPCServerKeyPath == "" || c.GRPCClientCAPath == "" {
			p.add("HEAT_GRPC_SERVER_CERT, HEAT_GRPC_SERVER_KEY and HEAT_GRPC_CLIENT_CA are required when HEAT_GRPC_AUTH_MODE=%s", c.GRPCAuthMode)
		}
	default:
		p.add("HEAT_GRPC_AUTH_MODE must be one of none, shared_secret, mtls, got %q", c.GRPCAuthMode)
	}
}

// problems accumulates descriptive override errors.
type problems struct {
	list []string
}

func (p *problems) add(format string, args ...any) {
	p.list = append(p.list, fmt.Sprintf(format, args...))
}

func (p *problems) int(key string, dst *int, min int) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min {
		p.add("%s must be an integer >= %d, got %q", key, min, raw)
		return
	}
	*dst = value
}

func (p *problems) int64(key string, dst *int64, min int64) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < min {
		p.add("%s must be an integer >= %d, got %q", key, min, raw)
		return
	}
	*dst = value
}

func (p *problems) float(key string, dst *float64, positive bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	switch {
	case err != nil:
		p.add("%s must be a number, got %q", key, raw)
	case positive && value <= 0:
		p.add("%s must be positive, got %q", key, raw)
	case value < 0:
		p.add("%s must be non-negative, got %q", key, raw)
	default:
		*dst = value
	}
}

func (p *problems) duration(key string, dst *time.Duration) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		p.add("%s must be a positive duration, got %q", key, raw)
		return
	}
	*dst = value
}

func (p *problems) bool(key string, dst *bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		p.add("%s must be a boolean value, got %q", key, raw)
		return
	}
	*dst = value
}

func envString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
