package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. OAS_ENGINE_STEPS_PER_YEAR
const EnvPrefix = "OAS"

// Config for the whole application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Engine    EngineConfig    `mapstructure:"engine"`
	License   LicenseConfig   `mapstructure:"license"`
	API       APIConfig       `mapstructure:"api"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// General application configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"oneof=development staging production test"`
	LogLevel    string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// Valuation defaults applied by the engine facade
type EngineConfig struct {
	DurationMode       string    `mapstructure:"duration_mode" validate:"oneof=par spot none"`
	DurationBPPlain    float64   `mapstructure:"duration_bp_plain" validate:"gte=1,lt=300"`
	DurationBPOptions  float64   `mapstructure:"duration_bp_options" validate:"gte=1,lt=300"`
	ScenarioEfficiency float64   `mapstructure:"scenario_efficiency" validate:"gt=0,lte=100"`
	StepsPerYear       int       `mapstructure:"steps_per_year" validate:"gte=1,lte=365"`
	HorizonYears       float64   `mapstructure:"horizon_years" validate:"gt=0,lte=100"`
	SolverTolerance    float64   `mapstructure:"solver_tolerance" validate:"gt=0,lt=1"`
	SolverMaxIter      int       `mapstructure:"solver_max_iter" validate:"gte=10"`
	NoticeDays         int       `mapstructure:"notice_days" validate:"gte=0,lte=365"`
	YieldMethod        string    `mapstructure:"yield_method" validate:"oneof=bey simple_last_period simple_last_year muni"`
	Tax                TaxConfig `mapstructure:"tax"`
}

// Tax rates in percent
type TaxConfig struct {
	Income    float64 `mapstructure:"income" validate:"gte=0,lt=100"`
	ShortTerm float64 `mapstructure:"short_term" validate:"gte=0,lt=100"`
	LongTerm  float64 `mapstructure:"long_term" validate:"gte=0,lt=100"`
	SuperLong float64 `mapstructure:"super_long" validate:"gte=0,lt=100"`
}

// License credentials. The key may be inline or read from KeyFile.
type LicenseConfig struct {
	User    string `mapstructure:"user"`
	Key     string `mapstructure:"key"`
	KeyFile string `mapstructure:"key_file"`
	Secret  string `mapstructure:"secret"`
}

// Configuration for the API server
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit" validate:"gte=0"`
	Burst           int           `mapstructure:"burst" validate:"gte=0"`
}

// Configuration for the Kafka valuation stream
type KafkaConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Brokers      []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	GroupID      string   `mapstructure:"group_id" validate:"required_if=Enabled true"`
	RequestTopic string   `mapstructure:"request_topic" validate:"required_if=Enabled true"`
	ResultTopic  string   `mapstructure:"result_topic" validate:"required_if=Enabled true"`
	Workers      int      `mapstructure:"workers" validate:"gte=1"`
}

// Configuration for metrics
type MetricsConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// Configuration for Prometheus metrics
type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"min=1,max=65535"`
}

// Configuration for the websocket hub
type WebSocketConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ResolveKey returns the inline license key, or the contents of KeyFile
func (l LicenseConfig) ResolveKey() (string, error) {
	if l.Key != "" || l.KeyFile == "" {
		return l.Key, nil
	}
	b, err := os.ReadFile(l.KeyFile)
	if err != nil {
		return "", fmt.Errorf("failed to read license key file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Load reads the configuration from path, or ./config/config.yaml when path
// is empty, and applies environment overrides. A missing default file is not
// an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the struct tags of every section
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "bond-oas-engine")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Engine defaults
	v.SetDefault("engine.duration_mode", "par")
	v.SetDefault("engine.duration_bp_plain", 10)
	v.SetDefault("engine.duration_bp_options", 40)
	v.SetDefault("engine.scenario_efficiency", 100)
	v.SetDefault("engine.steps_per_year", 12)
	v.SetDefault("engine.horizon_years", 50)
	v.SetDefault("engine.solver_tolerance", 1e-8)
	v.SetDefault("engine.solver_max_iter", 200)
	v.SetDefault("engine.notice_days", 30)
	v.SetDefault("engine.yield_method", "simple_last_period")
	v.SetDefault("engine.tax.income", 35)
	v.SetDefault("engine.tax.short_term", 35)
	v.SetDefault("engine.tax.long_term", 15)
	v.SetDefault("engine.tax.super_long", 15)

	// License defaults
	v.SetDefault("license.user", "")
	v.SetDefault("license.key", "")
	v.SetDefault("license.key_file", "")
	v.SetDefault("license.secret", "")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.shutdown_timeout", "30s")
	v.SetDefault("api.rate_limit", 50)
	v.SetDefault("api.burst", 100)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "bond-oas-engine")
	v.SetDefault("kafka.request_topic", "valuation.requests")
	v.SetDefault("kafka.result_topic", "valuation.results")
	v.SetDefault("kafka.workers", 4)

	// Metrics defaults
	v.SetDefault("metrics.prometheus.enabled", true)
	v.SetDefault("metrics.prometheus.port", 9090)

	v.SetDefault("websocket.enabled", true)
}

// GetConfigPath returns the file named by OAS_CONFIG_PATH, or "" to let Load
// search ./config
func GetConfigPath() string {
	return os.Getenv(EnvPrefix + "_CONFIG_PATH")
}
