package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "eventui.cfg.json"

// Bootstrap holds process settings read from the environment before the
// config file is loaded.
type Bootstrap struct {
	ConfigDir       string `env:"EVENTUI_CONFIG_DIR"  envDefault:"."`
	DefinitionsPath string `env:"EVENTUI_DEFINITIONS" envDefault:"./missions.json"`
	UIConfigDir     string `env:"EVENTUI_UI_DIR"      envDefault:"./ui"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	// Path of the database file. Empty keeps the database in memory and
	// dumps it to DumpPath every DumpInterval.
	Path         string        `json:"path" mapstructure:"path"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// DBConfig holds Postgres connection settings
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslMode" mapstructure:"sslMode"`
}

// StorageConfig selects and configures the player state backend
type StorageConfig struct {
	Type          string        `json:"type" mapstructure:"type"`
	FlushInterval time.Duration `json:"flushInterval" mapstructure:"flushInterval"`
	AuditEvents   bool          `json:"auditEvents" mapstructure:"auditEvents"`
	SQLite        SQLiteConfig  `json:"sqlite" mapstructure:"sqlite"`
	DB            DBConfig      `json:"db" mapstructure:"db"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// BridgeConfig holds companion client transport settings
type BridgeConfig struct {
	ListenAddr string        `json:"listenAddr" mapstructure:"listenAddr"`
	Path       string        `json:"path" mapstructure:"path"`
	Secret     string        `json:"secret" mapstructure:"secret"`
	SendBuffer int           `json:"sendBuffer" mapstructure:"sendBuffer"`
	WriteWait  time.Duration `json:"writeWait" mapstructure:"writeWait"`
}

// EngineConfig holds progression engine settings
type EngineConfig struct {
	TickInterval    time.Duration `json:"tickInterval" mapstructure:"tickInterval"`
	SignalQueueSize int           `json:"signalQueueSize" mapstructure:"signalQueueSize"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("engine.tickInterval", "50ms")
	viper.SetDefault("engine.signalQueueSize", 50_000)

	viper.SetDefault("bridge.listenAddr", ":8765")
	viper.SetDefault("bridge.path", "/bridge")
	viper.SetDefault("bridge.secret", "")
	viper.SetDefault("bridge.sendBuffer", 256)
	viper.SetDefault("bridge.writeWait", "10s")

	viper.SetDefault("ingest.path", "/signals")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.flushInterval", "30s")
	viper.SetDefault("storage.auditEvents", false)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpPath", "./eventui.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "eventui")
	viper.SetDefault("db.sslMode", "disable")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "eventui-metrics")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "eventui-server")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("monitor.interval", "1m")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetStorageConfig returns the storage backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:          viper.GetString("storage.type"),
		FlushInterval: viper.GetDuration("storage.flushInterval"),
		AuditEvents:   viper.GetBool("storage.auditEvents"),
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		DB: DBConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
			SSLMode:  viper.GetString("db.sslMode"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetBridgeConfig returns the companion client transport settings.
func GetBridgeConfig() BridgeConfig {
	return BridgeConfig{
		ListenAddr: viper.GetString("bridge.listenAddr"),
		Path:       viper.GetString("bridge.path"),
		Secret:     viper.GetString("bridge.secret"),
		SendBuffer: viper.GetInt("bridge.sendBuffer"),
		WriteWait:  viper.GetDuration("bridge.writeWait"),
	}
}

// GetEngineConfig returns the progression engine settings.
func GetEngineConfig() EngineConfig {
	return EngineConfig{
		TickInterval:    viper.GetDuration("engine.tickInterval"),
		SignalQueueSize: viper.GetInt("engine.signalQueueSize"),
	}
}
