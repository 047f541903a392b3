package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// MonitorMode selects how row activity is observed
type MonitorMode string

const (
	ModeTrigger     MonitorMode = "trigger"     // Triggers append into the activity log table
	ModeProcessList MonitorMode = "processlist" // Legacy: sample information_schema.PROCESSLIST
)

// ConnectionStoreType defines where connection definitions are read from
type ConnectionStoreType string

const (
	StoreConfig ConnectionStoreType = "config" // [[connections]] entries in this file
	StoreSQLite ConnectionStoreType = "sqlite" // SQLite file managed by the admin tool
)

// MonitorConfiguration controls the change-monitoring core
type MonitorConfiguration struct {
	Mode                 MonitorMode `toml:"mode"`
	LogTable             string      `toml:"log_table"`
	PollIntervalMS       int         `toml:"poll_interval_ms"`
	BatchSize            int         `toml:"batch_size"`
	InitialBatchSize     int         `toml:"initial_batch_size"`
	PreviewColumns       int         `toml:"preview_columns"`
	PreviewValueLength   int         `toml:"preview_value_length"`
	ConnectTimeoutMS     int         `toml:"connect_timeout_ms"`
	ExcludeTables        []string    `toml:"exclude_tables"` // Glob patterns never instrumented
	DedupCapacity        int         `toml:"dedup_capacity"`
	DedupEvict           int         `toml:"dedup_evict"`
	AutoWatch            []string    `toml:"auto_watch"` // "host/database" glob patterns
	StatsIntervalSeconds int         `toml:"stats_interval_seconds"`
}

// ConnectionConfiguration describes one monitored MySQL target
type ConnectionConfiguration struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Database string `toml:"database"`
}

// ConnectionStoreConfiguration selects the connection store backend
type ConnectionStoreConfiguration struct {
	Type ConnectionStoreType `toml:"type"`
	Path string              `toml:"path"` // SQLite file (sqlite store only)
}

// SinkConfiguration configures one export sink
type SinkConfiguration struct {
	Name              string   `toml:"name"`
	Type              string   `toml:"type"`   // kafka, nats, redis, log
	Format            string   `toml:"format"` // json, msgpack
	Brokers           []string `toml:"brokers"`
	NatsURL           string   `toml:"nats_url"`
	RedisURL          string   `toml:"redis_url"`
	TopicPrefix       string   `toml:"topic_prefix"`
	FilterTables      []string `toml:"filter_tables"`
	FilterConnections []string `toml:"filter_connections"`
	BatchSize         int      `toml:"batch_size"`
	PollIntervalMS    int      `toml:"poll_interval_ms"`
	RetryInitialMS    int      `toml:"retry_initial_ms"`
	RetryMaxMS        int      `toml:"retry_max_ms"`
	RetryMultiplier   float64  `toml:"retry_multiplier"`
}

// AdminConfiguration for the HTTP admin API
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	AuthToken   string `toml:"auth_token"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID string `toml:"instance_id"`
	DataDir    string `toml:"data_dir"`

	Monitor         MonitorConfiguration         `toml:"monitor"`
	ConnectionStore ConnectionStoreConfiguration `toml:"connection_store"`
	Connections     []ConnectionConfiguration    `toml:"connections"`
	Sinks           []SinkConfiguration          `toml:"sinks"`
	Admin           AdminConfiguration           `toml:"admin"`
	Logging         LoggingConfiguration         `toml:"logging"`
	Prometheus      PrometheusConfiguration      `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "tablewatch.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging (overrides config)")
)

// Default configuration
var Config = &Configuration{
	InstanceID: "", // Auto-generate
	DataDir:    "./tablewatch-data",

	Monitor: MonitorConfiguration{
		Mode:                 ModeTrigger,
		LogTable:             "db_activity_log",
		PollIntervalMS:       1000,
		BatchSize:            50,
		InitialBatchSize:     50,
		PreviewColumns:       5,
		PreviewValueLength:   100,
		ConnectTimeoutMS:     10000,
		ExcludeTables:        []string{},
		DedupCapacity:        100,
		DedupEvict:           30,
		AutoWatch:            []string{},
		StatsIntervalSeconds: 15,
	},

	ConnectionStore: ConnectionStoreConfiguration{
		Type: StoreConfig,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "127.0.0.1",
		Port:        7070,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	if Config.InstanceID == "" {
		id, err := generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		Config.InstanceID = id
		log.Info().Str("instance_id", id).Msg("Auto-generated instance ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateInstanceID derives a stable instance ID from the machine ID
func generateInstanceID() (string, error) {
	id, err := machineid.ProtectedID("tablewatch")
	if err != nil {
		return "", err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return strconv.FormatUint(h.Sum64(), 16), nil
}

// Validate checks configuration for errors
func Validate() error {
	m := Config.Monitor

	switch m.Mode {
	case ModeTrigger, ModeProcessList:
	default:
		return fmt.Errorf("invalid monitor mode: %q", m.Mode)
	}

	if m.LogTable == "" {
		return fmt.Errorf("monitor log table name is required")
	}
	if len(m.LogTable) > 64 {
		return fmt.Errorf("monitor log table name exceeds 64 characters: %s", m.LogTable)
	}

	if m.PollIntervalMS < 10 {
		return fmt.Errorf("monitor poll interval must be >= 10ms")
	}

	if m.BatchSize < 1 {
		return fmt.Errorf("monitor batch size must be >= 1")
	}

	// also the page size of the activity endpoint, so it cannot be switched off
	if m.InitialBatchSize < 1 {
		return fmt.Errorf("monitor initial batch size must be >= 1")
	}

	if m.PreviewColumns < 1 {
		return fmt.Errorf("monitor preview columns must be >= 1")
	}

	if m.PreviewValueLength < 1 {
		return fmt.Errorf("monitor preview value length must be >= 1")
	}

	if m.ConnectTimeoutMS < 1 {
		return fmt.Errorf("monitor connect timeout must be >= 1ms")
	}

	if m.DedupCapacity < 1 {
		return fmt.Errorf("monitor dedup capacity must be >= 1")
	}

	if m.DedupEvict < 1 || m.DedupEvict > m.DedupCapacity {
		return fmt.Errorf("monitor dedup evict must be between 1 and dedup capacity (%d)", m.DedupCapacity)
	}

	if m.StatsIntervalSeconds < 1 {
		return fmt.Errorf("monitor stats interval must be >= 1s")
	}

	switch Config.ConnectionStore.Type {
	case StoreConfig:
	case StoreSQLite:
		if Config.ConnectionStore.Path == "" {
			return fmt.Errorf("sqlite connection store requires a path")
		}
	default:
		return fmt.Errorf("invalid connection store type: %q", Config.ConnectionStore.Type)
	}

	seen := make(map[string]bool, len(Config.Connections))
	for _, c := range Config.Connections {
		if c.ID == "" {
			return fmt.Errorf("connection entry without id")
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate connection id: %s", c.ID)
		}
		seen[c.ID] = true
	}

	sinkNames := make(map[string]bool, len(Config.Sinks))
	for _, s := range Config.Sinks {
		if s.Name == "" {
			return fmt.Errorf("sink entry without name")
		}
		if sinkNames[s.Name] {
			return fmt.Errorf("duplicate sink name: %s", s.Name)
		}
		sinkNames[s.Name] = true
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}
