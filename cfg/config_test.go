package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Configuration {
	return &Configuration{
		InstanceID: "test",
		DataDir:    "./test-data",
		Monitor: MonitorConfiguration{
			Mode:                 ModeTrigger,
			LogTable:             "db_activity_log",
			PollIntervalMS:       1000,
			BatchSize:            50,
			InitialBatchSize:     50,
			PreviewColumns:       5,
			PreviewValueLength:   100,
			ConnectTimeoutMS:     10000,
			DedupCapacity:        100,
			DedupEvict:           30,
			StatsIntervalSeconds: 15,
		},
		ConnectionStore: ConnectionStoreConfiguration{Type: StoreConfig},
		Admin: AdminConfiguration{
			Enabled: true,
			Port:    7070,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	assert.NoError(t, Validate())
}

func TestValidate_DefaultConfig(t *testing.T) {
	assert.NoError(t, Validate())
}

func TestValidate_Invalid(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tests := []struct {
		name   string
		mutate func(c *Configuration)
	}{
		{"unknown mode", func(c *Configuration) { c.Monitor.Mode = "binlog" }},
		{"empty log table", func(c *Configuration) { c.Monitor.LogTable = "" }},
		{"long log table", func(c *Configuration) {
			c.Monitor.LogTable = "a_really_long_activity_log_table_name_that_exceeds_the_mysql_limit_x"
		}},
		{"poll interval", func(c *Configuration) { c.Monitor.PollIntervalMS = 1 }},
		{"batch size", func(c *Configuration) { c.Monitor.BatchSize = 0 }},
		{"initial batch size", func(c *Configuration) { c.Monitor.InitialBatchSize = 0 }},
		{"preview columns", func(c *Configuration) { c.Monitor.PreviewColumns = 0 }},
		{"connect timeout", func(c *Configuration) { c.Monitor.ConnectTimeoutMS = 0 }},
		{"evict above capacity", func(c *Configuration) { c.Monitor.DedupEvict = 101 }},
		{"sqlite without path", func(c *Configuration) { c.ConnectionStore.Type = StoreSQLite }},
		{"unknown store", func(c *Configuration) { c.ConnectionStore.Type = "etcd" }},
		{"stats interval", func(c *Configuration) { c.Monitor.StatsIntervalSeconds = 0 }},
		{"admin port", func(c *Configuration) { c.Admin.Port = 70000 }},
		{"connection without id", func(c *Configuration) {
			c.Connections = []ConnectionConfiguration{{Host: "localhost"}}
		}},
		{"duplicate connection", func(c *Configuration) {
			c.Connections = []ConnectionConfiguration{{ID: "a"}, {ID: "a"}}
		}},
		{"duplicate sink", func(c *Configuration) {
			c.Sinks = []SinkConfiguration{{Name: "k"}, {Name: "k"}}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			Config = validConfig()
			tc.mutate(Config)
			assert.Error(t, Validate())
		})
	}
}

func TestLoad_DecodesFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()
	Config = validConfig()

	dir := t.TempDir()
	path := filepath.Join(dir, "tablewatch.toml")
	content := `
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"

[monitor]
mode = "processlist"
poll_interval_ms = 250
exclude_tables = ["migrations", "telescope_*"]

[[connections]]
id = "local"
host = "127.0.0.1"
port = 3306
username = "root"
database = "laravel"

[[sinks]]
name = "events"
type = "redis"
format = "json"
redis_url = "redis://localhost:6379/0"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	require.NoError(t, Load(path))

	assert.Equal(t, ModeProcessList, Config.Monitor.Mode)
	assert.Equal(t, 250, Config.Monitor.PollIntervalMS)
	assert.Equal(t, []string{"migrations", "telescope_*"}, Config.Monitor.ExcludeTables)
	require.Len(t, Config.Connections, 1)
	assert.Equal(t, "laravel", Config.Connections[0].Database)
	require.Len(t, Config.Sinks, 1)
	assert.Equal(t, "redis", Config.Sinks[0].Type)
	assert.Equal(t, "test", Config.InstanceID)

	_, err := os.Stat(Config.DataDir)
	assert.NoError(t, err)
}
