package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	LevelDB   LevelDBConfig   `mapstructure:"leveldb"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Network   NetworkConfig   `mapstructure:"network"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	AppLogFile string `mapstructure:"app_log_file"`
	Level      string `mapstructure:"level"`
}

// LevelDBConfig locates the ledger store. An empty path keeps the ledger in
// memory.
type LevelDBConfig struct {
	Path string `mapstructure:"path"`
}

// LedgerConfig names the accounts that sign ledger writes.
type LedgerConfig struct {
	Issuer    string `mapstructure:"issuer"`
	Validator string `mapstructure:"validator"`
}

const (
	GraphSPARQL = "sparql"
	GraphSQLite = "sqlite"
)

type GraphConfig struct {
	Backend    string `mapstructure:"backend"`
	Endpoint   string `mapstructure:"endpoint"`
	Database   string `mapstructure:"database"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// GatewayConfig bounds each individual ledger or graph call.
type GatewayConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Requests      int           `mapstructure:"requests"`
	Window        time.Duration `mapstructure:"window"`
}

type NetworkConfig struct {
	File string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("log.app_log_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("leveldb.path", "data/ledger")
	v.SetDefault("ledger.issuer", "0x0000000000000000000000000000000000000002")
	v.SetDefault("ledger.validator", "0x0000000000000000000000000000000000000003")
	v.SetDefault("graph.backend", GraphSQLite)
	v.SetDefault("graph.sqlite_path", "data/graph.db")
	v.SetDefault("graph.endpoint", "http://localhost:5820")
	v.SetDefault("graph.database", "intervia")
	v.SetDefault("graph.username", "")
	v.SetDefault("graph.password", "")
	v.SetDefault("gateway.timeout", 5*time.Second)
	v.SetDefault("ratelimit.redis_addr", "")
	v.SetDefault("ratelimit.redis_password", "")
	v.SetDefault("ratelimit.redis_db", 0)
	v.SetDefault("ratelimit.requests", 0)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("network.file", "config/network.yaml")
}

// Load reads the config file at path, if any, then applies INTERVIA_*
// environment overrides (graph.endpoint becomes INTERVIA_GRAPH_ENDPOINT).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("INTERVIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
