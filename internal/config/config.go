// Package config loads the server and client configuration views (spec §3,
// §6) the way the teacher repo's config package does: viper, layered over
// environment variables and an optional YAML file.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Server holds the configuration a dispatcher process needs.
type Server struct {
	Slots          int           `mapstructure:"slots"`
	ResponseLimit  int           `mapstructure:"response_limit"`
	ResTimeout     time.Duration `mapstructure:"-"`
	ResTimeoutSecs int           `mapstructure:"res_timeout"`
	Daemon         bool          `mapstructure:"daemon"`

	ShmDir  string `mapstructure:"shm_dir"`
	ShmName string `mapstructure:"shm_name"`
	PipeDir string `mapstructure:"pipe_dir"`

	Log     Logging `mapstructure:"log"`
	Metrics Metrics `mapstructure:"metrics"`
}

// Client holds the configuration an interactive client process needs.
type Client struct {
	ReqTimeout     time.Duration `mapstructure:"-"`
	ReqTimeoutSecs int           `mapstructure:"req_timeout"`
	ResTimeout     time.Duration `mapstructure:"-"`
	ResTimeoutSecs int           `mapstructure:"res_timeout"`

	ShmDir  string `mapstructure:"shm_dir"`
	ShmName string `mapstructure:"shm_name"`
	PipeDir string `mapstructure:"pipe_dir"`

	Log Logging `mapstructure:"log"`
}

// Logging controls the zap logger (spec SPEC_FULL.md §A2).
type Logging struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Metrics controls the Prometheus endpoint (spec SPEC_FULL.md §A3).
type Metrics struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// DefaultShmName is the process-wide well-known admission ring name,
// mirroring the original's SHM_NAME constant (spec §6).
const DefaultShmName = "/shm_server_963852741"

func newViper(configName, envPrefix string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath("./conf")
	v.AddConfigPath(".")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	return v
}

// LoadServer reads ./conf/server.yml plus SHELLSERVER_* environment
// overrides (spec §6).
func LoadServer() (Server, error) {
	v := newViper("server", "SHELLSERVER")

	v.SetDefault("slots", 8)
	v.SetDefault("response_limit", -1)
	v.SetDefault("res_timeout", 5)
	v.SetDefault("daemon", false)
	v.SetDefault("shm_dir", "/dev/shm")
	v.SetDefault("shm_name", DefaultShmName)
	v.SetDefault("pipe_dir", "./tmp")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9090")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Server{}, fmt.Errorf("read server config: %w", err)
		}
	}

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return Server{}, fmt.Errorf("unmarshal server config: %w", err)
	}
	if cfg.Slots < 1 {
		return Server{}, fmt.Errorf("slots must be >= 1, got %d", cfg.Slots)
	}
	cfg.ResTimeout = time.Duration(cfg.ResTimeoutSecs) * time.Second
	return cfg, nil
}

// LoadClient reads ./conf/client.yml plus SHELLCLIENT_* environment
// overrides (spec §6).
func LoadClient() (Client, error) {
	v := newViper("client", "SHELLCLIENT")

	v.SetDefault("req_timeout", 5)
	v.SetDefault("res_timeout", 5)
	v.SetDefault("shm_dir", "/dev/shm")
	v.SetDefault("shm_name", DefaultShmName)
	v.SetDefault("pipe_dir", "./tmp")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Client{}, fmt.Errorf("read client config: %w", err)
		}
	}

	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return Client{}, fmt.Errorf("unmarshal client config: %w", err)
	}
	cfg.ReqTimeout = time.Duration(cfg.ReqTimeoutSecs) * time.Second
	cfg.ResTimeout = time.Duration(cfg.ResTimeoutSecs) * time.Second
	return cfg, nil
}
