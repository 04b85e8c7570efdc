package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env   string      `yaml:"env" env:"ENV" env-default:"local"`
	HTTP  HTTPConfig  `yaml:"http"`
	Relay RelayConfig `yaml:"relay"`
	Sync  SyncConfig  `yaml:"sync"`
}

type HTTPConfig struct {
	Address string `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
}

// RelayConfig configures the server side of the relay.
type RelayConfig struct {
	// AccessKey gates connection establishment. Empty disables the check,
	// which matches open-LAN deployments where the relay is not reachable
	// from outside.
	AccessKey       string `yaml:"access_key" env:"RELAY_ACCESS_KEY"`
	MaxMessageBytes int64  `yaml:"max_message_bytes" env-default:"65536"`
}

// SyncConfig configures the client side: relay endpoint, access key and the
// protocol timing knobs.
type SyncConfig struct {
	Enabled bool `yaml:"enabled" env:"SYNC_ENABLED" env-default:"true"`
	// ServerURL is the relay websocket endpoint, e.g. ws://host:8080/ws.
	// Empty disables the network channel; tab sync keeps working.
	ServerURL      string        `yaml:"server_url" env:"RELAY_URL"`
	AccessKey      string        `yaml:"access_key" env:"SYNC_ACCESS_KEY"`
	PingInterval   time.Duration `yaml:"ping_interval" env-default:"5s"`
	PongDelay      time.Duration `yaml:"pong_delay" env-default:"500ms"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env-default:"3s"`
	EchoWindow     time.Duration `yaml:"echo_window" env-default:"100ms"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Relay.MaxMessageBytes <= 0 {
		c.Relay.MaxMessageBytes = 64 * 1024
	}
	if c.Sync.PingInterval <= 0 {
		c.Sync.PingInterval = 5 * time.Second
	}
	if c.Sync.PongDelay <= 0 {
		c.Sync.PongDelay = 500 * time.Millisecond
	}
	if c.Sync.ReconnectDelay <= 0 {
		c.Sync.ReconnectDelay = 3 * time.Second
	}
	if c.Sync.EchoWindow <= 0 {
		c.Sync.EchoWindow = 100 * time.Millisecond
	}
}
