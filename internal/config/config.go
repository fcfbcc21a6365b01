package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration struct
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Network   NetworkConfig   `mapstructure:"network"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Sensor    SensorConfig    `mapstructure:"sensor"`
	Indicator IndicatorConfig `mapstructure:"indicator"`
	API       APIConfig       `mapstructure:"api"`
	Collector CollectorConfig `mapstructure:"collector"`
}

// NodeConfig holds per-node identity
type NodeConfig struct {
	// Address is the node's swarm address; 0 derives it from the interface IPv4.
	Address         uint8  `mapstructure:"address"`
	FirmwareVersion uint8  `mapstructure:"firmwareVersion"`
	Interface       string `mapstructure:"interface"`
}

// NetworkConfig holds the UDP transport settings
type NetworkConfig struct {
	Port             int    `mapstructure:"port"`
	BroadcastAddress string `mapstructure:"broadcastAddress"`
	BindRetries      uint   `mapstructure:"bindRetries"`
}

// ScheduleConfig holds cycle pacing
type ScheduleConfig struct {
	Cycle      time.Duration `mapstructure:"cycle"`
	PollWindow time.Duration `mapstructure:"pollWindow"`
}

// SensorConfig selects the brightness source
type SensorConfig struct {
	Kind string `mapstructure:"kind"`
	Path string `mapstructure:"path"`
	Seed int64  `mapstructure:"seed"`
}

// IndicatorConfig selects the light output
type IndicatorConfig struct {
	Kind string `mapstructure:"kind"`
	Path string `mapstructure:"path"`
}

// APIConfig holds the optional status listeners
type APIConfig struct {
	REST string `mapstructure:"rest"`
	GRPC string `mapstructure:"grpc"`
}

// CollectorConfig holds log collector settings
type CollectorConfig struct {
	Listen      string  `mapstructure:"listen"`
	DataDir     string  `mapstructure:"dataDir"`
	NATSURL     string  `mapstructure:"natsURL"`
	NATSSubject string  `mapstructure:"natsSubject"`
	PersistRate float64 `mapstructure:"persistRate"`
	CacheSize   int     `mapstructure:"cacheSize"`
	REST        string  `mapstructure:"rest"`
	// Address is announced in DefineServerLogger; empty derives it from the interface.
	Address string `mapstructure:"address"`
}

// Load reads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("node.address", 0)
	v.SetDefault("node.firmwareVersion", 28)
	v.SetDefault("node.interface", "")
	v.SetDefault("network.port", 2910)
	v.SetDefault("network.broadcastAddress", "255.255.255.255")
	v.SetDefault("network.bindRetries", 5)
	v.SetDefault("schedule.cycle", 100*time.Millisecond)
	v.SetDefault("schedule.pollWindow", 5*time.Millisecond)
	v.SetDefault("sensor.kind", "simulated")
	v.SetDefault("sensor.path", "")
	v.SetDefault("sensor.seed", 0)
	v.SetDefault("indicator.kind", "log")
	v.SetDefault("indicator.path", "")
	v.SetDefault("api.rest", "")
	v.SetDefault("api.grpc", "")
	v.SetDefault("collector.listen", ":2910")
	v.SetDefault("collector.dataDir", "/tmp/lightswarm-collector")
	v.SetDefault("collector.natsURL", "")
	v.SetDefault("collector.natsSubject", "lightswarm.snapshots")
	v.SetDefault("collector.persistRate", 10.0)
	v.SetDefault("collector.cacheSize", 64)
	v.SetDefault("collector.rest", ":8090")
	v.SetDefault("collector.address", "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("lightswarm")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
