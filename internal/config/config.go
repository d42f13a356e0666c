package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`

	Log    LogConfig    `mapstructure:"log"`
	RTC    RTCConfig    `mapstructure:"rtc"`
	Chat   ChatConfig   `mapstructure:"chat"`
	Store  StoreConfig  `mapstructure:"store"`
	Status StatusConfig `mapstructure:"status"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type RTCConfig struct {
	ICEServers    []string      `mapstructure:"ice_servers"`
	AnnouncedIPs  []string      `mapstructure:"announced_ips"`
	UDPPortMin    uint16        `mapstructure:"udp_port_min"`
	UDPPortMax    uint16        `mapstructure:"udp_port_max"`
	GatherTimeout time.Duration `mapstructure:"gather_timeout"`
	Loopback      bool          `mapstructure:"loopback"`
}

type ChatConfig struct {
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

type StoreConfig struct {
	Backend  string        `mapstructure:"backend"`
	MongoURI string        `mapstructure:"mongo_uri"`
	MongoDB  string        `mapstructure:"mongo_db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type StatusConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Channel       string `mapstructure:"channel"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "")

	v.SetDefault("log.level", "info")

	v.SetDefault("rtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("rtc.announced_ips", []string{})
	v.SetDefault("rtc.udp_port_min", 0)
	v.SetDefault("rtc.udp_port_max", 0)
	v.SetDefault("rtc.gather_timeout", "5s")
	v.SetDefault("rtc.loopback", false)

	v.SetDefault("chat.rate_limit", 5)
	v.SetDefault("chat.rate_interval", "3s")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo_db", "live")
	v.SetDefault("store.timeout", "5s")

	v.SetDefault("status.backend", "none")
	v.SetDefault("status.redis_addr", "localhost:6379")
	v.SetDefault("status.redis_password", "")
	v.SetDefault("status.redis_db", 0)
	v.SetDefault("status.channel", "live:view_counts")
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults. Any key can
// be overridden from the environment, e.g. LIVE_STORE_BACKEND=mongo.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("LIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("store", cfg.Store.Backend).Str("status", cfg.Status.Backend).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "mongo":
	default:
		return fmt.Errorf("store.backend %q: want memory or mongo", c.Store.Backend)
	}
	switch c.Status.Backend {
	case "none", "redis":
	default:
		return fmt.Errorf("status.backend %q: want none or redis", c.Status.Backend)
	}
	if c.RTC.UDPPortMin > c.RTC.UDPPortMax {
		return fmt.Errorf("rtc udp port range %d-%d is inverted", c.RTC.UDPPortMin, c.RTC.UDPPortMax)
	}
	return nil
}
