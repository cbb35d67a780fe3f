package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"nudge/internal/constants"
)

const EnvConfigFile = "NUDGE_CONFIG"

type Redis struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type Relay struct {
	Host                string        `mapstructure:"host"`
	Port                int           `mapstructure:"port"`
	StatusAddr          string        `mapstructure:"status_addr"`
	Advertise           bool          `mapstructure:"advertise"`
	SessionTTL          time.Duration `mapstructure:"session_ttl"`
	CleanupInterval     time.Duration `mapstructure:"cleanup_interval"`
	PassphraseWords     int           `mapstructure:"passphrase_words"`
	MaxGenerateAttempts int           `mapstructure:"max_generate_attempts"`
	MaxFailedAttempts   int           `mapstructure:"max_failed_attempts"`
	BlockDuration       time.Duration `mapstructure:"block_duration"`
	Store               string        `mapstructure:"store"`
	Redis               Redis         `mapstructure:"redis"`
	Audit               bool          `mapstructure:"audit"`
	AuditDir            string        `mapstructure:"audit_dir"`
}

type Peer struct {
	RelayHost    string `mapstructure:"relay_host"`
	RelayPort    int    `mapstructure:"relay_port"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	Delay        int    `mapstructure:"delay"` // microseconds
	HideHostname bool   `mapstructure:"hide_hostname"`
	SkipHash     bool   `mapstructure:"skip_hash"`
	LogDir       string `mapstructure:"log_dir"`
}

// PaceDelay is the spacing enforced before each data frame.
func (p Peer) PaceDelay() time.Duration {
	return time.Duration(p.Delay) * time.Microsecond
}

func (p Peer) RelayAddr() string {
	return fmt.Sprintf("%s:%d", p.RelayHost, p.RelayPort)
}

type Transport struct {
	InitialRTO   time.Duration `mapstructure:"initial_rto"`
	MinRTO       time.Duration `mapstructure:"min_rto"`
	MaxRTO       time.Duration `mapstructure:"max_rto"`
	MaxRetries   int           `mapstructure:"max_retries"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	Linger       time.Duration `mapstructure:"linger"`
	SocketBuffer int           `mapstructure:"socket_buffer"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Relay     Relay     `mapstructure:"relay"`
	Peer      Peer      `mapstructure:"peer"`
	Transport Transport `mapstructure:"transport"`
	Log       Log       `mapstructure:"log"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Relay: Relay{
			Host:                constants.DefaultBindHost,
			Port:                constants.DefaultRelayPort,
			SessionTTL:          constants.SessionTTL,
			CleanupInterval:     constants.CleanupInterval,
			PassphraseWords:     constants.PassphraseWords,
			MaxGenerateAttempts: constants.MaxGenerateAttempts,
			MaxFailedAttempts:   constants.MaxFailedAttempts,
			BlockDuration:       constants.BlockDuration,
			Store:               "memory",
			Redis:               Redis{Port: "6379"},
		},
		Peer: Peer{
			RelayHost: constants.DefaultRelayHost,
			RelayPort: constants.DefaultRelayPort,
			ChunkSize: constants.DefaultChunkSize,
			Delay:     constants.DefaultDelay,
		},
		Transport: Transport{
			InitialRTO:   constants.InitialRTO,
			MinRTO:       constants.MinRTO,
			MaxRTO:       constants.MaxRTO,
			MaxRetries:   constants.MaxRetries,
			IdleTimeout:  constants.IdleTimeout,
			Linger:       constants.LingerTime,
			SocketBuffer: constants.SocketBufferSize,
		},
		Log: Log{Level: "info", Format: "console"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("relay.host", d.Relay.Host)
	v.SetDefault("relay.port", d.Relay.Port)
	v.SetDefault("relay.status_addr", d.Relay.StatusAddr)
	v.SetDefault("relay.advertise", d.Relay.Advertise)
	v.SetDefault("relay.session_ttl", d.Relay.SessionTTL)
	v.SetDefault("relay.cleanup_interval", d.Relay.CleanupInterval)
	v.SetDefault("relay.passphrase_words", d.Relay.PassphraseWords)
	v.SetDefault("relay.max_generate_attempts", d.Relay.MaxGenerateAttempts)
	v.SetDefault("relay.max_failed_attempts", d.Relay.MaxFailedAttempts)
	v.SetDefault("relay.block_duration", d.Relay.BlockDuration)
	v.SetDefault("relay.redis.host", d.Relay.Redis.Host)
	v.SetDefault("relay.redis.port", d.Relay.Redis.Port)
	v.SetDefault("relay.redis.username", "")
	v.SetDefault("relay.redis.password", "")
	v.SetDefault("relay.audit", d.Relay.Audit)
	v.SetDefault("relay.audit_dir", "")

	v.SetDefault("peer.relay_host", d.Peer.RelayHost)
	v.SetDefault("peer.relay_port", d.Peer.RelayPort)
	v.SetDefault("peer.chunk_size", d.Peer.ChunkSize)
	v.SetDefault("peer.delay", d.Peer.Delay)
	v.SetDefault("peer.hide_hostname", d.Peer.HideHostname)
	v.SetDefault("peer.skip_hash", d.Peer.SkipHash)
	v.SetDefault("peer.log_dir", "")

	v.SetDefault("transport.initial_rto", d.Transport.InitialRTO)
	v.SetDefault("transport.min_rto", d.Transport.MinRTO)
	v.SetDefault("transport.max_rto", d.Transport.MaxRTO)
	v.SetDefault("transport.max_retries", d.Transport.MaxRetries)
	v.SetDefault("transport.idle_timeout", d.Transport.IdleTimeout)
	v.SetDefault("transport.linger", d.Transport.Linger)
	v.SetDefault("transport.socket_buffer", d.Transport.SocketBuffer)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load resolves configuration from, lowest to highest precedence: defaults,
// an optional YAML file, NUDGE_* environment variables (a .env file is
// loaded first when present), and any flags that were explicitly set.
func Load(path string, flags map[string]*pflag.Flag) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NUDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Redis settings also honour the unprefixed names.
	_ = v.BindEnv("relay.redis.host", "NUDGE_RELAY_REDIS_HOST", "REDIS_HOST")
	_ = v.BindEnv("relay.redis.port", "NUDGE_RELAY_REDIS_PORT", "REDIS_PORT")
	_ = v.BindEnv("relay.redis.username", "NUDGE_RELAY_REDIS_USERNAME", "REDIS_USERNAME")
	_ = v.BindEnv("relay.redis.password", "NUDGE_RELAY_REDIS_PASSWORD", "REDIS_PASSWORD")
	_ = v.BindEnv("relay.store")

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for key, flag := range flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// A configured redis host implies the redis store unless one was chosen.
	if cfg.Relay.Store == "" {
		cfg.Relay.Store = "memory"
		if cfg.Relay.Redis.Host != "" {
			cfg.Relay.Store = "redis"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Peer.ChunkSize <= 0 || c.Peer.ChunkSize > constants.MaxChunkSize {
		return fmt.Errorf("chunk size must be between 1 and %d, got %d", constants.MaxChunkSize, c.Peer.ChunkSize)
	}
	if c.Peer.Delay < 0 {
		return fmt.Errorf("delay must not be negative, got %d", c.Peer.Delay)
	}
	if !validPort(c.Peer.RelayPort) {
		return fmt.Errorf("invalid relay port %d", c.Peer.RelayPort)
	}
	if !validPort(c.Relay.Port) {
		return fmt.Errorf("invalid bind port %d", c.Relay.Port)
	}
	if c.Relay.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive, got %s", c.Relay.SessionTTL)
	}
	if c.Relay.MaxGenerateAttempts <= 0 {
		return fmt.Errorf("max generate attempts must be positive, got %d", c.Relay.MaxGenerateAttempts)
	}
	switch c.Relay.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown session store %q", c.Relay.Store)
	}
	if c.Transport.MinRTO <= 0 || c.Transport.MaxRTO < c.Transport.MinRTO {
		return fmt.Errorf("invalid rto bounds [%s, %s]", c.Transport.MinRTO, c.Transport.MaxRTO)
	}
	if c.Transport.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.Transport.MaxRetries)
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
