package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// WarmupConfig holds the scheduling engine's tuning knobs. The thresholds
// are deliberately configurable; the defaults mirror production but are not
// correctness requirements. Durations come in as yaml strings ("2h") and
// are parsed by ApplyDefaults.
type WarmupConfig struct {
	// Default daily cap for pool accounts that don't configure one.
	PoolDailyCap int `yaml:"pool_daily_cap"`
	// Backlog considered "sufficient" as a fraction of remaining cap;
	// accounts above it are skipped by the global cycle.
	SufficiencyRatio float64 `yaml:"sufficiency_ratio"`

	RecentWindowRaw   string `yaml:"recent_window"`
	GlobalIntervalRaw string `yaml:"global_interval"`
	SendWindowRaw     string `yaml:"send_window"`
	MinGapRaw         string `yaml:"min_gap"`
	StaleAfterRaw     string `yaml:"stale_after"`

	// How long after incremental scheduling the global cycle skips an account.
	RecentWindow time.Duration `yaml:"-"`
	// Interval between global scheduling sweeps.
	GlobalInterval time.Duration `yaml:"-"`
	// Window across which a day's sends are spread.
	SendWindow time.Duration `yaml:"-"`
	// Minimum gap between two sends from the same account.
	MinGap time.Duration `yaml:"-"`
	// Persisted jobs whose fire time passed longer ago than this are stale.
	StaleAfter time.Duration `yaml:"-"`
}

type Config struct {
	DB     DBConfig     `yaml:"db"`
	Redis  RedisConfig  `yaml:"redis"`
	MQ     MQConfig     `yaml:"mq"`
	JWT    JWTConfig    `yaml:"jwt"`
	Server ServerConfig `yaml:"server"`
	Warmup WarmupConfig `yaml:"warmup"`
}

func Load() *Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode %s: %v", path, err)
	}

	overrideFromEnv(&cfg)
	cfg.Warmup.ApplyDefaults()

	return &cfg
}

// ApplyDefaults parses raw durations and fills missing or invalid warmup
// knobs. Bad values are a configuration error, recovered by substitution,
// never fatal.
func (w *WarmupConfig) ApplyDefaults() {
	if w.PoolDailyCap <= 0 {
		w.PoolDailyCap = 40
	}
	if w.SufficiencyRatio <= 0 || w.SufficiencyRatio > 1 {
		w.SufficiencyRatio = 0.5
	}
	w.RecentWindow = parseDurationOrDefault("warmup.recent_window", w.RecentWindowRaw, 2*time.Hour)
	w.GlobalInterval = parseDurationOrDefault("warmup.global_interval", w.GlobalIntervalRaw, 30*time.Minute)
	w.SendWindow = parseDurationOrDefault("warmup.send_window", w.SendWindowRaw, 8*time.Hour)
	w.MinGap = parseDurationOrDefault("warmup.min_gap", w.MinGapRaw, 90*time.Second)
	w.StaleAfter = parseDurationOrDefault("warmup.stale_after", w.StaleAfterRaw, 24*time.Hour)
}

func parseDurationOrDefault(path, raw string, def time.Duration) time.Duration {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		log.Printf("%s: invalid duration %q, using default %s", path, raw, def)
		return def
	}
	return d
}

func overrideFromEnv(cfg *Config) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.MQ.URL = url
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWT.Secret = secret
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}
}
