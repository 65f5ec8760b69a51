package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the config file is looked up relative to the
// working directory.
const DefaultPath = "data/config.yaml"

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type Config struct {
	DiscordToken         string   `yaml:"discord_token"`
	ChannelID            string   `yaml:"channel_id"`
	InterestingChannelID string   `yaml:"interesting_channel_id"`
	CheckIntervalSeconds int      `yaml:"check_interval_seconds"`
	Cities               []string `yaml:"cities"`
	LogLevel             string   `yaml:"log_level"`
	UserAgent            string   `yaml:"user_agent"`
	RequestDelayMs       int      `yaml:"request_delay_ms"`
	// MaxListingAgeMinutes bounds how old a listing may be to still be
	// posted. Zero disables the age check; negative values are rejected.
	MaxListingAgeMinutes int    `yaml:"max_listing_age_minutes"`
	MinRooms             int    `yaml:"min_rooms"`
	RedisURL             string `yaml:"redis_url"`
	DataDir              string `yaml:"data_dir"`
}

func defaults() *Config {
	return &Config{
		CheckIntervalSeconds: 300,
		LogLevel:             "info",
		UserAgent:            defaultUserAgent,
		RequestDelayMs:       2000,
		MaxListingAgeMinutes: 1440,
		MinRooms:             1,
		DataDir:              "data",
	}
}

// Load reads the YAML config file if present, applies environment
// overrides on top and validates the result. Environment always wins
// over file values.
func Load(path string) (*Config, error) {
	cfg := defaults()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Env-only operation is fine as long as validation passes.
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DiscordToken = getenv("DISCORD_TOKEN", c.DiscordToken)
	c.ChannelID = getenv("CHANNEL_ID", c.ChannelID)
	c.InterestingChannelID = getenv("INTERESTING_CHANNEL_ID", c.InterestingChannelID)
	c.CheckIntervalSeconds = getenvInt("CHECK_INTERVAL_SECONDS", c.CheckIntervalSeconds)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.UserAgent = getenv("USER_AGENT", c.UserAgent)
	c.RequestDelayMs = getenvInt("REQUEST_DELAY_MS", c.RequestDelayMs)
	c.MaxListingAgeMinutes = getenvInt("MAX_LISTING_AGE_MINUTES", c.MaxListingAgeMinutes)
	c.MinRooms = getenvInt("MIN_ROOMS", c.MinRooms)
	c.RedisURL = getenv("REDIS_URL", c.RedisURL)
	c.DataDir = getenv("DATA_DIR", c.DataDir)

	if cities := os.Getenv("CITIES"); cities != "" {
		c.Cities = nil
		for _, city := range strings.Split(cities, ",") {
			city = strings.TrimSpace(city)
			if city != "" {
				c.Cities = append(c.Cities, city)
			}
		}
	}
}

func (c *Config) validate() error {
	if c.DiscordToken == "" || c.DiscordToken == "YOUR_DISCORD_BOT_TOKEN" {
		return fmt.Errorf("config: discord_token is required (set via %s or DISCORD_TOKEN)", DefaultPath)
	}
	if c.ChannelID == "" {
		return fmt.Errorf("config: channel_id is required (set via %s or CHANNEL_ID)", DefaultPath)
	}
	if c.InterestingChannelID == "" {
		return fmt.Errorf("config: interesting_channel_id is required (set via %s or INTERESTING_CHANNEL_ID)", DefaultPath)
	}
	if len(c.Cities) == 0 {
		return fmt.Errorf("config: at least one city is required (set via %s or CITIES)", DefaultPath)
	}
	if c.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("config: check_interval_seconds must be positive")
	}
	if c.MaxListingAgeMinutes < 0 {
		return fmt.Errorf("config: max_listing_age_minutes must be zero (disabled) or positive")
	}
	return nil
}

func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func (c *Config) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMs) * time.Millisecond
}

func (c *Config) MaxListingAge() time.Duration {
	return time.Duration(c.MaxListingAgeMinutes) * time.Minute
}

// DatabasePath is the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "listings.db")
}

// CookiesPath is the optional browser cookie export inside the data
// directory.
func (c *Config) CookiesPath() string {
	return filepath.Join(c.DataDir, "cookies.json")
}

// WriteDefault writes a template config for the operator to fill in.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}

	cfg := defaults()
	cfg.DiscordToken = "YOUR_DISCORD_BOT_TOKEN"
	cfg.Cities = []string{"Paris", "Lyon"}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal default: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
