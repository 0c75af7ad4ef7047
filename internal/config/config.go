package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for our application
type Config struct {
	DiscordToken string
	DatabaseDSN  string

	SchedulePath   string
	BoardChannelID string
	QuestChannelID string
	DropChannelID  string
	DropCount      int
	LogLevel       string
	AdminIDs       []string

	Core Core
}

// Core holds the accounting options, optionally read from a YAML file.
type Core struct {
	FixedZone             string          `yaml:"fixed_zone"`
	FlushIntervalSeconds  int             `yaml:"flush_interval_seconds"`
	WeekStart             string          `yaml:"week_start"`
	DailyQuestThresholds  []time.Duration `yaml:"daily_quest_thresholds"`
	WeeklyQuestThresholds []time.Duration `yaml:"weekly_quest_thresholds"`
}

// DefaultCore returns the built-in accounting options.
func DefaultCore() Core {
	return Core{
		FixedZone:             "Asia/Seoul",
		FlushIntervalSeconds:  60,
		WeekStart:             "Monday",
		DailyQuestThresholds:  []time.Duration{30 * time.Minute},
		WeeklyQuestThresholds: []time.Duration{5 * time.Hour, 10 * time.Hour, 20 * time.Hour},
	}
}

// FlushInterval is the periodic presence flush period.
func (c Core) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// .env file is optional, continue with environment variables
	_ = godotenv.Load()

	config := &Config{
		DiscordToken:   os.Getenv("DISCORD_TOKEN"),
		DatabaseDSN:    os.Getenv("DATABASE_DSN"),
		SchedulePath:   getenv("DAILY_SCHEDULE_PATH", "daily_schedule.json"),
		BoardChannelID: os.Getenv("BOARD_CHANNEL_ID"),
		QuestChannelID: os.Getenv("QUEST_CHANNEL_ID"),
		DropChannelID:  os.Getenv("DROP_CHANNEL_ID"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		AdminIDs:       splitList(os.Getenv("ADMIN_IDS")),
	}

	if config.DiscordToken == "" {
		return nil, &ConfigError{Field: "DISCORD_TOKEN", Message: "DISCORD_TOKEN is required"}
	}

	if config.DatabaseDSN == "" {
		return nil, &ConfigError{Field: "DATABASE_DSN", Message: "DATABASE_DSN is required"}
	}

	count, err := strconv.Atoi(getenv("DROP_COUNT", "3"))
	if err != nil || count < 0 {
		return nil, &ConfigError{Field: "DROP_COUNT", Message: "DROP_COUNT must be a non-negative integer"}
	}
	config.DropCount = count

	core, err := LoadCore(os.Getenv("CORE_CONFIG"))
	if err != nil {
		return nil, err
	}
	config.Core = core

	return config, nil
}

// LoadCore reads core options from a YAML file over the defaults. An empty
// path returns the defaults.
func LoadCore(path string) (Core, error) {
	core := DefaultCore()
	if path == "" {
		return core, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return core, &ConfigError{Field: "CORE_CONFIG", Message: fmt.Sprintf("failed to read %s: %v", path, err)}
	}
	if err := yaml.Unmarshal(data, &core); err != nil {
		return core, &ConfigError{Field: "CORE_CONFIG", Message: fmt.Sprintf("failed to parse %s: %v", path, err)}
	}
	return core, core.validate()
}

func (c Core) validate() error {
	if c.FixedZone == "" {
		return &ConfigError{Field: "fixed_zone", Message: "fixed_zone must not be empty"}
	}
	if c.FlushIntervalSeconds < 1 {
		return &ConfigError{Field: "flush_interval_seconds", Message: "flush_interval_seconds must be at least 1"}
	}
	if !strings.EqualFold(c.WeekStart, "Monday") {
		return &ConfigError{Field: "week_start", Message: fmt.Sprintf("unsupported week_start %q, weeks start on Monday", c.WeekStart)}
	}
	for _, th := range append(append([]time.Duration(nil), c.DailyQuestThresholds...), c.WeeklyQuestThresholds...) {
		if th < time.Minute || th%time.Minute != 0 {
			return &ConfigError{Field: "quest_thresholds", Message: fmt.Sprintf("threshold %s must be a positive whole number of minutes", th)}
		}
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
