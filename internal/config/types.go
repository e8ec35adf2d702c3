package config

import (
	"errors"
	"fmt"
)

// Config is the full on-disk configuration. YAML and JSON are both
// accepted; unknown keys are rejected so typos surface at load time.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram    TelegramConfig     `json:"telegram"`
	Channels    ChannelsConfig     `json:"channels"`
	Filters     FiltersConfig      `json:"filters"`
	RateLimit   RateLimitConfig    `json:"rate_limit"`
	Logging     LoggingConfig      `json:"logging"`
	Storage     *StorageConfig     `json:"storage,omitempty"`
	Report      *ReportConfig      `json:"report,omitempty"`
	Submissions *SubmissionsConfig `json:"submissions,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// AdminChatID receives log mirrors and stats digests (0 = disabled).
	AdminChatID int64 `json:"admin_chat_id,omitempty"`
}

// ChannelsConfig fixes the single route for this deployment.
// Changing sources/destination/token requires a restart; filters and
// rate_limit are hot-reloadable.
type ChannelsConfig struct {
	Sources     []int64 `json:"sources"`
	Destination int64   `json:"destination"`
	// ForwardMode: true preserves original-source attribution; false
	// re-posts as the bot account (copy).
	ForwardMode bool `json:"forward_mode"`
}

type FiltersConfig struct {
	IncludeKeywords []string `json:"include_keywords,omitempty"`
	ExcludeKeywords []string `json:"exclude_keywords,omitempty"`
	MediaOnly       bool     `json:"media_only,omitempty"`
	// MinLength is the minimum text length in runes (0 = no limit).
	MinLength int `json:"min_length,omitempty"`
}

// RateLimitConfig paces outbound sends.
//
// Defaults (when fields are omitted/zero):
//   - message_delay: "1s"
//   - max_per_minute: 20 (-1 disables the per-minute cap)
//   - flood_wait_multiplier: 1.5
//   - flood_retry_max: 5
//   - transient_retry_max: 3 (-1 disables transient retries)
type RateLimitConfig struct {
	MessageDelay        string  `json:"message_delay,omitempty"`
	MaxPerMinute        int     `json:"max_per_minute,omitempty"`
	FloodWaitMultiplier float64 `json:"flood_wait_multiplier,omitempty"`
	FloodRetryMax       int     `json:"flood_retry_max,omitempty"`
	TransientRetryMax   int     `json:"transient_retry_max,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors records at min_level and above to the admin chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the optional stats persistence layer.
//
// Driver values:
//   - "file": dependency-free JSON snapshot
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SubmissionsConfig enables the private-chat submission intake: users
// send listings to the bot, screened submissions are posted to the
// destination channel through the same rate-limited pipeline.
//
// Screening reuses the filters section for topic/blocked keywords;
// blocked_patterns adds regexp spam markers (built-in defaults when
// omitted) and min_length overrides filters.min_length for submissions
// (default 20).
type SubmissionsConfig struct {
	Enabled         bool     `json:"enabled"`
	BlockedPatterns []string `json:"blocked_patterns,omitempty"`
	MinLength       int      `json:"min_length,omitempty"`
}

// ReportConfig controls the periodic stats summary.
// Schedule is a cron spec or @every expression (default "@hourly").
type ReportConfig struct {
	Enabled    bool   `json:"enabled"`
	Schedule   string `json:"schedule,omitempty"`
	SendDigest bool   `json:"send_digest,omitempty"`
}

// Validate checks the parts that would otherwise fail deep inside startup
// (or worse, at first send).
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if len(c.Channels.Sources) == 0 {
		return errors.New("channels.sources must list at least one chat id")
	}
	if c.Channels.Destination == 0 {
		return errors.New("channels.destination is required")
	}
	for _, src := range c.Channels.Sources {
		if src == c.Channels.Destination {
			return fmt.Errorf("channels: source %d equals destination (forwarding loop)", src)
		}
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("rate_limit.message_delay", c.RateLimit.MessageDelay); err != nil {
		return err
	}
	if c.RateLimit.MaxPerMinute < -1 {
		return errors.New("rate_limit.max_per_minute must be >= -1 (-1 = no cap)")
	}
	if c.RateLimit.TransientRetryMax < -1 {
		return errors.New("rate_limit.transient_retry_max must be >= -1 (-1 = no retries)")
	}
	if m := c.RateLimit.FloodWaitMultiplier; m != 0 && m < 1 {
		return errors.New("rate_limit.flood_wait_multiplier must be >= 1")
	}
	if c.Filters.MinLength < 0 {
		return errors.New("filters.min_length must be >= 0")
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if c.Submissions != nil {
		if c.Submissions.MinLength < 0 {
			return errors.New("submissions.min_length must be >= 0")
		}
	}
	return nil
}
