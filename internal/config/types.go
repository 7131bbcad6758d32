package config

// Config is the root of the bot configuration file (JSON or YAML).
// Unknown fields are rejected so typos surface at reload time.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Schedule ScheduleConfig `json:"schedule"`
	Dispatch DispatchConfig `json:"dispatch"`
	Calendar CalendarConfig `json:"calendar,omitempty"`

	Admin       *AdminConfig       `json:"admin,omitempty"`
	Storage     *StorageConfig     `json:"storage,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// Recipients are the chat IDs that receive the daily reminder.
	Recipients []string `json:"recipients"`
	// RatePerSec caps outbound sends. 0 keeps the built-in default.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Feed    LoggingFeed `json:"feed"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingFeed controls the in-memory log feed served to the admin API.
type LoggingFeed struct {
	Enabled    bool `json:"enabled"`
	Size       int  `json:"size,omitempty"`
	RatePerSec int  `json:"rate_per_sec,omitempty"`
}

type ScheduleConfig struct {
	// Path of the schedule JSON document.
	Path string `json:"path"`
	// Factory overrides the shipped default schedule. Bump Version when
	// changing values so unmodified deployments pick them up.
	Factory *FactoryConfig `json:"factory,omitempty"`
}

type FactoryConfig struct {
	Timezone   string             `json:"timezone"`
	DailyTimes map[string]*string `json:"daily_times"`
	Version    string             `json:"version"`
}

type DispatchConfig struct {
	// Message is the reminder text sent to every recipient.
	Message string `json:"message"`
	// MaxRetries bounds connection readiness checks per send cycle.
	MaxRetries int `json:"max_retries,omitempty"`
	// RetryInterval and IdlePoll are Go duration strings (e.g. "60s", "1h").
	RetryInterval string `json:"retry_interval,omitempty"`
	IdlePoll      string `json:"idle_poll,omitempty"`
}

type CalendarConfig struct {
	// Path of the local calendar JSON document (holidays + collective leave).
	Path string `json:"path"`
}

// AdminConfig controls the admin HTTP API.
//
// Security note: prefer binding to localhost. If you bind to a non-loopback
// address, set a token.
type AdminConfig struct {
	Enabled        bool     `json:"enabled"`
	Addr           string   `json:"addr,omitempty"`  // default "127.0.0.1:8380"
	Token          string   `json:"token,omitempty"` // bearer token (do not log)
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// StorageConfig controls the audit trail persistence.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/remindbot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type MaintenanceConfig struct {
	// Standard 5-field cron specs.
	HeartbeatSpec string `json:"heartbeat_spec,omitempty"`
	PruneSpec     string `json:"prune_spec,omitempty"`
}
