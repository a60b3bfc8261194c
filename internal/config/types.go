package config

// Config is the on-disk configuration (JSON or YAML).
type Config struct {
	Bot         BotConfig         `json:"bot"`
	Logging     LoggingConfig     `json:"logging"`
	Subscribers SubscribersConfig `json:"subscribers"`
	Secrets     SecretsConfig     `json:"secrets"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Translation TranslationConfig `json:"translation"`
	Delivery    DeliveryConfig    `json:"delivery"`
	Activity    ActivityConfig    `json:"activity"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
}

// BotConfig identifies this bot instance.
//
// Contact is the bot's own address; poll results are broadcast with it as the
// sender so nobody is excluded. PrivateMarker defaults to "#".
type BotConfig struct {
	Name          string `json:"name"`
	Contact       string `json:"contact"`
	PrivateMarker string `json:"private_marker,omitempty"`
	// CommandTimeout is a Go duration string bounding one inbound message.
	CommandTimeout string `json:"command_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert relays WARN+ log lines to an operator contact.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	Contact    string `json:"contact"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SubscribersConfig points at the encrypted subscriber file and its mirror.
//
// Example:
//
//	"subscribers": { "path": "./data/subscribers.enc", "key_name": "subscribers" }
type SubscribersConfig struct {
	Path       string `json:"path"`
	BackupPath string `json:"backup_path,omitempty"` // default: <path>.bak
	KeyName    string `json:"key_name,omitempty"`    // default: "subscribers"
}

// SecretsConfig selects where encryption keys come from.
//
// Driver values:
//   - "env": RELAYBOT_KEY_<NAME> environment variables (optionally from DotEnv)
//   - "file": <dir>/<name>.key
type SecretsConfig struct {
	Driver string `json:"driver"`
	DotEnv string `json:"dotenv,omitempty"`
	Dir    string `json:"dir,omitempty"`
}

// StorageConfig controls the activity log backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/activity.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres only (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TranslationConfig configures the LibreTranslate client.
type TranslationConfig struct {
	Mirrors []string `json:"mirrors"`
	// Timeout is a Go duration string applied per mirror request.
	Timeout string `json:"timeout,omitempty"`
	// LanguagesFile is used when no mirror answers the languages request.
	LanguagesFile string `json:"languages_file,omitempty"`
	// APIKey is sent with every request; public mirrors ignore it.
	APIKey string `json:"api_key,omitempty"`
}

type DeliveryConfig struct {
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

type ActivityConfig struct {
	RetentionDays int `json:"retention_days,omitempty"`
	// PruneSchedule is a cron spec or descriptor, default "@daily". "off"
	// disables the job; expired buckets are then only dropped on write.
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

type SchedulerConfig struct {
	// Timezone for cron triggers (IANA). Poll due times are always UTC.
	Timezone string `json:"timezone,omitempty"`
}
