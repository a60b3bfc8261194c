package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

const (
	DefaultPrivateMarker = "#"
	DefaultKeyName       = "subscribers"
	DefaultRetentionDays = 365
	DefaultPruneSchedule = "@daily"
	PruneOff             = "off"
)

// Validate checks the fields the bot cannot start without.
// It does not touch the filesystem or the network.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Bot.Contact) == "" {
		return fmt.Errorf("bot.contact is required")
	}
	if m := cfg.Bot.PrivateMarker; m != "" && len([]rune(m)) != 1 {
		return fmt.Errorf("bot.private_marker must be a single character, got %q", m)
	}
	if _, err := ParseDurationField("bot.command_timeout", cfg.Bot.CommandTimeout); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Subscribers.Path) == "" {
		return fmt.Errorf("subscribers.path is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Secrets.Driver)) {
	case "", "env":
	case "file":
		if strings.TrimSpace(cfg.Secrets.Dir) == "" {
			return fmt.Errorf("secrets.dir is required when secrets.driver=file")
		}
	default:
		return fmt.Errorf("unknown secrets.driver: %s", cfg.Secrets.Driver)
	}
	if _, err := ParseDurationField("translation.timeout", cfg.Translation.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("delivery.timeout", cfg.Delivery.Timeout); err != nil {
		return err
	}
	if cfg.Delivery.RatePerSec < 0 {
		return fmt.Errorf("delivery.rate_per_sec must be >= 0")
	}
	if cfg.Activity.RetentionDays < 0 {
		return fmt.Errorf("activity.retention_days must be >= 0")
	}
	if spec := strings.TrimSpace(cfg.Activity.PruneSchedule); spec != "" && !strings.EqualFold(spec, PruneOff) {
		p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := p.Parse(spec); err != nil {
			return fmt.Errorf("activity.prune_schedule: %w", err)
		}
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

// Marker returns the configured marker or the default.
func (c BotConfig) Marker() string {
	if m := strings.TrimSpace(c.PrivateMarker); m != "" {
		return m
	}
	return DefaultPrivateMarker
}

// BackupFile returns the mirror path for the subscriber file.
func (c SubscribersConfig) BackupFile() string {
	if p := strings.TrimSpace(c.BackupPath); p != "" {
		return p
	}
	return strings.TrimSpace(c.Path) + ".bak"
}

func (c SubscribersConfig) Key() string {
	if k := strings.TrimSpace(c.KeyName); k != "" {
		return k
	}
	return DefaultKeyName
}

func (c ActivityConfig) Retention() int {
	if c.RetentionDays > 0 {
		return c.RetentionDays
	}
	return DefaultRetentionDays
}

// Schedule returns the prune spec, or "" when the job is disabled.
func (c ActivityConfig) Schedule() string {
	s := strings.TrimSpace(c.PruneSchedule)
	switch {
	case s == "":
		return DefaultPruneSchedule
	case strings.EqualFold(s, PruneOff):
		return ""
	}
	return s
}
