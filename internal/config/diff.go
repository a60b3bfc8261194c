package config

import (
	"reflect"
	"strings"

	logx "relaybot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections plus safe
// structured fields for logging. Secrets (postgres DSN) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 4)
	fields := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Bot, newCfg.Bot) {
		changed = append(changed, "bot")
		fields = append(fields,
			logx.String("bot.name", newCfg.Bot.Name),
			logx.String("bot.private_marker", newCfg.Bot.Marker()),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Subscribers, newCfg.Subscribers) || !reflect.DeepEqual(oldCfg.Secrets, newCfg.Secrets) {
		changed = append(changed, "subscribers")
		fields = append(fields, logx.String("subscribers.path", newCfg.Subscribers.Path))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			fields = append(fields,
				logx.String("storage.driver", strings.ToLower(strings.TrimSpace(newCfg.Storage.Driver))),
				logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
			)
		}
	}
	if !reflect.DeepEqual(oldCfg.Translation, newCfg.Translation) {
		changed = append(changed, "translation")
		fields = append(fields,
			logx.Int("translation.mirrors", len(newCfg.Translation.Mirrors)),
			logx.String("translation.timeout", newCfg.Translation.Timeout),
		)
	}
	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		changed = append(changed, "delivery")
		fields = append(fields, logx.Int("delivery.rate_per_sec", newCfg.Delivery.RatePerSec))
	}
	if !reflect.DeepEqual(oldCfg.Activity, newCfg.Activity) || !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "activity")
		fields = append(fields,
			logx.Int("activity.retention_days", newCfg.Activity.Retention()),
			logx.String("activity.prune_schedule", newCfg.Activity.Schedule()),
		)
	}
	return changed, fields
}
