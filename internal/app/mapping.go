package app

import (
	"time"

	"remindbot/internal/config"
	"remindbot/internal/dispatch"
	"remindbot/internal/httpapi"
	"remindbot/internal/maintenance"
	"remindbot/internal/schedule"
	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

// Config mapping between the file schema and per-service configs lives here
// so services never import the config package.

func mapLoggingConfig(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Feed: logx.FeedConfig{
			Enabled:    lc.Feed.Enabled,
			Size:       lc.Feed.Size,
			RatePerSec: lc.Feed.RatePerSec,
		},
	}
}

// mapFactory falls back to the shipped defaults when the config omits them.
func mapFactory(f *config.FactoryConfig) schedule.FactoryDefaults {
	if f == nil {
		return schedule.FactoryDefaults{
			Timezone: "Asia/Makassar",
			DailyTimes: map[string]*string{
				"1": schedule.TimeRef("16:00"),
				"2": schedule.TimeRef("16:00"),
				"3": schedule.TimeRef("16:00"),
				"4": schedule.TimeRef("16:00"),
				"5": schedule.TimeRef("16:30"),
				"6": nil,
				"7": nil,
			},
			Version: "2025-09-wita",
		}
	}
	return schedule.FactoryDefaults{
		Timezone:   f.Timezone,
		DailyTimes: f.DailyTimes,
		Version:    f.Version,
	}
}

func schedulePath(cfg *config.Config) string {
	if cfg.Schedule.Path != "" {
		return cfg.Schedule.Path
	}
	return "./data/schedule.json"
}

func calendarPath(cfg *config.Config) string {
	if cfg.Calendar.Path != "" {
		return cfg.Calendar.Path
	}
	return "./data/calendar.json"
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	retry, err := config.ParseDurationOrDefault("dispatch.retry_interval", cfg.Dispatch.RetryInterval, time.Minute)
	if err != nil {
		return dispatch.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("dispatch.idle_poll", cfg.Dispatch.IdlePoll, time.Hour)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Recipients:    cfg.Telegram.Recipients,
		Message:       cfg.Dispatch.Message,
		MaxRetries:    cfg.Dispatch.MaxRetries,
		RetryInterval: retry,
		IdlePoll:      idle,
	}, nil
}

func mapStorageConfig(sc *config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: sc.Driver, Path: sc.Path, BusyTimeout: busy}, nil
}

func mapMaintenanceConfig(mc *config.MaintenanceConfig) maintenance.Config {
	if mc == nil {
		return maintenance.Config{}
	}
	return maintenance.Config{
		HeartbeatSpec: mc.HeartbeatSpec,
		PruneSpec:     mc.PruneSpec,
	}
}

func mapAdminConfig(ac *config.AdminConfig) (httpapi.Config, error) {
	read, err := config.ParseDurationField("admin.read_timeout", ac.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationField("admin.write_timeout", ac.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:           ac.Addr,
		Token:          ac.Token,
		AllowedOrigins: ac.AllowedOrigins,
		ReadTimeout:    read,
		WriteTimeout:   write,
	}, nil
}
