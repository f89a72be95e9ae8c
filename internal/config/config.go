package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Salon struct {
		Timezone        string `yaml:"timezone"`
		QuietHoursStart int    `yaml:"quiet_hours_start"`
		QuietHoursEnd   int    `yaml:"quiet_hours_end"`
	} `yaml:"salon"`

	Availability struct {
		GranularityMinutes int `yaml:"granularity_minutes"`
		MaxDaysAhead       int `yaml:"max_days_ahead"`
		DefaultLimit       int `yaml:"default_limit"`
	} `yaml:"availability"`

	Holds struct {
		TTLMinutes           int `yaml:"ttl_minutes"`
		SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
	} `yaml:"holds"`

	Reminders struct {
		SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
		HalfWindowMinutes    int `yaml:"half_window_minutes"`
		MaxConcurrentSends   int `yaml:"max_concurrent_sends"`
		SendTimeoutSeconds   int `yaml:"send_timeout_seconds"`
		RatePerSecond        int `yaml:"rate_per_second"`
		RecoveryDelayMinutes int `yaml:"recovery_delay_minutes"`
		RetentionDelayDays   int `yaml:"retention_delay_days"`
	} `yaml:"reminders"`

	Activity struct {
		DebounceSeconds int `yaml:"debounce_seconds"`
	} `yaml:"activity"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"telegram"`

	API struct {
		Address string `yaml:"address"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"api"`

	Sheets struct {
		Enabled         bool   `yaml:"enabled"`
		CredentialsFile string `yaml:"credentials_file"`
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		SheetName       string `yaml:"sheet_name"`
		DaysAhead       int    `yaml:"days_ahead"`
		IntervalMinutes int    `yaml:"interval_minutes"`
	} `yaml:"sheets"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		StoragePath   string `yaml:"storage_path"`
		IntervalHours int    `yaml:"interval_hours"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Audit struct {
		Enabled       bool   `yaml:"enabled"`
		RetentionDays int    `yaml:"retention_days"`
		ExportDir     string `yaml:"export_dir"`
	} `yaml:"audit"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/glowdesk.db"
	}
	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	if cfg.Salon.Timezone == "" {
		cfg.Salon.Timezone = "Europe/Moscow"
	}
	if cfg.Salon.QuietHoursStart == 0 && cfg.Salon.QuietHoursEnd == 0 {
		cfg.Salon.QuietHoursStart = 23
		cfg.Salon.QuietHoursEnd = 8
	}
	if cfg.API.Address == "" {
		cfg.API.Address = ":8080"
	}
	if cfg.Backup.StoragePath == "" {
		cfg.Backup.StoragePath = "backups"
	}
	if cfg.Backup.RetentionDays <= 0 {
		cfg.Backup.RetentionDays = 7
	}

	return &cfg, nil
}

func (c *Config) HoldTTL() time.Duration {
	if c.Holds.TTLMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Holds.TTLMinutes) * time.Minute
}

func (c *Config) HoldSweepInterval() time.Duration {
	if c.Holds.SweepIntervalMinutes <= 0 {
		return time.Minute
	}
	return time.Duration(c.Holds.SweepIntervalMinutes) * time.Minute
}

func (c *Config) ReminderSweepInterval() time.Duration {
	if c.Reminders.SweepIntervalMinutes <= 0 {
		return time.Minute
	}
	return time.Duration(c.Reminders.SweepIntervalMinutes) * time.Minute
}

func (c *Config) ReminderHalfWindow() time.Duration {
	if c.Reminders.HalfWindowMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Reminders.HalfWindowMinutes) * time.Minute
}

func (c *Config) ReminderSendTimeout() time.Duration {
	if c.Reminders.SendTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Reminders.SendTimeoutSeconds) * time.Second
}

func (c *Config) RecoveryDelay() time.Duration {
	if c.Reminders.RecoveryDelayMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Reminders.RecoveryDelayMinutes) * time.Minute
}

func (c *Config) RetentionDelay() time.Duration {
	if c.Reminders.RetentionDelayDays <= 0 {
		return 45 * 24 * time.Hour
	}
	return time.Duration(c.Reminders.RetentionDelayDays) * 24 * time.Hour
}

func (c *Config) ActivityDebounce() time.Duration {
	if c.Activity.DebounceSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Activity.DebounceSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) SheetsInterval() time.Duration {
	if c.Sheets.IntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Sheets.IntervalMinutes) * time.Minute
}
