// Package batch schedules recurring drift scans with cron
// expressions.
package batch

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// JobConfig represents one scheduled drift-scan job
type JobConfig struct {
	Name             string        `toml:"name"`
	Cron             string        `toml:"cron"`
	AutoPropagate    bool          `toml:"auto_propagate"`
	MaxDuration      time.Duration `toml:"max_duration"`
	NotifyOnComplete bool          `toml:"notify_on_complete"`
}

// ScheduleConfig holds all scheduled jobs
type ScheduleConfig struct {
	Jobs []JobConfig `toml:"job"`
}

// Validate checks if the config is valid
func (c *JobConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = time.Hour // Default
	}
	return nil
}

// LoadScheduleConfig loads job configuration from a TOML file. A
// missing file is an empty schedule.
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScheduleConfig{}, nil
		}
		return nil, err
	}

	var cfg ScheduleConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Jobs {
		if err := cfg.Jobs[i].Validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
	}

	return &cfg, nil
}
