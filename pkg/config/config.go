// Package config loads the system tunables grove itself owns — as opposed
// to TriggerSpec/OrphanPolicy, which are host-persisted per container —
// from an optional grove.yaml plus environment variable overrides.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Tunables are the process-wide knobs spec §6 calls "system tunables":
// THROTTLE_LIMIT, BACKUP_LOG_COUNT, EVENT_LOG_MAX_SIZE_KB and
// HEALTH_REPORT_CACHE_MIN.
type Tunables struct {
	ThrottleLimit      int `yaml:"throttle_limit"`
	BackupLogCount     int `yaml:"backup_log_count"`
	EventLogMaxSizeKB  int `yaml:"event_log_max_size_kb"`
	HealthReportCacheM int `yaml:"health_report_cache_min"`
}

// Default returns the system's documented defaults.
func Default() Tunables {
	return Tunables{
		ThrottleLimit:      0, // 0 means "compute from NumCPU", see throttle.DefaultLimit
		BackupLogCount:     0,
		EventLogMaxSizeKB:  150,
		HealthReportCacheM: 60,
	}
}

// Load reads path if it exists (returning Default() untouched if it
// doesn't), then applies GROVE_-prefixed environment variable overrides.
func Load(path string) (Tunables, error) {
	t := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// no file: defaults stand, env can still override below
		case err != nil:
			return t, err
		default:
			if err := yaml.Unmarshal(data, &t); err != nil {
				return t, err
			}
		}
	}

	applyEnvOverride("GROVE_THROTTLE_LIMIT", &t.ThrottleLimit)
	applyEnvOverride("GROVE_BACKUP_LOG_COUNT", &t.BackupLogCount)
	applyEnvOverride("GROVE_EVENT_LOG_MAX_SIZE_KB", &t.EventLogMaxSizeKB)
	applyEnvOverride("GROVE_HEALTH_REPORT_CACHE_MIN", &t.HealthReportCacheM)

	return t, nil
}

func applyEnvOverride(name string, dst *int) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	if v, err := strconv.Atoi(raw); err == nil {
		*dst = v
	}
}
