package config

import "fmt"

// Validate checks cfg for obviously inconsistent values and fills in
// defaults for anything left at its zero value.
func Validate(cfg *Config) error {
	if cfg.SocketWaitTimeUS < 0 {
		return fmt.Errorf("socket_wait_time_us must be >= 0")
	}
	if cfg.SocketWaitTimeUS == 0 {
		cfg.SocketWaitTimeUS = 1000
	}

	for i, wg := range cfg.Workers {
		if wg.Count < 0 {
			return fmt.Errorf("workers[%d].count must be >= 0", i)
		}
		if wg.Count == 0 {
			cfg.Workers[i].Count = 1
		}
	}

	return nil
}
