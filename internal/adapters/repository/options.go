package repository

import "time"

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithMetricsUpdateInterval sets the interval for background document-count
// metrics. Zero disables the updater.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *MemoryStore) {
		if interval >= 0 {
			s.metricsUpdateInterval = interval
		}
	}
}
