package loadgen

import "errors"

var (
	// ErrInvalidConfig is returned when a run is missing required settings.
	ErrInvalidConfig = errors.New("invalid load config")
	// ErrUnhealthy is returned when the service health check fails.
	ErrUnhealthy = errors.New("service unhealthy")
	// ErrScoreMismatch is returned when stored aggregates disagree with the
	// pooled mean of the stored feedback.
	ErrScoreMismatch = errors.New("stored score mismatch")
)
