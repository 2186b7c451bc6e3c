// Package loadgen drives concurrent feedback submissions against a running
// service and checks the stored aggregates afterwards.
package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/cadenza/pkg/logger"
)

const (
	directoryPermission = 0o750
	filePermission      = 0o600
	percentMultiplier   = 100
)

// Run executes the complete load run and returns its statistics. A score
// mismatch is reported as ErrScoreMismatch together with the stats.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get()

	log.Info(ctx, "starting cadenza load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("course", cfg.CourseID),
		logger.Int("students", len(cfg.StudentIDs)),
		logger.Int("classes", len(cfg.ClassIDs)),
		logger.Int("submissions", cfg.Submissions),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout))

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	if err := checkServiceHealth(ctx, client); err != nil {
		return stats, err
	}

	subs, err := generateSubmissions(ctx, cfg, stats)
	if err != nil {
		return stats, fmt.Errorf("generate submissions: %w", err)
	}

	submitAll(ctx, cfg, client, subs, stats)
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("submission interrupted: %w", err)
	}

	verifyErr := verifyScores(ctx, cfg, client, stats)

	if cfg.OutputFile != "" {
		if err := saveSubmissions(ctx, cfg.OutputFile, subs); err != nil {
			log.Warn(ctx, "failed to save submissions", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if verifyErr != nil {
		return stats, verifyErr
	}
	log.Info(ctx, "load run completed")
	return stats, nil
}

func validate(cfg *Config) error {
	switch {
	case cfg == nil:
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	case cfg.BaseURL == "":
		return fmt.Errorf("%w: base url required", ErrInvalidConfig)
	case cfg.CourseID == "":
		return fmt.Errorf("%w: course id required", ErrInvalidConfig)
	case len(cfg.StudentIDs) == 0:
		return fmt.Errorf("%w: at least one student id required", ErrInvalidConfig)
	case len(cfg.ClassIDs) == 0:
		return fmt.Errorf("%w: at least one class id required", ErrInvalidConfig)
	case cfg.Submissions <= 0:
		return fmt.Errorf("%w: submissions must be positive", ErrInvalidConfig)
	case cfg.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case cfg.ReplayEvery < 0:
		return fmt.Errorf("%w: replay interval must not be negative", ErrInvalidConfig)
	}
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	logger.Get().Info(ctx, "checking service health")
	if err := client.getJSON(ctx, "/healthz", nil); err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// saveSubmissions writes the generated submissions to a JSON file.
func saveSubmissions(ctx context.Context, filename string, subs []Submission) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal submissions: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	logger.Get().Info(ctx, "submissions saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, perSecond float64
	if stats.Submitted > 0 {
		successRate = float64(stats.Successful) / float64(stats.Submitted) * percentMultiplier
	}
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("generated", stats.Generated),
		logger.Int("submitted", stats.Submitted),
		logger.Int("successful", stats.Successful),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("failed", stats.Failed),
		logger.Int("scoresVerified", stats.ScoresVerified),
		logger.Int("mismatches", stats.Mismatches),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("submissionsPerSecond", perSecond))
}
