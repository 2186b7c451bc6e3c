package loadgen

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"

	"github.com/google/uuid"

	"github.com/okian/cadenza/internal/domain/category"
	"github.com/okian/cadenza/pkg/logger"
)

// Constants for random number generation.
const (
	randomFloatDivisor = 1000000
	profileCount       = 8
	naOneIn            = 4
)

// Constants for metric generation ranges on the 0-10 scale.
const (
	avgStudentMin      = 4.0
	avgStudentRange    = 3.0
	strongStudentMin   = 7.0
	strongStudentRange = 2.0
	weakStudentMin     = 1.0
	weakStudentRange   = 3.0
	topStudentMin      = 9.0
	topStudentRange    = 1.0
	wideRangeMin       = 0.0
	wideRange          = 10.0
)

// Constants for performance profile cases.
const (
	caseAverage = iota
	caseStrong
	caseWeak
	caseTop
	caseMidHigh
	caseMidLow
	caseAverageAgain
	caseWideRange
)

var attendanceStatuses = []string{"present", "present", "present", "late", "absent", "excused"}

var remarks = []string{
	"Keep practising scales daily.",
	"Great focus in class today.",
	"Work on consistency between sessions.",
	"",
}

// randomInt returns a uniform integer in [0, n) using crypto/rand.
func randomInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	return float64(randomInt(randomFloatDivisor)) / float64(randomFloatDivisor)
}

// generateSubmissions creates cfg.Submissions requests rotating over the
// configured students, followed by replays of every cfg.ReplayEvery-th one.
func generateSubmissions(ctx context.Context, cfg *Config, stats *Stats) ([]Submission, error) {
	keys := category.MetricKeysFor(cfg.Category)
	if keys == nil {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidConfig, cfg.Category)
	}
	logger.Get().Info(ctx, "generating submissions",
		logger.Int("count", cfg.Submissions),
		logger.String("category", cfg.Category.String()))

	subs := make([]Submission, 0, cfg.Submissions+replayCount(cfg))
	for i := 0; i < cfg.Submissions; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during generation: %w", err)
		}
		subs = append(subs, generateSingle(cfg, keys, cfg.StudentIDs[i%len(cfg.StudentIDs)]))
	}
	if cfg.ReplayEvery > 0 {
		for i := cfg.ReplayEvery - 1; i < cfg.Submissions; i += cfg.ReplayEvery {
			subs = append(subs, subs[i])
		}
	}

	stats.Generated = len(subs)
	logger.Get().Info(ctx, "generated submissions",
		logger.Int("count", len(subs)),
		logger.Int("replays", len(subs)-cfg.Submissions))
	return subs, nil
}

func replayCount(cfg *Config) int {
	if cfg.ReplayEvery <= 0 {
		return 0
	}
	return cfg.Submissions / cfg.ReplayEvery
}

// generateSingle builds one submission with roughly one metric in four
// marked NA.
func generateSingle(cfg *Config, keys []string, studentID string) Submission {
	profile := randomInt(profileCount)
	metrics := make(map[string]float64, len(keys))
	var na []string
	for _, k := range keys {
		if randomInt(naOneIn) == 0 {
			na = append(na, k)
			continue
		}
		metrics[k] = generateMetric(profile)
	}
	return Submission{
		IdempotencyKey:   uuid.NewString(),
		Category:         cfg.Category,
		ClassID:          cfg.ClassIDs[randomInt(len(cfg.ClassIDs))],
		CourseID:         cfg.CourseID,
		StudentID:        studentID,
		Metrics:          metrics,
		NAFields:         na,
		AttendanceStatus: attendanceStatuses[randomInt(len(attendanceStatuses))],
		PersonalFeedback: remarks[randomInt(len(remarks))],
	}
}

// generateMetric draws a score for the given profile, rounded to one decimal.
func generateMetric(profile int) float64 {
	var v float64
	switch profile {
	case caseAverage, caseAverageAgain:
		v = avgStudentMin + getRandomFloat()*avgStudentRange
	case caseStrong:
		v = strongStudentMin + getRandomFloat()*strongStudentRange
	case caseWeak:
		v = weakStudentMin + getRandomFloat()*weakStudentRange
	case caseTop:
		v = topStudentMin + getRandomFloat()*topStudentRange
	case caseMidHigh:
		v = avgStudentMin + getRandomFloat()*(strongStudentMin+strongStudentRange-avgStudentMin)
	case caseMidLow:
		v = weakStudentMin + getRandomFloat()*(avgStudentMin+avgStudentRange-weakStudentMin)
	default:
		v = wideRangeMin + getRandomFloat()*wideRange
	}
	return math.Round(v*10) / 10
}
