package loadgen

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"

	"github.com/okian/cadenza/internal/domain/category"
	"github.com/okian/cadenza/internal/domain/model"
	"github.com/okian/cadenza/internal/domain/scoring"
	"github.com/okian/cadenza/pkg/logger"
)

const (
	scoreTolerance = 1e-9
	topN           = 10
)

type feedbackResponse struct {
	All []model.FeedbackRecord `json:"all"`
}

type scoresResponse struct {
	Scores []model.PerformanceScoreEntry `json:"scores"`
}

type scoreKey struct {
	studentID string
	category  category.Category
}

// verifyScores recomputes every (student, category) pool from the course's
// stored feedback and compares it with the stored aggregates.
func verifyScores(ctx context.Context, cfg *Config, client *HTTPClient, stats *Stats) error {
	log := logger.Get()
	log.Info(ctx, "verifying stored scores", logger.String("course", cfg.CourseID))

	base := "/courses/" + url.PathEscape(cfg.CourseID)
	var fb feedbackResponse
	if err := client.getJSON(ctx, base+"/feedback", &fb); err != nil {
		return err
	}
	var sc scoresResponse
	if err := client.getJSON(ctx, base+"/scores", &sc); err != nil {
		return err
	}

	mismatches := compareScores(ctx, poolByStudent(fb.All), sc.Scores)
	stats.ScoresVerified = len(sc.Scores)
	stats.Mismatches = mismatches
	displayTopStudents(ctx, sc.Scores)

	if mismatches > 0 {
		return fmt.Errorf("%w: %d of %d entries", ErrScoreMismatch, mismatches, len(sc.Scores))
	}
	log.Info(ctx, "stored scores verified", logger.Int("entries", len(sc.Scores)))
	return nil
}

// poolByStudent groups records per (student, category) and pools each group.
func poolByStudent(records []model.FeedbackRecord) map[scoreKey]float64 {
	groups := make(map[scoreKey][]model.FeedbackRecord)
	for _, r := range records {
		k := scoreKey{studentID: r.StudentID, category: r.Category}
		groups[k] = append(groups[k], r)
	}
	out := make(map[scoreKey]float64, len(groups))
	for k, recs := range groups {
		out[k], _ = scoring.Pool(recs)
	}
	return out
}

// compareScores returns how many expected pools are missing from stored or
// disagree with it, plus stored entries no feedback backs.
func compareScores(ctx context.Context, expected map[scoreKey]float64, stored []model.PerformanceScoreEntry) int {
	log := logger.Get()
	seen := make(map[scoreKey]bool, len(stored))
	mismatches := 0
	for _, e := range stored {
		k := scoreKey{studentID: e.StudentID, category: e.Category}
		seen[k] = true
		want, ok := expected[k]
		if !ok {
			mismatches++
			log.Warn(ctx, "stored score has no feedback",
				logger.String("student", e.StudentID),
				logger.String("category", e.Category.String()))
			continue
		}
		if math.Abs(want-e.Score) > scoreTolerance {
			mismatches++
			log.Warn(ctx, "stored score differs from pooled feedback",
				logger.String("student", e.StudentID),
				logger.String("category", e.Category.String()),
				logger.Float64("stored", e.Score),
				logger.Float64("pooled", want))
		}
	}
	for k := range expected {
		if !seen[k] {
			mismatches++
			log.Warn(ctx, "feedback has no stored score",
				logger.String("student", k.studentID),
				logger.String("category", k.category.String()))
		}
	}
	return mismatches
}

// displayTopStudents logs the highest stored scores.
func displayTopStudents(ctx context.Context, scores []model.PerformanceScoreEntry) {
	sorted := make([]model.PerformanceScoreEntry, len(scores))
	copy(sorted, scores)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	n := min(topN, len(sorted))
	for i := 0; i < n; i++ {
		logger.Get().Info(ctx, "top score",
			logger.Int("rank", i+1),
			logger.String("student", sorted[i].StudentID),
			logger.String("category", sorted[i].Category.String()),
			logger.Float64("score", sorted[i].Score))
	}
}
