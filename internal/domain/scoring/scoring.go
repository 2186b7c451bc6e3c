// Package scoring turns raw tutor input into metric values and reduces
// feedback records to scores.
package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/okian/cadenza/internal/domain/category"
	"github.com/okian/cadenza/internal/domain/model"
)

// ErrUnknownNAField is returned when a submission marks a key the category
// does not define as not applicable.
var ErrUnknownNAField = errors.New("na field not defined for category")

// Coerce converts a raw metric input to a number. Anything that does not
// parse to a finite number yields 0.
func Coerce(raw any) float64 {
	var v float64
	switch x := raw.(type) {
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int32:
		v = float64(x)
	case int64:
		v = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		v = f
	default:
		// nil, bool, objects, arrays
		return 0
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// BuildMetrics produces one value per schema key. Keys listed in naFields
// become NA, every other key is coerced from raw. The returned NA list is
// deduplicated and follows schema order.
func BuildMetrics(schema category.Schema, raw map[string]any, naFields []string) (map[string]model.MetricValue, []string, error) {
	na := make(map[string]struct{}, len(naFields))
	for _, k := range naFields {
		if !schema.Has(k) {
			return nil, nil, fmt.Errorf("%w: %q for %s", ErrUnknownNAField, k, schema.Category)
		}
		na[k] = struct{}{}
	}

	metrics := make(map[string]model.MetricValue, len(schema.MetricKeys))
	naOut := make([]string, 0, len(na))
	for _, k := range schema.MetricKeys {
		if _, ok := na[k]; ok {
			metrics[k] = model.NotApplicable()
			naOut = append(naOut, k)
			continue
		}
		metrics[k] = model.Score(Coerce(raw[k]))
	}
	return metrics, naOut, nil
}

// SubmissionAverage is the mean of one record's non-NA values, or 0.
func SubmissionAverage(rec model.FeedbackRecord) float64 {
	return mean(rec.ValidValues())
}

// Pool flattens the non-NA values of every record into one set and returns
// its mean along with the number of pooled values. Records with more
// completed metrics weigh more. An empty pool scores 0.
func Pool(records []model.FeedbackRecord) (float64, int) {
	var pooled []float64
	for _, r := range records {
		pooled = append(pooled, r.ValidValues()...)
	}
	return mean(pooled), len(pooled)
}

// mean sums in ascending order so the result does not depend on the order
// records were fetched in.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(len(sorted))
}
