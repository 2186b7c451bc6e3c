package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/cadenza/pkg/logger"
)

const (
	workerChannelMultiplier = 2
	progressInterval        = time.Second
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeDuplicate
	outcomeFailed
)

// HTTPClient wraps http.Client with the service's base URL.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// newHTTPClient creates a new HTTP client with timeout.
func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// getJSON performs a GET request and decodes a 200 response into out.
func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// submitBody is the JSON body of POST /feedback/{category}.
type submitBody struct {
	ClassID          string             `json:"class_id"`
	CourseID         string             `json:"course_id"`
	StudentID        string             `json:"student_id"`
	Metrics          map[string]float64 `json:"metrics"`
	NAFields         []string           `json:"na_fields,omitempty"`
	AttendanceStatus string             `json:"attendance_status"`
	PersonalFeedback string             `json:"personal_feedback,omitempty"`
}

// submit posts one submission and classifies the response.
func (c *HTTPClient) submit(ctx context.Context, s Submission) (outcome, error) {
	data, err := json.Marshal(submitBody{
		ClassID:          s.ClassID,
		CourseID:         s.CourseID,
		StudentID:        s.StudentID,
		Metrics:          s.Metrics,
		NAFields:         s.NAFields,
		AttendanceStatus: s.AttendanceStatus,
		PersonalFeedback: s.PersonalFeedback,
	})
	if err != nil {
		return outcomeFailed, fmt.Errorf("marshal submission: %w", err)
	}

	target := c.baseURL + "/feedback/" + url.PathEscape(s.Category.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return outcomeFailed, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", s.IdempotencyKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return outcomeFailed, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
		return outcomeSuccess, nil
	case http.StatusConflict:
		return outcomeDuplicate, nil
	default:
		return outcomeFailed, fmt.Errorf("status %d", resp.StatusCode)
	}
}

// submitAll submits concurrently using a worker pool.
func submitAll(ctx context.Context, cfg *Config, client *HTTPClient, subs []Submission, stats *Stats) {
	log := logger.Get()
	log.Info(ctx, "submitting feedback", logger.Int("count", len(subs)), logger.Int("workers", cfg.Workers))

	var (
		successful atomic.Int64
		duplicate  atomic.Int64
		failed     atomic.Int64
		submitted  atomic.Int64
		lastReport atomic.Int64
	)

	subChan := make(chan Submission, cfg.Workers*workerChannelMultiplier)
	var wg sync.WaitGroup

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range subChan {
				if ctx.Err() != nil {
					continue
				}
				result, err := client.submit(ctx, s)
				submitted.Add(1)
				switch result {
				case outcomeSuccess:
					successful.Add(1)
				case outcomeDuplicate:
					duplicate.Add(1)
				default:
					failed.Add(1)
					log.Debug(ctx, "submission failed",
						logger.String("student", s.StudentID),
						logger.String("class", s.ClassID),
						logger.Error(err))
				}

				if !cfg.Verbose {
					continue
				}
				now := time.Now().UnixNano()
				last := lastReport.Load()
				if now-last >= int64(progressInterval) && lastReport.CompareAndSwap(last, now) {
					log.Info(ctx, "progress",
						logger.Int64("submitted", submitted.Load()),
						logger.Int("total", len(subs)),
						logger.Int64("successful", successful.Load()),
						logger.Int64("duplicate", duplicate.Load()),
						logger.Int64("failed", failed.Load()))
				}
			}
		}()
	}

	go func() {
		defer close(subChan)
		for _, s := range subs {
			select {
			case <-ctx.Done():
				return
			case subChan <- s:
			}
		}
	}()

	wg.Wait()

	stats.Submitted = int(submitted.Load())
	stats.Successful = int(successful.Load())
	stats.Duplicate = int(duplicate.Load())
	stats.Failed = int(failed.Load())

	log.Info(ctx, "submission completed",
		logger.Int("successful", stats.Successful),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("failed", stats.Failed))
}
