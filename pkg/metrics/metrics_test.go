package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with custom options on a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithMetricsEnabled(true),
				WithRefreshInterval(5*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metrics are registered under the custom namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.submissions.WithLabelValues("music", "ok").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_unit_submissions_total"], ShouldBeTrue)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording submissions", func() {
			before := testutil.ToFloat64(globalManager.submissions.WithLabelValues("vocal", "ok"))
			RecordSubmission("vocal", "ok")
			RecordSubmission("vocal", "ok")

			Convey("Then the counter increases", func() {
				after := testutil.ToFloat64(globalManager.submissions.WithLabelValues("vocal", "ok"))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When recording aggregate conflicts", func() {
			before := testutil.ToFloat64(globalManager.aggregateConflicts.WithLabelValues("course"))
			RecordAggregateConflict("course")

			Convey("Then the conflict counter increases", func() {
				after := testutil.ToFloat64(globalManager.aggregateConflicts.WithLabelValues("course"))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When updating gauges", func() {
			UpdateLastScore("drums", 7.25)
			UpdateNotifyQueueSize(3)
			UpdateNotifyQueueCapacity(128)

			Convey("Then they report the last value", func() {
				So(testutil.ToFloat64(globalManager.lastScore.WithLabelValues("drums")), ShouldEqual, 7.25)
				So(testutil.ToFloat64(globalManager.notifyQueueSize), ShouldEqual, 3)
				So(testutil.ToFloat64(globalManager.notifyQueueCap), ShouldEqual, 128)
			})
		})

		Convey("When recording observations", func() {
			So(func() {
				RecordSubmissionLatency("music", 12)
				RecordAggregateLatency(3)
				RecordPooledValues(18)
				RecordStoreLatency("memory", "get_course", 0.1)
				RecordStoreError("nats", "update_course")
				RecordNotifyLatency(40)
				RecordNotifyDropped("queue_full")
				RecordNotifySent("violin")
				RecordNotifyFailed("violin")
				RecordNotifyEnqueued()
				UpdateNotifyWorkers(4)
				RecordPhaseFailure("attendance_written", "not_found")
				RecordDuplicateSubmission()
				RecordHTTPRequest("feedback", "POST", "201")
				RecordHTTPRequestDuration("feedback", "POST", "201", 5)
				RecordErrorByEndpoint("feedback", "POST", "client_error")
				RecordErrorByType("client_error", "medium")
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.4)
			}, ShouldNotPanic)
		})

		Convey("Then the custom registry is exposed", func() {
			So(GetRegistry(), ShouldEqual, customRegistry)
		})
	})
}
