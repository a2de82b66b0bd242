package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "ladder")
			})
		})

		Convey("When no registry is given", func() {
			manager := NewManager(WithRegistry(nil), WithRegistry(prometheus.NewRegistry()))

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "ladder")
				So(manager.subsystem, ShouldEqual, "pipeline")
				So(len(manager.histogramBuckets), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording fetch metrics", func() {
			before := testutil.ToFloat64(globalManager.rowsFetched.WithLabelValues("activity"))
			RecordRowsFetched("activity", 5)
			RecordFetchAttempt("activity", "ok")
			RecordFetchRetry("activity")
			RecordIdentityChunk()
			RecordIdentityFallback()

			Convey("Then counters move", func() {
				So(testutil.ToFloat64(globalManager.rowsFetched.WithLabelValues("activity")), ShouldEqual, before+5)
			})
		})

		Convey("When recording drops", func() {
			before := testutil.ToFloat64(globalManager.recordsDropped.WithLabelValues("join", "ineligible"))
			RecordDropped("join", "ineligible", 2)
			RecordDropped("join", "ineligible", 0)

			Convey("Then only positive counts are added", func() {
				So(testutil.ToFloat64(globalManager.recordsDropped.WithLabelValues("join", "ineligible")), ShouldEqual, before+2)
			})
		})

		Convey("When recording run metrics", func() {
			So(func() {
				RecordSideArtifactWarning("blacklist")
				UpdateExcludedIDs(3)
				UpdateAdjustedIDs(4)
				UpdateRankedEntries(10)
				RecordStageDuration("rank", 20*time.Millisecond)
				RecordShortCircuit()
				MarkSuccess(time.Unix(1700000000, 0), time.Second)
			}, ShouldNotPanic)

			So(testutil.ToFloat64(globalManager.rankedEntries), ShouldEqual, 10)
			So(testutil.ToFloat64(globalManager.lastSuccess), ShouldEqual, 1700000000)
		})
	})
}

func TestMetricsExport(t *testing.T) {
	Convey("Given recorded metrics", t, func() {
		RecordRowsFetched("identity", 1)

		Convey("When writing a textfile", func() {
			path := filepath.Join(t.TempDir(), "ladder.prom")
			err := WriteTextfile(path)

			Convey("Then the file holds the exposition", func() {
				So(err, ShouldBeNil)
				data, rerr := os.ReadFile(path)
				So(rerr, ShouldBeNil)
				So(string(data), ShouldContainSubstring, "ladder_pipeline_rows_fetched_total")
			})
		})

		Convey("When writing a textfile to a missing directory", func() {
			err := WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"))
			So(errors.Is(err, ErrObserveFailed), ShouldBeTrue)
		})

		Convey("When pushing to a gateway", func() {
			var gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			err := Push(context.Background(), srv.URL, "ladder")

			Convey("Then the job path is used", func() {
				So(err, ShouldBeNil)
				So(strings.HasSuffix(gotPath, "/metrics/job/ladder"), ShouldBeTrue)
			})
		})

		Convey("When the gateway rejects the push", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer srv.Close()

			err := Push(context.Background(), srv.URL, "ladder")
			So(errors.Is(err, ErrObserveFailed), ShouldBeTrue)
		})
	})
}
