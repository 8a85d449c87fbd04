package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := New(nil)
	r.RoomCreated()
	r.Joined()
	r.Joined()
	r.VoteCast()
	r.Resolved("")
	r.Resolved("coin")
	r.Error("capacity")

	if got := testutil.ToFloat64(r.Joins); got != 2 {
		t.Fatalf("joins = %v", got)
	}
	if got := testutil.ToFloat64(r.Resolutions.WithLabelValues("none")); got != 1 {
		t.Fatalf("clean resolutions = %v", got)
	}
	if got := testutil.ToFloat64(r.Resolutions.WithLabelValues("coin")); got != 1 {
		t.Fatalf("coin resolutions = %v", got)
	}

	done := r.FeedOpened()
	if got := testutil.ToFloat64(r.Realtime); got != 1 {
		t.Fatalf("realtime gauge = %v", got)
	}
	done()
	if got := testutil.ToFloat64(r.Realtime); got != 0 {
		t.Fatalf("realtime gauge after close = %v", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.RoomCreated()
	r.Resolved("dice")
	r.FeedOpened()()
	if r.Registry() != nil {
		t.Fatalf("nil recorder has no registry")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New(nil)
	r.VoteCast()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "dicey_votes_total 1") {
		t.Fatalf("metrics output missing votes counter:\n%s", body)
	}
}
