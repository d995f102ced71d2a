package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestUploadLifecycleCounters(t *testing.T) {
	initiated := testutil.ToFloat64(UploadsInitiatedTotal.WithLabelValues("multipart"))
	completed := testutil.ToFloat64(UploadsCompletedTotal.WithLabelValues("multipart"))
	aborted := testutil.ToFloat64(UploadsAbortedTotal.WithLabelValues("expired"))

	UploadsInitiatedTotal.WithLabelValues("multipart").Inc()
	UploadsCompletedTotal.WithLabelValues("multipart").Inc()
	UploadsAbortedTotal.WithLabelValues("expired").Add(2)

	if got := testutil.ToFloat64(UploadsInitiatedTotal.WithLabelValues("multipart")); got != initiated+1 {
		t.Errorf("initiated = %f, want %f", got, initiated+1)
	}
	if got := testutil.ToFloat64(UploadsCompletedTotal.WithLabelValues("multipart")); got != completed+1 {
		t.Errorf("completed = %f, want %f", got, completed+1)
	}
	if got := testutil.ToFloat64(UploadsAbortedTotal.WithLabelValues("expired")); got != aborted+2 {
		t.Errorf("aborted = %f, want %f", got, aborted+2)
	}
}

func TestErrorsTotal(t *testing.T) {
	before := testutil.ToFloat64(ErrorsTotal.WithLabelValues("FORBIDDEN"))
	ErrorsTotal.WithLabelValues("FORBIDDEN").Inc()
	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues("FORBIDDEN")); got != before+1 {
		t.Errorf("ErrorsTotal = %f, want %f", got, before+1)
	}
}

func TestHistogramsAccumulate(t *testing.T) {
	UploadSizeBytes.Observe(12 * 1024 * 1024)
	UploadPartCount.Observe(3)
	HealthCheckDuration.Observe(0.002)
	HTTPRequestDuration.WithLabelValues("GET", "/health").Observe(0.01)

	if n := testutil.CollectAndCount(UploadSizeBytes); n != 1 {
		t.Errorf("UploadSizeBytes series = %d, want 1", n)
	}
	if n := testutil.CollectAndCount(UploadPartCount); n != 1 {
		t.Errorf("UploadPartCount series = %d, want 1", n)
	}
}

func TestHealthMetrics(t *testing.T) {
	for _, v := range []float64{0, 1, 2} {
		HealthStatus.Set(v)
		if got := testutil.ToFloat64(HealthStatus); got != v {
			t.Errorf("HealthStatus = %f, want %f", got, v)
		}
	}

	before := testutil.ToFloat64(HealthChecksTotal.WithLabelValues("healthy"))
	HealthChecksTotal.WithLabelValues("healthy").Inc()
	if got := testutil.ToFloat64(HealthChecksTotal.WithLabelValues("healthy")); got != before+1 {
		t.Errorf("HealthChecksTotal = %f, want %f", got, before+1)
	}
}
