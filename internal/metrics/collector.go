package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/internal/repository"
)

// StatusCounter is the slice of the upload repository the collector reads
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[models.UploadStatus]repository.StatusTotal, error)
}

// RecordsCollector reports upload records per status on each scrape
type RecordsCollector struct {
	counter StatusCounter
	timeout time.Duration

	records *prometheus.Desc
	bytes   *prometheus.Desc
}

// NewRecordsCollector creates a collector over the given repository
func NewRecordsCollector(counter StatusCounter) *RecordsCollector {
	return &RecordsCollector{
		counter: counter,
		timeout: 5 * time.Second,
		records: prometheus.NewDesc(
			"chunkvault_upload_records",
			"Number of upload records by status",
			[]string{"status"}, nil,
		),
		bytes: prometheus.NewDesc(
			"chunkvault_upload_records_bytes",
			"Declared size of upload records by status in bytes",
			[]string{"status"}, nil,
		),
	}
}

// Describe sends metric descriptors to Prometheus
func (c *RecordsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.records
	ch <- c.bytes
}

// Collect queries the repository and emits one sample per status.
// Statuses without records are reported as zero so series do not vanish.
func (c *RecordsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	totals, err := c.counter.CountByStatus(ctx)
	if err != nil {
		slog.Error("failed to query upload record metrics", "error", err)
		totals = nil
	}

	for _, status := range []models.UploadStatus{
		models.StatusPending, models.StatusUploading, models.StatusCompleted, models.StatusFailed,
	} {
		t := totals[status]
		ch <- prometheus.MustNewConstMetric(c.records, prometheus.GaugeValue, float64(t.Count), string(status))
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(t.Bytes), string(status))
	}
}
