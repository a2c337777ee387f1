package metrics

import (
	"context"

	"github.com/mcosta/docingest-back/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	queueJobsDesc = prometheus.NewDesc(
		"docingest_queue_jobs",
		"Jobs tracked by the processing queue, by state",
		[]string{"state"},
		nil,
	)
	queuePausedDesc = prometheus.NewDesc(
		"docingest_queue_paused",
		"Whether the processing queue is paused",
		nil,
		nil,
	)
)

// QueueCollector samples queue stats at scrape time.
type QueueCollector struct {
	client queue.Client
}

func NewQueueCollector(client queue.Client) *QueueCollector {
	return &QueueCollector{client: client}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- queueJobsDesc
	ch <- queuePausedDesc
}

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.client.Stats(context.Background())
	if err != nil {
		return
	}

	states := map[string]int{
		string(queue.StateWaiting):   stats.Waiting,
		string(queue.StateActive):    stats.Active,
		string(queue.StateCompleted): stats.Completed,
		string(queue.StateFailed):    stats.Failed,
		string(queue.StateDelayed):   stats.Delayed,
	}
	for state, count := range states {
		ch <- prometheus.MustNewConstMetric(queueJobsDesc, prometheus.GaugeValue, float64(count), state)
	}

	paused := 0.0
	if stats.Paused {
		paused = 1.0
	}
	ch <- prometheus.MustNewConstMetric(queuePausedDesc, prometheus.GaugeValue, paused)
}
