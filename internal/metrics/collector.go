package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// QueueStats gives the collector access to the bulk transcription queue.
type QueueStats interface {
	Pending() int
	Capacity() int
	Workers() int
	Completed() int64
	Failed() int64
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	queue QueueStats

	// Descriptors for scrape-time gauges.
	queuePending    *prometheus.Desc
	queueCapacity   *prometheus.Desc
	queueWorkers    *prometheus.Desc
	queueCompleted  *prometheus.Desc
	queueFailed     *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil (metrics will report 0). queue may be nil if no worker
// pool is running.
func NewCollector(pool *pgxpool.Pool, queue QueueStats) *Collector {
	return &Collector{
		pool:  pool,
		queue: queue,
		queuePending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "pending_jobs"),
			"Transcription jobs waiting in the queue.",
			nil, nil,
		),
		queueCapacity: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "capacity"),
			"Maximum number of queued transcription jobs.",
			nil, nil,
		),
		queueWorkers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "workers"),
			"Transcription worker goroutines.",
			nil, nil,
		),
		queueCompleted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "completed_jobs"),
			"Jobs completed since start.",
			nil, nil,
		),
		queueFailed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "failed_jobs"),
			"Jobs failed since start.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queuePending
	ch <- c.queueCapacity
	ch <- c.queueWorkers
	ch <- c.queueCompleted
	ch <- c.queueFailed
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	// Queue stats
	var pending, capacity, workers, completed, failed float64
	if c.queue != nil {
		pending = float64(c.queue.Pending())
		capacity = float64(c.queue.Capacity())
		workers = float64(c.queue.Workers())
		completed = float64(c.queue.Completed())
		failed = float64(c.queue.Failed())
	}
	ch <- prometheus.MustNewConstMetric(c.queuePending, prometheus.GaugeValue, pending)
	ch <- prometheus.MustNewConstMetric(c.queueCapacity, prometheus.GaugeValue, capacity)
	ch <- prometheus.MustNewConstMetric(c.queueWorkers, prometheus.GaugeValue, workers)
	ch <- prometheus.MustNewConstMetric(c.queueCompleted, prometheus.CounterValue, completed)
	ch <- prometheus.MustNewConstMetric(c.queueFailed, prometheus.CounterValue, failed)

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
