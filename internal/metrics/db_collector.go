package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	connsOpenDesc = prometheus.NewDesc(
		"authguard_db_connections_open",
		"Number of open store connections",
		[]string{"store"}, nil,
	)
	connsInUseDesc = prometheus.NewDesc(
		"authguard_db_connections_in_use",
		"Number of store connections currently in use",
		[]string{"store"}, nil,
	)
	connsIdleDesc = prometheus.NewDesc(
		"authguard_db_connections_idle",
		"Number of idle store connections",
		[]string{"store"}, nil,
	)
	connsMaxDesc = prometheus.NewDesc(
		"authguard_db_connections_max_open",
		"Maximum number of open store connections",
		[]string{"store"}, nil,
	)
	waitsDesc = prometheus.NewDesc(
		"authguard_db_connection_waits_total",
		"Total number of times a caller waited for a store connection",
		[]string{"store"}, nil,
	)
)

// DBStatsCollector reports connection statistics for whichever store is
// configured, read at scrape time: the pgx pool for PostgreSQL or the
// database/sql handle behind SQLite. Either may be nil.
type DBStatsCollector struct {
	pgxPool *pgxpool.Pool
	sqlDB   *sql.DB
}

var _ prometheus.Collector = (*DBStatsCollector)(nil)

// NewDBStatsCollector creates a collector; register it with prometheus.MustRegister
func NewDBStatsCollector(pgxPool *pgxpool.Pool, sqlDB *sql.DB) *DBStatsCollector {
	return &DBStatsCollector{pgxPool: pgxPool, sqlDB: sqlDB}
}

// Describe implements prometheus.Collector
func (c *DBStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- connsOpenDesc
	ch <- connsInUseDesc
	ch <- connsIdleDesc
	ch <- connsMaxDesc
	ch <- waitsDesc
}

// Collect implements prometheus.Collector
func (c *DBStatsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pgxPool != nil {
		stat := c.pgxPool.Stat()
		c.emit(ch, "postgres",
			float64(stat.TotalConns()),
			float64(stat.AcquiredConns()),
			float64(stat.IdleConns()),
			float64(stat.MaxConns()),
			float64(stat.EmptyAcquireCount()),
		)
	}
	if c.sqlDB != nil {
		stats := c.sqlDB.Stats()
		c.emit(ch, "sqlite",
			float64(stats.OpenConnections),
			float64(stats.InUse),
			float64(stats.Idle),
			float64(stats.MaxOpenConnections),
			float64(stats.WaitCount),
		)
	}
}

func (c *DBStatsCollector) emit(ch chan<- prometheus.Metric, store string, open, inUse, idle, maxOpen, waits float64) {
	ch <- prometheus.MustNewConstMetric(connsOpenDesc, prometheus.GaugeValue, open, store)
	ch <- prometheus.MustNewConstMetric(connsInUseDesc, prometheus.GaugeValue, inUse, store)
	ch <- prometheus.MustNewConstMetric(connsIdleDesc, prometheus.GaugeValue, idle, store)
	ch <- prometheus.MustNewConstMetric(connsMaxDesc, prometheus.GaugeValue, maxOpen, store)
	ch <- prometheus.MustNewConstMetric(waitsDesc, prometheus.CounterValue, waits, store)
}

// RecordQueryDuration records the duration of a store query
func RecordQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// TimeQuery times a store query.
// Usage: defer metrics.TimeQuery("credential_get")()
func TimeQuery(operation string) func() {
	start := time.Now()
	return func() {
		RecordQueryDuration(operation, time.Since(start))
	}
}

// Pinger is satisfied by *pgxpool.Pool; wrap database/sql handles with PingFunc
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function such as (*sql.DB).PingContext to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// PingDatabase checks store connectivity and records the round trip
func PingDatabase(ctx context.Context, db Pinger) error {
	defer TimeQuery("ping")()
	return db.Ping(ctx)
}
