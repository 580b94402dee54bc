package metrics

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Storage metrics for the transcript archive, the staff directory and request deadlines
var (
	// Cassandra query metrics
	CassandraQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cassandra_query_duration_seconds",
		Help:    "Cassandra query latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"operation", "table"})

	CassandraQueryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassandra_query_total",
		Help: "Total number of Cassandra queries executed",
	}, []string{"operation", "table", "status"})

	CassandraQueryTimeoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassandra_query_timeout_total",
		Help: "Total number of Cassandra query timeouts",
	}, []string{"operation", "table"})

	// CockroachDB connection pool metrics
	DBConnectionsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_connections_in_use",
		Help: "Current number of database connections in use",
	})

	DBConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_connections_idle",
		Help: "Current number of idle database connections",
	})

	DBQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// Request timeout metrics
	RequestTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "request_timeout_total",
		Help: "Total number of request timeouts",
	})

	RequestTimeoutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "request_timeout_duration_seconds",
		Help:    "Request timeout duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "path"})
)

// RecordCassandraQuery records one Cassandra query and its latency
func RecordCassandraQuery(operation, table string, started time.Time, err error) {
	CassandraQueryDuration.WithLabelValues(operation, table).Observe(time.Since(started).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	CassandraQueryTotal.WithLabelValues(operation, table, status).Inc()
}

// RecordCassandraQueryTimeout records a Cassandra query timeout
func RecordCassandraQueryTimeout(operation, table string) {
	CassandraQueryTimeoutTotal.WithLabelValues(operation, table).Inc()
}

// RecordDBQuery records the latency of a CockroachDB query
func RecordDBQuery(operation, table string, started time.Time) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(started).Seconds())
}

// RecordDBPoolStats publishes pool usage
func RecordDBPoolStats(stats *pgxpool.Stat) {
	if stats == nil {
		return
	}
	DBConnectionsInUse.Set(float64(stats.AcquiredConns()))
	DBConnectionsIdle.Set(float64(stats.IdleConns()))
}

// RecordRequestTimeout records a request timeout
func RecordRequestTimeout(duration time.Duration, method, path string) {
	RequestTimeoutTotal.Inc()
	RequestTimeoutDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
