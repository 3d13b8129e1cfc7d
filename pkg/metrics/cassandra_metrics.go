package metrics

import (
	"errors"
	"time"

	"github.com/gocql/gocql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Storage metrics shared by the Cassandra repositories, the Redis wrapper and the timeout middleware
var (
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

	// Request timeout metrics
	RequestTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "request_timeout_total",
		Help: "Total number of request timeouts",
	})

	// CockroachDB pool pressure
	DBPoolUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_pool_usage_ratio",
		Help: "Share of CockroachDB pool connections currently acquired",
	})

	DBPoolShedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "db_pool_shed_total",
		Help: "Total number of requests rejected while the pool was exhausted",
	})

	// Redis availability
	RedisAvailableGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redis_available",
		Help: "Whether Redis is available (1) or degraded (0)",
	})

	RedisHealthCheckTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_health_check_total",
		Help: "Total number of Redis health checks",
	}, []string{"status"})
)

// ObserveCassandraQuery records latency and outcome of a Cassandra statement started at start
func ObserveCassandraQuery(operation, table string, start time.Time, err error) {
	CassandraQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		var timeout *gocql.RequestErrWriteTimeout
		if errors.Is(err, gocql.ErrTimeoutNoResponse) || errors.As(err, &timeout) {
			CassandraQueryTimeoutTotal.WithLabelValues(operation, table).Inc()
		}
	}
	CassandraQueryTotal.WithLabelValues(operation, table, status).Inc()
}

// RecordRedisAvailable records whether Redis is currently reachable
func RecordRedisAvailable(available bool) {
	if available {
		RedisAvailableGauge.Set(1)
		RedisHealthCheckTotal.WithLabelValues("ok").Inc()
		return
	}
	RedisAvailableGauge.Set(0)
	RedisHealthCheckTotal.WithLabelValues("failed").Inc()
}
