package database

import (
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStatsCollector implements prometheus.Collector for the pgxpool used by
// the primary address tier.
type PoolStatsCollector struct {
	stat func() *pgxpool.Stat
	tier string

	acquiredConns     *prometheus.Desc
	idleConns         *prometheus.Desc
	totalConns        *prometheus.Desc
	maxConns          *prometheus.Desc
	constructingConns *prometheus.Desc
	acquireCount      *prometheus.Desc
	acquireDuration   *prometheus.Desc
	canceledAcquires  *prometheus.Desc
	emptyAcquires     *prometheus.Desc
	newConnsCount     *prometheus.Desc
}

// NewPoolStatsCollector creates a collector that exports pool statistics
// labelled with the tier name. A nil pool yields a collector that only
// describes its metrics.
func NewPoolStatsCollector(pool *pgxpool.Pool, tier string) *PoolStatsCollector {
	c := newPoolDescs(tier)
	if pool != nil {
		c.stat = pool.Stat
	}
	return c
}

func newPoolDescs(tier string) *PoolStatsCollector {
	labels := []string{"tier"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("address_db_pool_"+name, help, labels, nil)
	}
	return &PoolStatsCollector{
		tier:              tier,
		acquiredConns:     desc("acquired_connections", "Number of currently acquired connections"),
		idleConns:         desc("idle_connections", "Number of currently idle connections"),
		totalConns:        desc("total_connections", "Total number of connections in the pool"),
		maxConns:          desc("max_connections", "Maximum number of connections allowed"),
		constructingConns: desc("constructing_connections", "Number of connections currently being constructed"),
		acquireCount:      desc("acquire_count_total", "Total number of connection acquires"),
		acquireDuration:   desc("acquire_duration_seconds_total", "Total time spent acquiring connections in seconds"),
		canceledAcquires:  desc("canceled_acquire_count_total", "Total number of canceled connection acquires"),
		emptyAcquires:     desc("empty_acquire_count_total", "Total number of acquires that had to wait for a connection"),
		newConnsCount:     desc("new_connections_total", "Total number of new connections created"),
	}
}

// Describe sends the descriptors of all metrics to the provided channel.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredConns
	ch <- c.idleConns
	ch <- c.totalConns
	ch <- c.maxConns
	ch <- c.constructingConns
	ch <- c.acquireCount
	ch <- c.acquireDuration
	ch <- c.canceledAcquires
	ch <- c.emptyAcquires
	ch <- c.newConnsCount
}

// Collect reads current pool statistics and sends them as Prometheus metrics.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.stat == nil {
		return
	}
	stat := c.stat()

	ch <- prometheus.MustNewConstMetric(c.acquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()), c.tier)
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(stat.IdleConns()), c.tier)
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(stat.TotalConns()), c.tier)
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(stat.MaxConns()), c.tier)
	ch <- prometheus.MustNewConstMetric(c.constructingConns, prometheus.GaugeValue, float64(stat.ConstructingConns()), c.tier)
	ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(stat.AcquireCount()), c.tier)
	ch <- prometheus.MustNewConstMetric(c.acquireDuration, prometheus.CounterValue, stat.AcquireDuration().Seconds(), c.tier)
	ch <- prometheus.MustNewConstMetric(c.canceledAcquires, prometheus.CounterValue, float64(stat.CanceledAcquireCount()), c.tier)
	ch <- prometheus.MustNewConstMetric(c.emptyAcquires, prometheus.CounterValue, float64(stat.EmptyAcquireCount()), c.tier)
	ch <- prometheus.MustNewConstMetric(c.newConnsCount, prometheus.CounterValue, float64(stat.NewConnsCount()), c.tier)
}

// SQLStatsCollector exports database/sql connection statistics for the
// secondary tier, which runs on lib/pq rather than pgx.
type SQLStatsCollector struct {
	stats func() sql.DBStats
	tier  string

	openConns    *prometheus.Desc
	inUse        *prometheus.Desc
	idle         *prometheus.Desc
	waitCount    *prometheus.Desc
	waitDuration *prometheus.Desc
}

// NewSQLStatsCollector creates a collector reading stats from the given
// function, typically (*sql.DB).Stats. The function may return zero stats
// while the connection has not been opened yet.
func NewSQLStatsCollector(stats func() sql.DBStats, tier string) *SQLStatsCollector {
	labels := []string{"tier"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("address_db_sql_"+name, help, labels, nil)
	}
	return &SQLStatsCollector{
		stats:        stats,
		tier:         tier,
		openConns:    desc("open_connections", "Number of established connections"),
		inUse:        desc("in_use_connections", "Number of connections currently in use"),
		idle:         desc("idle_connections", "Number of idle connections"),
		waitCount:    desc("wait_count_total", "Total number of connections waited for"),
		waitDuration: desc("wait_duration_seconds_total", "Total time blocked waiting for a new connection"),
	}
}

// Describe sends the descriptors of all metrics to the provided channel.
func (c *SQLStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openConns
	ch <- c.inUse
	ch <- c.idle
	ch <- c.waitCount
	ch <- c.waitDuration
}

// Collect reads the current stats and sends them as Prometheus metrics.
func (c *SQLStatsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.stats == nil {
		return
	}
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.openConns, prometheus.GaugeValue, float64(s.OpenConnections), c.tier)
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse), c.tier)
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle), c.tier)
	ch <- prometheus.MustNewConstMetric(c.waitCount, prometheus.CounterValue, float64(s.WaitCount), c.tier)
	ch <- prometheus.MustNewConstMetric(c.waitDuration, prometheus.CounterValue, s.WaitDuration.Seconds(), c.tier)
}

// RegisterPoolMetrics creates and registers a pgxpool metrics collector with
// the given registerer.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool, tier string) error {
	return reg.Register(NewPoolStatsCollector(pool, tier))
}
