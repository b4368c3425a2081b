package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolGauges exposes pgxpool statistics as gauge funcs evaluated at scrape time.
func poolGauges(pool *pgxpool.Pool, service string) []prometheus.Collector {
	labels := prometheus.Labels{"service": service}
	gauge := func(name, help string, read func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "db_pool_" + name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return read(pool.Stat()) })
	}
	return []prometheus.Collector{
		gauge("acquired_connections", "Connections currently acquired.", func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
		gauge("idle_connections", "Connections currently idle.", func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
		gauge("total_connections", "Connections open in the pool.", func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
		gauge("max_connections", "Pool size limit.", func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }),
		gauge("empty_acquire_count", "Acquires that waited for a free connection.", func(s *pgxpool.Stat) float64 { return float64(s.EmptyAcquireCount()) }),
		gauge("acquire_duration_seconds", "Cumulative time spent acquiring connections.", func(s *pgxpool.Stat) float64 { return s.AcquireDuration().Seconds() }),
	}
}

// RegisterPoolMetrics registers pool gauges with reg.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool, service string) error {
	for _, c := range poolGauges(pool, service) {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
