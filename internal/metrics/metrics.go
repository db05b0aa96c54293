// Package metrics exposes job activity as Prometheus collectors.
//
// Collectors live on their own registry so tests and multiple daemons in one
// process don't collide on the global one.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cadence/internal/eventbus"
)

type Metrics struct {
	reg *prometheus.Registry

	ticks    *prometheus.CounterVec
	missed   *prometheus.CounterVec
	errors   *prometheus.CounterVec
	stopped  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// Sources feeds the gauges that are read at scrape time. Nil funcs are
// skipped.
type Sources struct {
	RunningJobs   func() int
	BusDropped    func() uint64
	AlertsDropped func() uint64
}

func New(src Sources) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		reg: reg,
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cadence_job_ticks_total",
			Help: "Total number of action invocations per job",
		}, []string{"job"}),
		missed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cadence_job_missed_total",
			Help: "Total number of detected missed executions per job",
		}, []string{"job"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cadence_job_errors_total",
			Help: "Total number of failed action invocations per job",
		}, []string{"job"}),
		stopped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cadence_job_stopped_total",
			Help: "Total number of job stops per reason",
		}, []string{"job", "reason"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cadence_job_run_duration_seconds",
			Help:    "Action run time in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"job", "status"}),
	}

	if src.RunningJobs != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "cadence_jobs_running",
			Help: "Number of jobs whose schedule is live (running or paused)",
		}, func() float64 { return float64(src.RunningJobs()) })
	}
	if src.BusDropped != nil {
		f.NewCounterFunc(prometheus.CounterOpts{
			Name: "cadence_eventbus_dropped_total",
			Help: "Events dropped because a subscriber was full",
		}, func() float64 { return float64(src.BusDropped()) })
	}
	if src.AlertsDropped != nil {
		f.NewCounterFunc(prometheus.CounterOpts{
			Name: "cadence_log_alerts_dropped_total",
			Help: "Alert log lines dropped by the rate limiter",
		}, func() float64 { return float64(src.AlertsDropped()) })
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Observe updates the collectors for one job event. Other events are ignored.
func (m *Metrics) Observe(ev eventbus.Event) {
	je, ok := ev.Data.(eventbus.JobEvent)
	if !ok {
		return
	}
	switch ev.Type {
	case eventbus.JobTick:
		m.ticks.WithLabelValues(je.Job).Inc()
	case eventbus.JobMissed:
		m.missed.WithLabelValues(je.Job).Inc()
	case eventbus.JobError:
		m.errors.WithLabelValues(je.Job).Inc()
	case eventbus.JobFinished:
		status := "ok"
		if je.Err != "" {
			status = "error"
		}
		m.duration.WithLabelValues(je.Job, status).Observe(je.Duration.Seconds())
	case eventbus.JobStopped:
		m.stopped.WithLabelValues(je.Job, je.Reason).Inc()
	}
}

// Consume observes events from ch until ctx is done or ch closes.
func (m *Metrics) Consume(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}
