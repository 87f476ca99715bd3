// Package metrics exposes scheduler counters on a Prometheus registry and,
// optionally, serves them together with pprof on a debug listener.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "labrun/pkg/logx"
	"labrun/pkg/measure"
)

// Recorder implements the scheduler's metrics hook.
type Recorder struct {
	reg *prometheus.Registry

	queued    prometheus.Counter
	done      *prometheus.CounterVec
	queueLen  prometheus.Gauge
	duration  *prometheus.HistogramVec
	dropTotal prometheus.Counter
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		reg: reg,
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labrun_runs_queued_total",
			Help: "Experiments accepted into the queue.",
		}),
		done: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labrun_runs_done_total",
			Help: "Completed runs by terminal status.",
		}, []string{"status"}),
		queueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "labrun_queue_length",
			Help: "Experiments currently waiting in the queue.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "labrun_run_duration_seconds",
			Help:    "Wall time from worker start to terminal status.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"status"}),
		dropTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labrun_data_events_dropped_total",
			Help: "Data events discarded due to a full worker event channel.",
		}),
	}
	reg.MustRegister(r.queued, r.done, r.queueLen, r.duration, r.dropTotal)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

func (r *Recorder) RunQueued() { r.queued.Inc() }

func (r *Recorder) RunDone(status measure.Status, took time.Duration) {
	s := status.String()
	r.done.WithLabelValues(s).Inc()
	r.duration.WithLabelValues(s).Observe(took.Seconds())
}

func (r *Recorder) SetQueuedLength(n int) { r.queueLen.Set(float64(n)) }

// AddDropped records data events lost to backpressure.
func (r *Recorder) AddDropped(n uint64) { r.dropTotal.Add(float64(n)) }

// DebugServer serves /metrics and /debug/pprof on a dedicated listener.
type DebugServer struct {
	log logx.Logger
	srv *http.Server

	mu sync.Mutex
	wg sync.WaitGroup
}

func NewDebugServer(addr string, rec *Recorder, log logx.Logger) *DebugServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rec.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return &DebugServer{
		log: log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (d *DebugServer) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.log.Info("debug listener up", logx.String("addr", d.srv.Addr))
		if err := d.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("debug listener failed", logx.Err(err))
		}
	}()
}

func (d *DebugServer) Stop(ctx context.Context) {
	if err := d.srv.Shutdown(ctx); err != nil {
		d.log.Warn("debug listener shutdown", logx.Err(err))
	}
	d.wg.Wait()
}
