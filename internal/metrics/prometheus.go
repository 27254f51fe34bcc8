package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const namespace = "streamfire"

// Prometheus holds the Prometheus view of a run. A nil *Prometheus is valid
// and records nothing.
type Prometheus struct {
	Attachments     *prometheus.CounterVec
	BytesWritten    prometheus.Counter
	CompletionLag   prometheus.Histogram
	ActiveProducers prometheus.Gauge
}

// NewPrometheus registers streamfire metrics on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		Attachments: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attachments_total",
				Help:      "Attachments settled, by outcome",
			},
			[]string{"outcome"},
		),
		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes written by producers into their sinks",
		}),
		CompletionLag: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_lag_seconds",
			Help:      "Time a producer finished past its drawn production time",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		}),
		ActiveProducers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_producers",
			Help:      "Producers currently writing",
		}),
	}
}

func (p *Prometheus) addBytes(n int64) {
	if p == nil {
		return
	}
	p.BytesWritten.Add(float64(n))
}

func (p *Prometheus) setActive(n int64) {
	if p == nil {
		return
	}
	p.ActiveProducers.Set(float64(n))
}

func (p *Prometheus) observeOutcome(outcome string) {
	if p == nil {
		return
	}
	p.Attachments.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) observeLag(lag time.Duration) {
	if p == nil {
		return
	}
	p.CompletionLag.Observe(lag.Seconds())
}

// Server exposes a registry on /metrics.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Serve starts serving g on addr. Listen errors are returned immediately.
func Serve(addr string, g prometheus.Gatherer) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
