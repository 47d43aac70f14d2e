package tally

import (
	"io"
	"net/http"
	"time"

	"github.com/stickerlandia/printq/metrics"
	tally "github.com/uber-go/tally/v4"
	"github.com/uber-go/tally/v4/prometheus"
)

type Counter struct {
	Counter tally.Counter
}

var _ metrics.Counter = (*Counter)(nil)

func (c *Counter) Inc(delta int64) {
	c.Counter.Inc(delta)
}

type Gauge struct {
	Gauge tally.Gauge
}

var _ metrics.Gauge = (*Gauge)(nil)

func (g *Gauge) Update(value float64) {
	g.Gauge.Update(value)
}

// Scope wraps a tally root scope reporting to Prometheus.
type Scope struct {
	scope    tally.Scope
	closer   io.Closer
	reporter prometheus.Reporter
}

// NewPrometheusScope creates a root scope whose metrics are exposed through
// the returned scope's Handler.
func NewPrometheusScope(prefix string, interval time.Duration) *Scope {
	r := prometheus.NewReporter(prometheus.Options{})
	s, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:         prefix,
		CachedReporter: r,
		Separator:      prometheus.DefaultSeparator,
	}, interval)
	return &Scope{scope: s, closer: closer, reporter: r}
}

// Counter returns a metrics.Counter backed by a tally counter.
func (s *Scope) Counter(name string) metrics.Counter {
	return &Counter{Counter: s.scope.Counter(name)}
}

// Gauge returns a metrics.Gauge backed by a tally gauge.
func (s *Scope) Gauge(name string) metrics.Gauge {
	return &Gauge{Gauge: s.scope.Gauge(name)}
}

// Handler serves the Prometheus exposition format.
func (s *Scope) Handler() http.Handler {
	return s.reporter.HTTPHandler()
}

func (s *Scope) Close() error {
	return s.closer.Close()
}
