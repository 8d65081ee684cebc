package prommetrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-credentials/core"
)

// DefaultLabels are the tag keys the credential service attaches to its
// operation metrics. Tags outside the label set are dropped.
var DefaultLabels = []string{"operation", "status", "error_kind", "principal_kind"}

var DefaultDurationBuckets = []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000}

type Option func(*Recorder)

func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		r.namespace = sanitize(namespace)
	}
}

func WithLabels(labels ...string) Option {
	return func(r *Recorder) {
		if len(labels) > 0 {
			r.labels = append([]string(nil), labels...)
		}
	}
}

func WithBuckets(buckets ...float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// Recorder implements core.MetricsRecorder on a Prometheus registerer.
// Vectors are created on first use of a metric name.
type Recorder struct {
	registerer prometheus.Registerer
	namespace  string
	labels     []string
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	onError    func(error)
}

func NewRecorder(registerer prometheus.Registerer, opts ...Option) *Recorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		registerer: registerer,
		labels:     append([]string(nil), DefaultLabels...),
		buckets:    append([]float64(nil), DefaultDurationBuckets...),
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// OnError sets a callback for registration failures, which are otherwise
// swallowed so that metrics never fail an operation.
func (r *Recorder) OnError(fn func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = fn
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	vec, err := r.counter(name)
	if err != nil {
		r.report(err)
		return
	}
	vec.With(r.labelValues(tags)).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	vec, err := r.histogram(name)
	if err != nil {
		r.report(err)
		return
	}
	vec.With(r.labelValues(tags)).Observe(value)
}

func (r *Recorder) counter(name string) (*prometheus.CounterVec, error) {
	metric := MetricName(name)
	if metric == "" {
		return nil, fmt.Errorf("prommetrics: metric name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.counters[metric]; ok {
		return vec, nil
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      "Credential service counter " + strings.TrimSpace(name),
	}, r.labels)
	if err := r.registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, fmt.Errorf("prommetrics: register %s: %w", metric, err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("prommetrics: %s is registered with another type", metric)
		}
		vec = existing
	}
	r.counters[metric] = vec
	return vec, nil
}

func (r *Recorder) histogram(name string) (*prometheus.HistogramVec, error) {
	metric := MetricName(name)
	if metric == "" {
		return nil, fmt.Errorf("prommetrics: metric name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.histograms[metric]; ok {
		return vec, nil
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      "Credential service histogram " + strings.TrimSpace(name),
		Buckets:   r.buckets,
	}, r.labels)
	if err := r.registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, fmt.Errorf("prommetrics: register %s: %w", metric, err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, fmt.Errorf("prommetrics: %s is registered with another type", metric)
		}
		vec = existing
	}
	r.histograms[metric] = vec
	return vec, nil
}

func (r *Recorder) labelValues(tags map[string]string) prometheus.Labels {
	values := make(prometheus.Labels, len(r.labels))
	for _, label := range r.labels {
		values[label] = strings.TrimSpace(tags[label])
	}
	return values
}

func (r *Recorder) report(err error) {
	r.mu.Lock()
	fn := r.onError
	r.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// MetricName maps a dotted metric name to a Prometheus metric name:
// "credentials.login.total" becomes "credentials_login_total".
func MetricName(name string) string {
	return sanitize(name)
}

func sanitize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

var _ core.MetricsRecorder = (*Recorder)(nil)
