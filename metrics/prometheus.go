package metrics

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-webserver/controller"
	"github.com/saiset-co/sai-webserver/types"
)

const (
	DefaultPath      = "/metrics"
	DefaultNamespace = "sai_webserver"
	startedAtKey     = "metrics_started_at"
)

// PrometheusCollector records request metrics from the adapter lifecycle events.
type PrometheusCollector struct {
	logger          types.Logger
	path            string
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	notFoundTotal   prometheus.Counter
	serverUp        prometheus.Gauge
}

type Option func(*PrometheusCollector)

// WithGoMetrics adds the Go runtime and process collectors to the registry.
func WithGoMetrics() Option {
	return func(p *PrometheusCollector) {
		p.registry.MustRegister(collectors.NewGoCollector())
		p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
}

func NewPrometheusCollector(config *types.MetricsConfig, logger types.Logger, opts ...Option) *PrometheusCollector {
	namespace, path := DefaultNamespace, DefaultPath
	if config != nil {
		if config.Namespace != "" {
			namespace = config.Namespace
		}
		if config.Path != "" {
			path = config.Path
		}
	}

	p := &PrometheusCollector{
		logger:   logger,
		path:     path,
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests served, by method and response status.",
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from pre-request to post-request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		notFoundTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "not_found_total",
			Help:      "Requests that matched no route.",
		}),
		serverUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_up",
			Help:      "1 while the web server is listening.",
		}),
	}

	p.registry.MustRegister(p.requestsTotal, p.requestDuration, p.notFoundTotal, p.serverUp)

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Subscribe attaches the collector to the lifecycle events it measures.
func (p *PrometheusCollector) Subscribe(events types.EventEmitter) error {
	listeners := map[types.EventType]types.Listener{
		types.EventPreRequest:    p.onPreRequest,
		types.EventPostRequest:   p.onPostRequest,
		types.EventNotFound:      p.onNotFound,
		types.EventServerStarted: p.onServerStarted,
		types.EventServerStopped: p.onServerStopped,
	}

	for _, eventType := range []types.EventType{
		types.EventPreRequest,
		types.EventPostRequest,
		types.EventNotFound,
		types.EventServerStarted,
		types.EventServerStopped,
	} {
		if err := events.On(eventType, listeners[eventType]); err != nil {
			return types.WrapError(err, "failed to subscribe metrics to "+string(eventType))
		}
	}

	return nil
}

// Controller serves the text exposition format on the configured path.
func (p *PrometheusCollector) Controller() types.Controller {
	base := controller.NewBase("metrics", "")

	base.Get(p.path, func(c *types.Context, _ ...any) (any, error) {
		body, err := p.Gather()
		if err != nil {
			return nil, types.NewHTTPError(http.StatusInternalServerError, "failed to gather metrics")
		}

		c.SetHeader("Content-Type", types.ContentTypeMetrics)
		c.SetResponseBody(body)
		return nil, nil
	}).WithName("metrics")

	return base
}

func (p *PrometheusCollector) Gather() ([]byte, error) {
	families, err := p.registry.Gather()
	if err != nil {
		p.logger.Error("Failed to gather prometheus metrics", zap.Error(err))
		return nil, err
	}

	var buf bytes.Buffer
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, family); err != nil {
			return nil, types.WrapError(err, "failed to encode metric family")
		}
	}

	return buf.Bytes(), nil
}

func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusCollector) onPreRequest(_ context.Context, event types.Event) error {
	if e, ok := event.(*types.RequestEvent); ok && e.Context != nil {
		e.Context.Set(startedAtKey, time.Now())
	}
	return nil
}

func (p *PrometheusCollector) onPostRequest(_ context.Context, event types.Event) error {
	e, ok := event.(*types.RequestEvent)
	if !ok || e.Context == nil {
		return nil
	}

	c := e.Context
	p.requestsTotal.WithLabelValues(c.Method(), strconv.Itoa(c.Status())).Inc()

	value, _ := c.Get(startedAtKey)
	if startedAt, ok := value.(time.Time); ok {
		p.requestDuration.WithLabelValues(c.Method()).Observe(time.Since(startedAt).Seconds())
	}

	return nil
}

func (p *PrometheusCollector) onNotFound(_ context.Context, _ types.Event) error {
	p.notFoundTotal.Inc()
	return nil
}

func (p *PrometheusCollector) onServerStarted(_ context.Context, _ types.Event) error {
	p.serverUp.Set(1)
	return nil
}

func (p *PrometheusCollector) onServerStopped(_ context.Context, _ types.Event) error {
	p.serverUp.Set(0)
	return nil
}
