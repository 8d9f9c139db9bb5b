package types

// MetricsCollector turns lifecycle events into metrics and exposes them over HTTP.
type MetricsCollector interface {
	Subscribe(events EventEmitter) error
	Controller() Controller
	Gather() ([]byte, error)
}

const ContentTypeMetrics = "text/plain; version=0.0.4; charset=utf-8"
