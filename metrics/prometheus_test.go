package metrics

import (
	"context"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-webserver/events"
	"github.com/saiset-co/sai-webserver/logger"
	"github.com/saiset-co/sai-webserver/types"
)

func emitRequest(t *testing.T, em *events.Manager, method string, status int, notFound bool) {
	t.Helper()

	ctx := context.Background()
	c := types.NewContext(types.Request{Method: method, Path: "/x"}, nil)

	require.NoError(t, em.Emit(ctx, &types.RequestEvent{EventType: types.EventPreRequest, Context: c}))
	if notFound {
		require.NoError(t, em.Emit(ctx, &types.RequestEvent{EventType: types.EventNotFound, Context: c}))
	}
	c.SetStatus(status)
	require.NoError(t, em.Emit(ctx, &types.RequestEvent{EventType: types.EventPostRequest, Context: c}))
}

func TestCollectorCountsRequests(t *testing.T) {
	em := events.NewManager()
	p := NewPrometheusCollector(&types.MetricsConfig{Namespace: "test"}, logger.NewNop())
	require.NoError(t, p.Subscribe(em))

	emitRequest(t, em, http.MethodGet, http.StatusOK, false)
	emitRequest(t, em, http.MethodGet, http.StatusOK, false)
	emitRequest(t, em, http.MethodGet, http.StatusNotFound, true)
	emitRequest(t, em, http.MethodPost, http.StatusCreated, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.requestsTotal.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.requestsTotal.WithLabelValues("GET", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.requestsTotal.WithLabelValues("POST", "201")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.notFoundTotal))
	assert.Equal(t, 2, testutil.CollectAndCount(p.requestDuration))
}

func TestCollectorTracksServerUp(t *testing.T) {
	em := events.NewManager()
	p := NewPrometheusCollector(nil, logger.NewNop())
	require.NoError(t, p.Subscribe(em))

	ctx := context.Background()
	assert.Equal(t, 0.0, testutil.ToFloat64(p.serverUp))

	require.NoError(t, em.Emit(ctx, &types.ServerStartedEvent{}))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.serverUp))

	require.NoError(t, em.Emit(ctx, &types.ServerStoppedEvent{}))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.serverUp))
}

func TestControllerServesExposition(t *testing.T) {
	p := NewPrometheusCollector(&types.MetricsConfig{Path: "/internal/metrics"}, logger.NewNop(), WithGoMetrics())
	p.notFoundTotal.Inc()

	ctrl := p.Controller()
	assert.Equal(t, "metrics", ctrl.Name())

	routes := ctrl.Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, types.MethodGet, routes[0].Method)
	assert.Equal(t, "/internal/metrics", routes[0].Path)

	c := types.NewContext(types.Request{Method: http.MethodGet, Path: "/internal/metrics"}, nil)
	value, err := routes[0].Handler(c)
	require.NoError(t, err)
	assert.Nil(t, value)

	assert.Equal(t, types.ContentTypeMetrics, c.ResponseHeader().Get("Content-Type"))
	body, ok := c.ResponseBody().([]byte)
	require.True(t, ok)
	assert.Contains(t, string(body), "sai_webserver_not_found_total 1")
	assert.Contains(t, string(body), "# TYPE sai_webserver_server_up gauge")
	assert.Contains(t, string(body), "go_goroutines")
}
