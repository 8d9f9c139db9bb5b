package health

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-webserver/events"
	"github.com/saiset-co/sai-webserver/logger"
	"github.com/saiset-co/sai-webserver/types"
)

func healthy(context.Context) Check {
	return Check{Status: StatusHealthy}
}

func startedManager(t *testing.T) (*Manager, *events.Manager) {
	t.Helper()

	em := events.NewManager()
	hm := NewManager("inventory", "1.0.0", logger.NewNop())
	require.NoError(t, hm.Subscribe(em))
	require.NoError(t, em.Emit(context.Background(), &types.ServerStartedEvent{}))
	return hm, em
}

func TestCheckFollowsServerLifecycle(t *testing.T) {
	em := events.NewManager()
	hm := NewManager("inventory", "1.0.0", logger.NewNop())
	require.NoError(t, hm.Subscribe(em))

	assert.Equal(t, StatusUnhealthy, hm.Check(context.Background()).Status)

	require.NoError(t, em.Emit(context.Background(), &types.ServerStartedEvent{}))
	assert.True(t, hm.IsRunning())

	report := hm.Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, "inventory", report.Service)
	assert.Equal(t, "1.0.0", report.Version)

	require.NoError(t, em.Emit(context.Background(), &types.ServerStoppedEvent{}))
	assert.False(t, hm.IsRunning())
	assert.Equal(t, StatusUnhealthy, hm.Check(context.Background()).Status)
}

func TestCheckAggregatesCheckers(t *testing.T) {
	hm, _ := startedManager(t)
	hm.RegisterChecker("cache", healthy)
	hm.RegisterChecker("db", func(context.Context) Check {
		return Check{Status: StatusUnhealthy, Message: "connection refused"}
	})

	report := hm.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "cache", report.Checks["cache"].Name)
	assert.Equal(t, StatusHealthy, report.Checks["cache"].Status)
	assert.Equal(t, "connection refused", report.Checks["db"].Message)
}

func TestCheckRecoversPanicsAndTimeouts(t *testing.T) {
	hm, _ := startedManager(t)
	hm.checkTimeout = 20 * time.Millisecond

	hm.RegisterChecker("panics", func(context.Context) Check {
		panic("boom")
	})
	hm.RegisterChecker("slow", func(ctx context.Context) Check {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return Check{Status: StatusHealthy}
	})

	report := hm.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, "health check panicked: boom", report.Checks["panics"].Message)
	assert.Equal(t, "health check timeout", report.Checks["slow"].Message)
}

func TestControllerRoutes(t *testing.T) {
	hm, _ := startedManager(t)
	ctrl := hm.Controller()

	routes := ctrl.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, "/health", routes[0].Path)
	assert.Equal(t, "/version", routes[1].Path)

	c := types.NewContext(types.Request{Method: http.MethodGet, Path: "/health"}, nil)
	value, err := routes[0].Handler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, c.Status())
	assert.Equal(t, StatusHealthy, value.(Report).Status)
	assert.Equal(t, "no-cache, no-store, must-revalidate", c.ResponseHeader().Get("Cache-Control"))

	hm.RegisterChecker("down", func(context.Context) Check { return Check{Status: StatusUnhealthy} })
	failing := types.NewContext(types.Request{Method: http.MethodGet, Path: "/health"}, nil)
	_, err = routes[0].Handler(failing)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, failing.Status())

	t.Setenv("BUILD_VERSION", "")
	info, err := routes[1].Handler(types.NewContext(types.Request{Method: http.MethodGet, Path: "/version"}, nil))
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", info.(BuildInfo).Version)
}

func TestReadBuildInfoPrefersEnvironment(t *testing.T) {
	t.Setenv("BUILD_VERSION", "2.0.0")
	t.Setenv("BUILD_COMMIT", "0123456789abcdef")
	t.Setenv("BUILD_TIME", "2026-01-02T03:04:05Z")

	info := ReadBuildInfo("1.0.0")
	assert.Equal(t, "2.0.0", info.Version)
	assert.Equal(t, "0123456", info.GitCommit)
	assert.Equal(t, 2026, info.BuildTime.Year())
	assert.NotEmpty(t, info.GoVersion)
}

func TestReadBuildInfoDefaultsToDev(t *testing.T) {
	t.Setenv("BUILD_VERSION", "")
	assert.Equal(t, "dev", ReadBuildInfo("").Version)
}

func TestMergeBuildInfoFile(t *testing.T) {
	info := BuildInfo{Version: "1.0.0"}
	mergeBuildInfoFile(&info, "# generated\nVERSION=3.1.0\nGIT_COMMIT = abc\nBUILD_TIME=2025-05-06T07:08:09Z\ngarbage\n")

	assert.Equal(t, "3.1.0", info.Version)
	assert.Equal(t, "abc", info.GitCommit)
	assert.Equal(t, time.May, info.BuildTime.Month())
}
