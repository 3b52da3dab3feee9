package common

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerindex/gateway/config"
	"github.com/ledgerindex/gateway/log"
)

func TestProfilingServiceServesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &config.MetricsConfig{PullEndpoint: "127.0.0.1:0", PprofEndpoint: "127.0.0.1:0"}
	addr, err := newProfilingService(cfg, log.NewDiscardLogger()).start(ctx)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/debug/pprof/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "goroutine")

	// Profiles are only served under /debug/pprof/.
	resp, err = http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/debug/pprof/")
		if err == nil {
			resp.Body.Close()
		}
		return err != nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestProfilingServiceRejectsBusyEndpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &config.MetricsConfig{PprofEndpoint: "127.0.0.1:0"}
	addr, err := newProfilingService(cfg, log.NewDiscardLogger()).start(ctx)
	require.NoError(t, err)

	cfg.PprofEndpoint = addr
	_, err = newProfilingService(cfg, log.NewDiscardLogger()).start(ctx)
	require.Error(t, err)
}
