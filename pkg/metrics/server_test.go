package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func httpGet(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

// runServer serves in the background until test cleanup and fails the test
// if the run loop ends with anything but a cancellation.
func runServer(t *testing.T, server *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for the metrics server to stop")
		}
	})
	// Give the server time to start.
	time.Sleep(50 * time.Millisecond)
}

func TestNewServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	server := NewServer(zap.NewNop().Sugar(), ":0", reg)

	require.NotNil(t, server)
	require.NotNil(t, server.httpServer)
	require.Equal(t, ":0", server.httpServer.Addr)
}

func TestServer_RunAndShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	server := NewServer(zap.NewNop().Sugar(), "127.0.0.1:19090", reg)
	runServer(t, server)

	resp, err := httpGet(context.Background(), "http://127.0.0.1:19090/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
}

func TestServer_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	// Touch a few metrics so the exposition has content.
	m.UpdateWindowMetrics(1000, 120)
	m.IncLoadStarted()
	m.IncConsistencyRetry()

	server := NewServer(zap.NewNop().Sugar(), "127.0.0.1:19091", reg)
	runServer(t, server)

	resp, err := httpGet(context.Background(), "http://127.0.0.1:19091/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	bodyStr := string(body)
	require.Contains(t, bodyStr, "pagestream_total_size")
	require.Contains(t, bodyStr, "pagestream_window_keys")
	require.Contains(t, bodyStr, "pagestream_pager_loads_started_total")
	require.Contains(t, bodyStr, "pagestream_mediator_consistency_retries_total")
}

func TestServer_AddrInUse(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewServer(zap.NewNop().Sugar(), "127.0.0.1:19092", reg)
	runServer(t, first)

	// A second server on the same address must fail out of Run directly.
	second := NewServer(zap.NewNop().Sugar(), "127.0.0.1:19092", reg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := second.Run(ctx)
	require.Error(t, err)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
}
