package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetReturnsBodyAndSendsUserAgent(t *testing.T) {
	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		w.Write([]byte("tile-bytes"))
	}))
	defer srv.Close()

	c := New(Options{UserAgent: "maptiles-test/1.0", Concurrency: 2}, zap.NewNop())
	data, err := c.Get(context.Background(), srv.URL+"/1/0/0.png")
	require.NoError(t, err)
	assert.Equal(t, "tile-bytes", string(data))
	assert.Equal(t, "maptiles-test/1.0", agent.Load())
}

func TestGetNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(Options{}, zap.NewNop())
	_, err := c.Get(context.Background(), srv.URL+"/missing.png")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestGetSharesConcurrentDownloads(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte("shared"))
	}))
	defer srv.Close()

	c := New(Options{Concurrency: 4}, zap.NewNop())

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := c.Get(context.Background(), srv.URL+"/same.png")
			if err == nil {
				results[i] = string(data)
			}
		}(i)
	}

	// Give every goroutine time to join the in-flight request.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestGetHonoursCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(Options{RatePerSec: 1, Burst: 1}, zap.NewNop())
	_, err := c.Get(ctx, srv.URL+"/a.png")
	assert.Error(t, err)
}
