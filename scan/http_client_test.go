package scan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fetchBatchJSON = `{"robotId":"vacuum","batchId":"b1","correspondences":[
 {"p":{"x":1,"y":0},"pi":{"x":1,"y":0},"normal":{"x":1,"y":0}},
 {"p":{"x":0,"y":1},"pi":{"x":0,"y":1},"normal":{"x":0,"y":1}}]}`

func TestIsBatchURL(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"http://robot.local/batch", true},
		{"https://robot.local/batch", true},
		{"batch.json", false},
		{"/tmp/http/batch.json", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBatchURL(tt.source))
		})
	}
}

func TestFetchBatch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept"), "application/json")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fetchBatchJSON))
	}))
	defer srv.Close()

	batch, err := FetchBatch(context.Background(), srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	assert.Equal(t, "vacuum", batch.RobotID)
	assert.Equal(t, "b1", batch.BatchID)
	assert.Len(t, batch.Correspondences, 2)
}

func TestFetchBatch_EmptyURL(t *testing.T) {
	_, err := FetchBatch(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "URL is empty")
}

func TestFetchBatch_InvalidBodyNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := FetchBatch(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()), WithBaseBackoff(time.Millisecond))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding batch")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestFetchBatch_ServerErrorRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(fetchBatchJSON))
	}))
	defer srv.Close()

	batch, err := FetchBatch(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()), WithBaseBackoff(time.Millisecond))
	require.NoError(t, err)
	assert.Len(t, batch.Correspondences, 2)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestFetchBatch_AllAttemptsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := FetchBatch(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()), WithMaxRetries(2), WithBaseBackoff(time.Millisecond))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 attempts failed")
	assert.Contains(t, err.Error(), "status 404")
}

func TestFetchBatch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchBatch(ctx, srv.URL,
		WithHTTPClient(srv.Client()), WithBaseBackoff(time.Second))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "context canceled"), err.Error())
}

func TestFetchBatch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	_, err := FetchBatch(context.Background(), srv.URL,
		WithTimeout(20*time.Millisecond), WithMaxRetries(1))
	require.Error(t, err)
}
