package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koustreak/edasync/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, url string, timeout time.Duration, online bool) *Client {
	t.Helper()
	c, err := New(&Config{
		BaseURL:      url,
		Timeout:      timeout,
		Connectivity: ConnectivityFunc(func() bool { return online }),
	})
	require.NoError(t, err)
	return c
}

// slowOnce stalls the first n requests past the client timeout.
func slowOnce(n int32, hits *atomic.Int32, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= n {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestDo_RetriesAfterTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(slowOnce(1, &hits, `{"success":true,"summary":{}}`))
	defer srv.Close()

	c := newClient(t, srv.URL, 100*time.Millisecond, true)
	env, err := Call(context.Background(), c, Request{Method: http.MethodGet, Path: "/summary-data", Retries: 2}, DecodeEnvelope)
	require.NoError(t, err)
	assert.True(t, env.Get("summary").IsObject())
	assert.Equal(t, int32(2), hits.Load(), "one timed-out attempt plus one success")
}

func TestDo_TimeoutExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(slowOnce(10, &hits, `{}`))
	defer srv.Close()

	c := newClient(t, srv.URL, 50*time.Millisecond, true)
	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/report", Retries: 1})
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))
	assert.Contains(t, errs.UserMessage(err), "timed out after 50ms")
	assert.Equal(t, int32(2), hits.Load())
}

func TestDo_ServerErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"disk full"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, time.Second, true)
	resp, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/upload", Retries: 3})
	require.Error(t, err)
	assert.True(t, errs.IsServer(err))
	assert.Equal(t, "disk full", errs.UserMessage(err))
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestServerError_MessagePriority(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"error field", 400, `{"error":"Invalid file type. Only .csv and .xlsx allowed."}`, "Invalid file type. Only .csv and .xlsx allowed."},
		{"json without error field", 500, `{"detail":"x"}`, `{"detail":"x"}`},
		{"raw text trimmed", 502, "  Bad gateway from proxy \n", "Bad gateway from proxy"},
		{"empty body", 503, "", "Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ServerError(&Response{StatusCode: tt.status, Body: []byte(tt.body)})
			assert.Equal(t, tt.want, err.Message)
			assert.Equal(t, tt.status, err.Status)
		})
	}
}

func TestDo_NetworkErrorOfflineAware(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	offline := newClient(t, url, time.Second, false)
	_, err := offline.Do(context.Background(), Request{Method: http.MethodGet, Path: "/summary-data", Retries: 2})
	require.Error(t, err)
	assert.Equal(t, errs.ErrKindNetwork, errs.KindOf(err))
	assert.Equal(t, msgOffline, errs.UserMessage(err))

	online := newClient(t, url, time.Second, true)
	_, err = online.Do(context.Background(), Request{Method: http.MethodGet, Path: "/summary-data"})
	require.Error(t, err)
	assert.Equal(t, msgNetwork, errs.UserMessage(err))
}

func TestDo_CallerCancelIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(slowOnce(10, &hits, `{}`))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	c := newClient(t, srv.URL, 5*time.Second, true)
	_, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/summary-data", Retries: 5})
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))
	assert.Equal(t, msgAborted, errs.UserMessage(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestDo_SendsRequestIDAndBody(t *testing.T) {
	var gotID, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get(RequestIDHeader)
		gotType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL+"/", time.Second, true)
	resp, err := c.Do(context.Background(), Request{
		Method:      http.MethodPost,
		Path:        "/charts",
		Body:        []byte(`{"filename":"a.csv"}`),
		ContentType: "application/json",
		RequestID:   "req-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, "req-1", gotID)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, `{"filename":"a.csv"}`, gotBody)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(&Config{BaseURL: "not a url"})
	require.Error(t, err)
	assert.Equal(t, errs.ErrKindConfig, errs.KindOf(err))

	_, err = New(nil)
	require.Error(t, err)
}
