package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koustreak/edasync/internal/errs"
	"github.com/koustreak/edasync/internal/summary"
	"github.com/koustreak/edasync/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const summaryJSON = `{"shape":[100,3],"columns":["a","b","c"],"data_types":{"a":"int64","b":"float64","c":"object"},` +
	`"missing_values":{"a":0,"b":2,"c":0},"unique_counts":{"a":100,"b":80,"c":4},"file_info":{"filename":"sales.csv","size_readable":"9.00 MB"}}`

func newBackend(t *testing.T, h http.Handler, retries Retries) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	tc, err := transport.New(&transport.Config{
		BaseURL:      srv.URL,
		Timeout:      time.Second,
		Connectivity: transport.ConnectivityFunc(func() bool { return true }),
	})
	require.NoError(t, err)
	return New(tc, retries)
}

func TestSummary(t *testing.T) {
	c := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, PathSummary, r.URL.Path)
		assert.Equal(t, "req-1", r.Header.Get(transport.RequestIDHeader))
		_, _ = io.WriteString(w, `{"success":true,"summary":`+summaryJSON+`}`)
	}), DefaultRetries())

	s, err := c.Summary(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), s.RowCount())
	assert.Equal(t, "sales.csv", s.Filename())
}

func TestSummary_NotFound(t *testing.T) {
	c := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"success":false,"error":"No data uploaded yet"}`)
	}), DefaultRetries())

	_, err := c.Summary(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
	assert.Equal(t, "No data uploaded yet", errs.UserMessage(err))
}

func TestSummary_MissingSummaryIsProtocolError(t *testing.T) {
	c := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true}`)
	}), DefaultRetries())

	_, err := c.Summary(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errs.IsProtocol(err))
}

func TestUpload_SendsMultipartFile(t *testing.T) {
	var hits atomic.Int32
	c := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, PathUpload, r.URL.Path)

		f, hdr, err := r.FormFile(FileField)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, `q"1.csv`, hdr.Filename)
		assert.Equal(t, "a,b,c\n1,2,3\n", string(data))

		_, _ = io.WriteString(w, `{"success":true,"summary":`+summaryJSON+`}`)
	}), DefaultRetries())

	s, err := c.Upload(context.Background(), "", `q"1.csv`, []byte("a,b,c\n1,2,3\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.ColumnCount())
	assert.Equal(t, int32(1), hits.Load())
}

func TestUpload_ServerError(t *testing.T) {
	c := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"success":false,"error":"disk full"}`)
	}), DefaultRetries())

	_, err := c.Upload(context.Background(), "", "x.csv", []byte("a\n1\n"))
	require.Error(t, err)
	assert.True(t, errs.IsServer(err))
	assert.Equal(t, "disk full", errs.UserMessage(err))
}

func TestCharts(t *testing.T) {
	c := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Filename string `json:"filename"`
			Limit    int    `json:"limit"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sales.csv", body.Filename)
		assert.Equal(t, 4, body.Limit)

		_, _ = io.WriteString(w, `{"success":true,"charts":{"correlation_heatmap":"iVBORw0KGgo=","scatter__a__b":"iVBORw0KGgo=","broken":"%%%"}}`)
	}), DefaultRetries())

	set, err := c.Charts(context.Background(), "", "sales.csv", 4)
	require.NoError(t, err)
	require.Len(t, set.Charts, 2)
	assert.Equal(t, "correlation_heatmap", set.Charts[0].Key)
	assert.Equal(t, []string{"broken"}, set.Skipped)
}

func TestCharts_MissingChartsObject(t *testing.T) {
	c := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"charts":[]}`)
	}), DefaultRetries())

	_, err := c.Charts(context.Background(), "", "sales.csv", 4)
	require.Error(t, err)
	assert.True(t, errs.IsProtocol(err))
}

func TestReport_SendsSummaryVerbatim(t *testing.T) {
	s, err := summary.Decode([]byte(summaryJSON))
	require.NoError(t, err)

	c := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathReport, r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(raw), `"summary":`+summaryJSON)
		assert.Contains(t, string(raw), `"filename":"sales.csv"`)

		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Disposition", `attachment; filename="EDA_Report_sales.html"`)
		_, _ = io.WriteString(w, "<html>report</html>")
	}), DefaultRetries())

	blob, err := c.Report(context.Background(), "", s, "sales.csv")
	require.NoError(t, err)
	assert.Equal(t, "EDA_Report_sales.html", blob.Filename)
	assert.Equal(t, "<html>report</html>", string(blob.Data))
}

func TestCleaned_RetriesOnTimeout(t *testing.T) {
	var hits atomic.Int32
	c := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(3 * time.Second):
			}
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, "a,b\n1,2\n")
	}), Retries{Cleaned: 1})

	blob, err := c.Cleaned(context.Background(), "", "sales.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(blob.Data))
	assert.Equal(t, int32(2), hits.Load())
}

func TestCleaned_JSONFailure(t *testing.T) {
	c := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":false,"error":"File not found"}`)
	}), DefaultRetries())

	_, err := c.Cleaned(context.Background(), "", "gone.csv")
	require.Error(t, err)
	assert.True(t, errs.IsProtocol(err))
	assert.Equal(t, "File not found", errs.UserMessage(err))
}
