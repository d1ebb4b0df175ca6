package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koustreak/edasync/internal/backend"
	"github.com/koustreak/edasync/internal/charts"
	"github.com/koustreak/edasync/internal/errs"
	"github.com/koustreak/edasync/internal/filestore"
	"github.com/koustreak/edasync/internal/filestore/local"
	"github.com/koustreak/edasync/internal/summary"
	"github.com/koustreak/edasync/internal/transport"
	"github.com/koustreak/edasync/internal/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	uploadOK  = `{"success":true,"summary":{"shape":[100,3],"columns":["a","b","c"],"data_types":{"a":"int64"},"missing_values":{},"unique_counts":{}}}`
	uploadTwo = `{"success":true,"summary":{"shape":[7,2],"columns":["x","y"],"data_types":{},"missing_values":{},"unique_counts":{},"file_info":{"filename":"second.csv","size_readable":"1 KB"}}}`
	png       = "iVBORw0KGgo="
)

// fakeBackend serves canned routes and counts hits per path.
type fakeBackend struct {
	mu     sync.Mutex
	hits   map[string]int
	routes map[string]http.HandlerFunc
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	f.mu.Lock()
	f.hits[r.URL.Path]++
	h, ok := f.routes[r.URL.Path]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"no route"}`)
		return
	}
	h(w, r)
}

func (f *fakeBackend) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func reply(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

type harness struct {
	ctl     *Controller
	backend *fakeBackend
}

func newHarness(t *testing.T, routes map[string]http.HandlerFunc, timeout time.Duration, mutate func(*Config)) *harness {
	t.Helper()
	fb := &fakeBackend{hits: map[string]int{}, routes: routes}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	tc, err := transport.New(&transport.Config{
		BaseURL:      srv.URL,
		Timeout:      timeout,
		Connectivity: transport.ConnectivityFunc(func() bool { return true }),
	})
	require.NoError(t, err)

	store, err := local.New(filestore.DefaultConfig(t.TempDir()))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.AutoCharts = false
	if mutate != nil {
		mutate(cfg)
	}
	ctl, err := New(backend.New(tc, backend.DefaultRetries()), store, cfg)
	require.NoError(t, err)
	return &harness{ctl: ctl, backend: fb}
}

// sizedFile claims a size without holding the bytes.
type sizedFile struct {
	name string
	size int64
}

func (f sizedFile) Name() string { return f.name }
func (f sizedFile) Size() int64  { return f.size }
func (f sizedFile) Open() (io.ReadCloser, error) {
	return nil, errors.New("must not be opened")
}

func cardValue(t *testing.T, c *Controller, id string) string {
	t.Helper()
	for _, card := range c.Snapshot().Page.Cards {
		if card.ID == id {
			return card.Value
		}
	}
	t.Fatalf("card %q not found", id)
	return ""
}

func tableColumns(c *Controller) []string {
	var cols []string
	for _, r := range c.Snapshot().Page.Table.Rows {
		cols = append(cols, r.Column)
	}
	return cols
}

func TestRenderSummary_EveryColumnOnce(t *testing.T) {
	h := newHarness(t, nil, time.Second, nil)

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"minimal", `{"shape":[100,3],"columns":["a","b","c"],"data_types":{"a":"int64"},"missing_values":{},"unique_counts":{}}`, []string{"a", "b", "c"}},
		{"no optional maps", `{"shape":[0,2],"columns":["x","y"]}`, []string{"x", "y"}},
		{"duplicate names", `{"shape":[1,3],"columns":["a","b","a"],"missing_values":{"zzz":4}}`, []string{"a", "b"}},
		{"empty", `{"shape":[0,0],"columns":[]}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := summary.Decode([]byte(tt.raw))
			require.NoError(t, err)
			require.NoError(t, h.ctl.RenderSummary(s))
			assert.Equal(t, tt.want, tableColumns(h.ctl))
		})
	}
}

func TestRenderSummary_IsFullReplace(t *testing.T) {
	h := newHarness(t, nil, time.Second, nil)
	s, err := summary.Decode([]byte(`{"shape":[3,2],"columns":["a","b"],"sample_data":[{"a":1,"b":"x"}]}`))
	require.NoError(t, err)

	require.NoError(t, h.ctl.RenderSummary(s))
	first := h.ctl.Snapshot().Page
	require.NoError(t, h.ctl.RenderSummary(s))
	second := h.ctl.Snapshot().Page

	assert.Equal(t, first.Table, second.Table)
	assert.Equal(t, first.Preview, second.Preview)
	assert.Len(t, second.Table.Rows, 2)
}

func TestRenderSummary_PanicKeepsPreviousView(t *testing.T) {
	h := newHarness(t, nil, time.Second, nil)
	s, err := summary.Decode([]byte(`{"shape":[5,1],"columns":["a"]}`))
	require.NoError(t, err)
	require.NoError(t, h.ctl.RenderSummary(s))

	h.ctl.build = func(*summary.DatasetSummary) rendered { panic("bad data") }

	assert.NotPanics(t, func() {
		err = h.ctl.RenderSummary(s)
	})
	require.Error(t, err)
	assert.Equal(t, errs.ErrKindRender, errs.KindOf(err))
	assert.Equal(t, "5", cardValue(t, h.ctl, view.CardRows))
	assert.Equal(t, []string{"a"}, tableColumns(h.ctl))
}

func TestUpload_RejectsWrongExtension(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/upload": reply(uploadOK)}, time.Second, nil)

	_, err := h.ctl.UploadAndRefresh(context.Background(), NewMemoryFile("x.txt", []byte("hello")))
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, 0, h.backend.count("/upload"))

	snap := h.ctl.Snapshot()
	assert.Equal(t, view.LevelError, snap.Page.Status.Level)
	assert.Contains(t, snap.Page.Status.Message, "x.txt")
	assert.Equal(t, StateEmpty, snap.State)
}

func TestUpload_ExtensionIsCaseInsensitive(t *testing.T) {
	h := newHarness(t, nil, time.Second, nil)
	assert.NoError(t, h.ctl.ValidateFile(sizedFile{name: "DATA.XLSX", size: 10}))
	assert.NoError(t, h.ctl.ValidateFile(sizedFile{name: "data.Csv", size: 10}))
	assert.Error(t, h.ctl.ValidateFile(sizedFile{name: "csv", size: 10}))
}

func TestUpload_SizeLimit(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/upload": reply(uploadOK)}, 5*time.Second, nil)

	_, err := h.ctl.UploadAndRefresh(context.Background(), sizedFile{name: "big.csv", size: 11 << 20})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, 0, h.backend.count("/upload"))

	nine := make([]byte, 9<<20)
	for i := range nine {
		nine[i] = 'a'
	}
	s, err := h.ctl.UploadAndRefresh(context.Background(), NewMemoryFile("ok.csv", nine))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 1, h.backend.count("/upload"))
}

func TestUpload_SuccessUpdatesCards(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/upload": reply(uploadOK)}, time.Second, nil)

	s, err := h.ctl.UploadAndRefresh(context.Background(), NewMemoryFile("sales.csv", []byte("a,b,c\n1,2,3\n")))
	require.NoError(t, err)
	assert.Same(t, s, h.ctl.Current())

	assert.Equal(t, "100", cardValue(t, h.ctl, view.CardRows))
	assert.Equal(t, "3", cardValue(t, h.ctl, view.CardColumns))
	assert.Equal(t, StateReady, h.ctl.State())
	assert.Equal(t, view.LevelSuccess, h.ctl.Snapshot().Page.Status.Level)
}

func TestUpload_ServerErrorKeepsPreviousSummary(t *testing.T) {
	fail := false
	var mu sync.Mutex
	h := newHarness(t, map[string]http.HandlerFunc{
		"/upload": func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = io.WriteString(w, `{"error":"disk full"}`)
				return
			}
			_, _ = io.WriteString(w, uploadOK)
		},
	}, time.Second, nil)

	ctx := context.Background()
	before, err := h.ctl.UploadAndRefresh(ctx, NewMemoryFile("a.csv", []byte("a\n1\n")))
	require.NoError(t, err)

	mu.Lock()
	fail = true
	mu.Unlock()

	s, err := h.ctl.UploadAndRefresh(ctx, NewMemoryFile("b.csv", []byte("a\n1\n")))
	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, errs.IsServer(err))

	snap := h.ctl.Snapshot()
	assert.Equal(t, "disk full", snap.Page.Status.Message)
	assert.Equal(t, view.LevelError, snap.Page.Status.Level)
	assert.Equal(t, StateError, snap.State)
	assert.Same(t, before, h.ctl.Current())
	assert.Equal(t, "100", cardValue(t, h.ctl, view.CardRows))
}

func TestUpload_RetriesOnceAfterTimeout(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	h := newHarness(t, map[string]http.HandlerFunc{
		"/upload": func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n == 1 {
				select {
				case <-r.Context().Done():
				case <-time.After(3 * time.Second):
				}
				return
			}
			_, _ = io.WriteString(w, uploadOK)
		},
	}, 150*time.Millisecond, nil)

	s, err := h.ctl.UploadAndRefresh(context.Background(), NewMemoryFile("a.csv", []byte("a\n1\n")))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 2, h.backend.count("/upload"))
}

func TestUpload_BusyWhileInFlight(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h := newHarness(t, map[string]http.HandlerFunc{
		"/upload": func(w http.ResponseWriter, r *http.Request) {
			once.Do(func() { close(arrived) })
			<-release
			_, _ = io.WriteString(w, uploadOK)
		},
	}, 5*time.Second, nil)

	done := make(chan error, 1)
	go func() {
		_, err := h.ctl.UploadAndRefresh(context.Background(), NewMemoryFile("a.csv", []byte("a\n1\n")))
		done <- err
	}()
	<-arrived
	assert.Equal(t, StateUploading, h.ctl.State())

	_, err := h.ctl.UploadAndRefresh(context.Background(), NewMemoryFile("b.csv", []byte("a\n1\n")))
	require.Error(t, err)
	assert.True(t, errs.IsBusy(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.backend.count("/upload"))
	assert.Equal(t, StateReady, h.ctl.State())
}

func TestUpload_AutoChartsClearsAndRefetches(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"/upload": reply(uploadTwo),
		"/charts": reply(`{"success":true,"charts":{"correlation_heatmap":"` + png + `"}}`),
	}, time.Second, func(c *Config) { c.AutoCharts = true })

	_, err := h.ctl.UploadAndRefresh(context.Background(), NewMemoryFile("second.csv", []byte("x,y\n1,2\n")))
	require.NoError(t, err)

	snap := h.ctl.Snapshot()
	assert.Equal(t, "second.csv", snap.Page.ChartsFor)
	require.Len(t, snap.Page.Charts, 1)
	assert.Equal(t, "correlation_heatmap", snap.Page.Charts[0].ID)
	assert.Equal(t, 1, h.backend.count("/charts"))
}

func TestLoadInitialSummary(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/summary-data": reply(uploadTwo)}, time.Second, nil)

	s := h.ctl.LoadInitialSummary(context.Background())
	require.NotNil(t, s)
	assert.Equal(t, "7", cardValue(t, h.ctl, view.CardRows))
	assert.Equal(t, StateReady, h.ctl.State())
	assert.Empty(t, h.ctl.Snapshot().Page.Status.Message)
}

func TestLoadInitialSummary_RenderFailureStillReady(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/summary-data": reply(uploadTwo)}, time.Second, nil)
	h.ctl.build = func(*summary.DatasetSummary) rendered { panic("bad data") }

	s := h.ctl.LoadInitialSummary(context.Background())
	require.NotNil(t, s)
	assert.Same(t, s, h.ctl.Current())
	assert.Equal(t, StateReady, h.ctl.State())
	assert.Equal(t, "-", cardValue(t, h.ctl, view.CardRows))
}

func TestLoadInitialSummary_FailureIsSilent(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"/summary-data": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"No data uploaded yet"}`)
		},
	}, time.Second, nil)

	assert.Nil(t, h.ctl.LoadInitialSummary(context.Background()))
	snap := h.ctl.Snapshot()
	assert.Equal(t, StateEmpty, snap.State)
	assert.Empty(t, snap.Page.Status.Message)
	assert.Equal(t, "-", cardValue(t, h.ctl, view.CardRows))
}

func TestLoadInitialSummary_StaleResultDiscarded(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, map[string]http.HandlerFunc{
		"/summary-data": func(w http.ResponseWriter, r *http.Request) {
			close(arrived)
			<-release
			_, _ = io.WriteString(w, uploadTwo)
		},
		"/upload": reply(uploadOK),
	}, 5*time.Second, nil)

	loaded := make(chan *summary.DatasetSummary, 1)
	go func() { loaded <- h.ctl.LoadInitialSummary(context.Background()) }()
	<-arrived

	uploaded, err := h.ctl.UploadAndRefresh(context.Background(), NewMemoryFile("a.csv", []byte("a\n1\n")))
	require.NoError(t, err)
	close(release)

	assert.Nil(t, <-loaded)
	assert.Same(t, uploaded, h.ctl.Current())
	assert.Equal(t, "100", cardValue(t, h.ctl, view.CardRows))
}

func TestFetchCharts_Selection(t *testing.T) {
	payload := `{"success":true,"charts":{` +
		`"correlation_heatmap":"` + png + `",` +
		`"scatter__a__b":"` + png + `",` +
		`"scatter__a__c":"` + png + `",` +
		`"a":{"histogram":"` + png + `"}}}`
	h := newHarness(t, map[string]http.HandlerFunc{"/charts": reply(payload)}, time.Second, nil)

	got, err := h.ctl.FetchCharts(context.Background(), "sales.csv")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, charts.KindHeatmap, got[0].Kind)
	assert.Equal(t, charts.KindScatter, got[1].Kind)
	assert.Equal(t, [2]string{"a", "b"}, got[1].Pair)
	assert.Equal(t, charts.KindHistogram, got[2].Kind)
}

func TestFetchCharts_CachedPerFilename(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"/charts": reply(`{"success":true,"charts":{"correlation_heatmap":"` + png + `"}}`),
	}, time.Second, nil)
	ctx := context.Background()

	_, err := h.ctl.FetchCharts(ctx, "sales.csv")
	require.NoError(t, err)
	_, err = h.ctl.FetchCharts(ctx, "sales.csv")
	require.NoError(t, err)
	assert.Equal(t, 1, h.backend.count("/charts"))

	_, err = h.ctl.RefreshCharts(ctx, "sales.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, h.backend.count("/charts"))

	_, err = h.ctl.FetchCharts(ctx, "other.csv")
	require.NoError(t, err)
	assert.Equal(t, 3, h.backend.count("/charts"))
}

func TestFetchCharts_CanceledCallerDoesNotAbortSharedFetch(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }

	h := newHarness(t, map[string]http.HandlerFunc{
		"/charts": func(w http.ResponseWriter, r *http.Request) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			reply(`{"success":true,"charts":{"correlation_heatmap":"` + png + `"}}`)(w, r)
		},
	}, 5*time.Second, nil)
	t.Cleanup(unblock)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := h.ctl.FetchCharts(first, "sales.csv")
		firstErr <- err
	}()
	<-started

	type result struct {
		charts []charts.Chart
		err    error
	}
	second := make(chan result, 1)
	go func() {
		got, err := h.ctl.FetchCharts(context.Background(), "sales.csv")
		second <- result{got, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	err := <-firstErr
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))

	unblock()
	res := <-second
	require.NoError(t, res.err)
	require.Len(t, res.charts, 1)
	assert.Equal(t, 1, h.backend.count("/charts"))
	assert.Equal(t, "sales.csv", h.ctl.Snapshot().Page.ChartsFor)
}

func TestFetchCharts_NoFile(t *testing.T) {
	h := newHarness(t, nil, time.Second, nil)
	_, err := h.ctl.FetchCharts(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, 0, h.backend.count("/charts"))
}

func TestDownloadReport_SavesUnderAttachmentName(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"/upload": reply(uploadTwo),
		"/report": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Content-Disposition", `attachment; filename="../EDA_Report_second.html"`)
			_, _ = io.WriteString(w, "<!DOCTYPE html><html><body>report</body></html>")
		},
	}, time.Second, nil)
	ctx := context.Background()

	_, err := h.ctl.UploadAndRefresh(ctx, NewMemoryFile("second.csv", []byte("x,y\n1,2\n")))
	require.NoError(t, err)

	art, err := h.ctl.DownloadReport(ctx, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "EDA_Report_second.html", art.Object.Key)
	assert.True(t, strings.HasPrefix(art.URL, "file://"), art.URL)

	obj, err := h.ctl.store.GetObject(ctx, art.Bucket, art.Object.Key)
	require.NoError(t, err)
	defer obj.Close()
	body, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Contains(t, string(body), "report")
	assert.Equal(t, view.LevelSuccess, h.ctl.Snapshot().Page.Status.Level)
}

func TestDownloadReport_DefaultNameAndNoSummary(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"/report": reply("<html></html>"),
	}, time.Second, nil)
	h.ctl.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }
	ctx := context.Background()

	_, err := h.ctl.DownloadReport(ctx, nil, "")
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, 0, h.backend.count("/report"))

	s, err := summary.Decode([]byte(`{"shape":[1,1],"columns":["a"]}`))
	require.NoError(t, err)
	art, err := h.ctl.DownloadReport(ctx, s, "a.csv")
	require.NoError(t, err)
	assert.Equal(t, "EDA_Report_20240301_093000.html", art.Object.Key)
}

func TestDownloadCleaned(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"/download-cleaned": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/csv")
			_, _ = io.WriteString(w, "a,b\n1,2\n")
		},
	}, time.Second, nil)

	art, err := h.ctl.DownloadCleaned(context.Background(), "sales.csv")
	require.NoError(t, err)
	assert.Equal(t, "cleaned_sales.csv", art.Object.Key)
	assert.Equal(t, int64(8), art.Object.Size)
}

func TestDownloadCleaned_ServerMessage(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"/download-cleaned": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, "File not found")
		},
	}, time.Second, nil)

	_, err := h.ctl.DownloadCleaned(context.Background(), "gone.csv")
	require.Error(t, err)
	assert.Equal(t, "File not found", h.ctl.Snapshot().Page.Status.Message)
}

func TestSetTableFilter_SurvivesRender(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/upload": reply(uploadOK)}, time.Second, nil)
	h.ctl.SetTableFilter("  INT ")

	_, err := h.ctl.UploadAndRefresh(context.Background(), NewMemoryFile("a.csv", []byte("a\n1\n")))
	require.NoError(t, err)

	table := h.ctl.Snapshot().Page.Table
	assert.Equal(t, "INT", table.Filter)
	assert.Equal(t, 3, table.Total)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "a", table.Rows[0].Column)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "r.html", safeName("../../r.html", "x"))
	assert.Equal(t, "r.html", safeName(`C:\tmp\r.html`, "x"))
	assert.Equal(t, "x", safeName("", "x"))
	assert.Equal(t, "x", safeName("..", "x"))
}
