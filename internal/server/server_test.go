package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/workhours-merger/internal/aggregator"
	"github.com/ginjaninja78/workhours-merger/internal/pipeline"
)

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Search(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockPipeline) ClearStaging(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockPipeline) ExtractAll(ctx context.Context, files []string) []pipeline.Result {
	args := m.Called(ctx, files)
	return args.Get(0).([]pipeline.Result)
}

func (m *mockPipeline) Merge(ctx context.Context) (*aggregator.Result, map[string]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*aggregator.Result), args.Get(1).(map[string]string), args.Error(2)
}

func newTestServer(t *testing.T, p Pipeline, outputDir string) *httptest.Server {
	t.Helper()
	config := Config{
		Addr:            ":0",
		ShutdownTimeout: time.Second,
		StagingDir:      t.TempDir(),
		OutputDir:       outputDir,
		Keywords:        []string{"金子", "本間"},
		Dependencies: Dependencies{
			Pipeline: p,
			Logger:   zerolog.New(zerolog.NewTestWriter(t)),
		},
	}
	ts := httptest.NewServer(ConfigureRouter(config))
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, new(mockPipeline), t.TempDir())
	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))
}

func TestSearch(t *testing.T) {
	p := new(mockPipeline)
	p.On("Search", mock.Anything).Return([]string{"In/plan_金子.xlsx"}, nil).Once()
	p.On("Search", mock.Anything).Return(nil, errors.New("boom")).Once()
	ts := newTestServer(t, p, t.TempDir())

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/search", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"files":["In/plan_金子.xlsx"]}`, string(body))

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/search", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	p.AssertExpectations(t)
}

func TestExtract_ExplicitFiles(t *testing.T) {
	p := new(mockPipeline)
	p.On("ClearStaging", mock.Anything).Return(2, nil)
	p.On("ExtractAll", mock.Anything, []string{"a_金子.xlsx", "b_金子.xlsx"}).Return([]pipeline.Result{
		{FilePath: "a_金子.xlsx", StagedFile: "Tmp/a_金子.json", Success: true, Stats: pipeline.ProcessingStats{Records: 3}},
		{FilePath: "b_金子.xlsx", Error: errors.New("corrupt")},
	})
	ts := newTestServer(t, p, t.TempDir())

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/extract",
		`{"files":["a_金子.xlsx","b_金子.xlsx"],"clear":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []ExtractResult
	require.NoError(t, json.Unmarshal(body, &results))
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.Equal(t, 3, results[0].Records)
	assert.False(t, results[1].Success)
	assert.Equal(t, "corrupt", results[1].Error)

	p.AssertExpectations(t)
	p.AssertNotCalled(t, "Search", mock.Anything)
}

func TestExtract_SearchesWhenNoFiles(t *testing.T) {
	p := new(mockPipeline)
	p.On("Search", mock.Anything).Return([]string{"In/x_本間.xlsx"}, nil)
	p.On("ExtractAll", mock.Anything, []string{"In/x_本間.xlsx"}).Return([]pipeline.Result{
		{FilePath: "In/x_本間.xlsx", Success: true},
	})
	ts := newTestServer(t, p, t.TempDir())

	resp, _ := do(t, http.MethodPost, ts.URL+"/api/v1/extract", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	p.AssertExpectations(t)

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/v1/extract", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/extract", `{"files":["a_本間.xlsx",""]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"files must be non-empty paths"}`, string(body))
}

func TestMerge(t *testing.T) {
	p := new(mockPipeline)
	result := &aggregator.Result{Stats: aggregator.Stats{FilesMerged: 2, RowsSkipped: 1}}
	p.On("Merge", mock.Anything).Return(result, map[string]string{"金子": "Out/output_金子.json"}, nil).Once()
	p.On("Merge", mock.Anything).Return(nil, nil, errors.New("staging missing")).Once()
	ts := newTestServer(t, p, t.TempDir())

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/merge", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mr MergeResponse
	require.NoError(t, json.Unmarshal(body, &mr))
	assert.Equal(t, "Out/output_金子.json", mr.Outputs["金子"])
	assert.Equal(t, 2, mr.Files)
	assert.Equal(t, 1, mr.SkippedRows)

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/v1/merge", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestGetOutput(t *testing.T) {
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "output_金子.json"), []byte(`[]`), 0o644))
	ts := newTestServer(t, new(mockPipeline), out)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/outputs/金子", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", string(body))

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/outputs/本間", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/outputs/other", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClearStaging(t *testing.T) {
	p := new(mockPipeline)
	p.On("ClearStaging", mock.Anything).Return(4, nil)
	ts := newTestServer(t, p, t.TempDir())

	resp, body := do(t, http.MethodDelete, ts.URL+"/api/v1/staging", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"removed":4}`, string(body))
}

func TestDirLocks_SerializeSameDirectory(t *testing.T) {
	locks := newDirLocks()
	dir := t.TempDir()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(dir)
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)

	// Different directories do not block each other.
	unlockA := locks.lock(filepath.Join(dir, "a"))
	unlockB := locks.lock(filepath.Join(dir, "b"))
	unlockB()
	unlockA()
}

func TestWebAPI_StartStopsOnCancel(t *testing.T) {
	api := NewWebAPI(Config{
		Addr:            "127.0.0.1:0",
		ShutdownTimeout: time.Second,
		StagingDir:      t.TempDir(),
		Dependencies: Dependencies{
			Pipeline: new(mockPipeline),
			Logger:   zerolog.Nop(),
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- api.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
