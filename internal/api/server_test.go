// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umlgrade/umlgrade/internal/cache"
	"github.com/umlgrade/umlgrade/internal/config"
	"github.com/umlgrade/umlgrade/internal/tasks"
)

type noopProcessor struct{}

func (noopProcessor) Process(context.Context, *tasks.Task) error { return nil }

type fakeProber struct{ err error }

func (p fakeProber) Probe(context.Context) error { return p.err }

type testServer struct {
	srv     *Server
	store   tasks.Store
	dataDir string
	http    *httptest.Server
}

func newTestServer(t *testing.T, mutate func(*config.AppConfig)) *testServer {
	t.Helper()

	dataDir := t.TempDir()
	cfg := config.AppConfig{
		Version: "test",
		DataDir: dataDir,
		Workers: 2,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	store, err := tasks.Open("json", filepath.Join(dataDir, "tasks.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	queue := tasks.NewQueue(store, noopProcessor{}, cfg.Workers)
	srv := New(cfg, store, queue, cache.NewMemoryCache(0), WithProber(fakeProber{}))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{srv: srv, store: store, dataDir: dataDir, http: ts}
}

func multipartUpload(t *testing.T, taskType, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("task_type", taskType))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func submitTask(t *testing.T, ts *testServer, taskType, filename string) string {
	t.Helper()
	body, contentType := multipartUpload(t, taskType, filename, []byte("payload"))
	resp, err := http.Post(ts.http.URL+"/api/tasks", contentType, body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out["task_id"])
	return out["task_id"]
}

func TestSubmitAndGetTask(t *testing.T) {
	ts := newTestServer(t, nil)

	id := submitTask(t, ts, "staruml", "project.mdj")

	resp, err := http.Get(ts.http.URL + "/api/tasks/" + id)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail struct {
		ID        string    `json:"id"`
		Type      string    `json:"task_type"`
		Status    string    `json:"status"`
		Filename  string    `json:"filename"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	assert.Equal(t, id, detail.ID)
	assert.Equal(t, "staruml", detail.Type)
	assert.Equal(t, "pending", detail.Status)
	assert.Equal(t, "project.mdj", detail.Filename)
	assert.False(t, detail.CreatedAt.IsZero(), "submitted tasks carry a creation time")
	assert.False(t, detail.UpdatedAt.IsZero())

	// The upload must land under the task's own directory.
	assert.FileExists(t, filepath.Join(ts.dataDir, "uploads", id, "project.mdj"))
}

func TestSubmitValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	cases := []struct {
		name     string
		taskType string
		filename string
	}{
		{"unknown type", "pdf", "x.pdf"},
		{"wrong extension for staruml", "staruml", "diagram.png"},
		{"wrong extension for image", "image", "project.mdj"},
		{"wrong extension for plantuml", "plantuml", "diagram.jpg"},
		{"traversal filename", "staruml", "../../../etc/passwd.mdj"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, contentType := multipartUpload(t, tc.taskType, tc.filename, []byte("x"))
			resp, err := http.Post(ts.http.URL+"/api/tasks", contentType, body)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			// Traversal names are stripped to their base name, which still
			// ends in .mdj, so only truly invalid inputs get rejected.
			if tc.name == "traversal filename" {
				require.Equal(t, http.StatusAccepted, resp.StatusCode)
				_, err := os.Stat(filepath.Join(ts.dataDir, "uploads"))
				require.NoError(t, err)
			} else {
				require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			}
		})
	}
}

func TestListTasks(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := 0; i < 3; i++ {
		submitTask(t, ts, "plantuml", fmt.Sprintf("d%d.puml", i))
	}

	resp, err := http.Get(ts.http.URL + "/api/tasks?status=pending&limit=2")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Tasks []json.RawMessage `json:"tasks"`
		Count int               `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	// count is the total number of matching tasks, not the page size.
	assert.Equal(t, 3, out.Count)
	assert.Len(t, out.Tasks, 2)
}

func TestListTasksBadQuery(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, q := range []string{"status=bogus", "limit=-1", "offset=abc"} {
		resp, err := http.Get(ts.http.URL + "/api/tasks?" + q)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.http.URL + "/api/tasks/nope")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteTaskRemovesFiles(t *testing.T) {
	ts := newTestServer(t, nil)

	id := submitTask(t, ts, "image", "diagram.png")
	resultDir := filepath.Join(ts.dataDir, "results", id)
	require.NoError(t, os.MkdirAll(resultDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(resultDir, "error_analysis.json"), []byte("{}"), 0o640))

	req, err := http.NewRequest(http.MethodDelete, ts.http.URL+"/api/tasks/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.NoDirExists(t, filepath.Join(ts.dataDir, "uploads", id))
	assert.NoDirExists(t, resultDir)

	_, err = ts.store.Get(context.Background(), id)
	assert.ErrorIs(t, err, tasks.ErrNotFound)
}

func TestDownloadResultFile(t *testing.T) {
	ts := newTestServer(t, nil)

	id := submitTask(t, ts, "image", "diagram.png")
	resultDir := filepath.Join(ts.dataDir, "results", id)
	require.NoError(t, os.MkdirAll(resultDir, 0o750))
	report := []byte(`{"errors":[],"summary":{"total_errors":0,"severity_level":"none"}}`)
	require.NoError(t, os.WriteFile(filepath.Join(resultDir, "error_analysis.json"), report, 0o640))

	_, err := ts.store.Update(context.Background(), id, func(u *tasks.Task) error {
		u.Status = tasks.StatusCompleted
		u.ErrorAnalysisPath = filepath.Join(id, "error_analysis.json")
		return nil
	})
	require.NoError(t, err)

	resp, err := http.Get(ts.http.URL + "/api/tasks/" + id + "/files/error_analysis")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, report, buf.Bytes())
}

func TestDownloadRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t, nil)

	id := submitTask(t, ts, "image", "diagram.png")

	// Unknown kind.
	resp, err := http.Get(ts.http.URL + "/api/tasks/" + id + "/files/secrets")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Known kind but no result yet.
	resp, err = http.Get(ts.http.URL + "/api/tasks/" + id + "/files/error_analysis")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// A stored path that escapes the results dir must never be served.
	outside := filepath.Join(ts.dataDir, "secret.json")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o640))
	_, err = ts.store.Update(context.Background(), id, func(u *tasks.Task) error {
		u.Status = tasks.StatusCompleted
		u.ErrorAnalysisPath = filepath.Join("..", "secret.json")
		return nil
	})
	require.NoError(t, err)

	resp, err = http.Get(ts.http.URL + "/api/tasks/" + id + "/files/error_analysis")
	require.NoError(t, err)
	body := make([]byte, 64)
	n, _ := resp.Body.Read(body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotContains(t, string(body[:n]), "secret")
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	submitTask(t, ts, "plantuml", "a.puml")
	submitTask(t, ts, "plantuml", "b.puml")

	resp, err := http.Get(ts.http.URL + "/api/stats")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Tasks struct {
			Total    int            `json:"total"`
			ByStatus map[string]int `json:"by_status"`
		} `json:"tasks"`
		QueueDepth int `json:"queue_depth"`
		Workers    int `json:"workers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 2, out.Tasks.Total)
	assert.Equal(t, 2, out.QueueDepth)
	assert.Equal(t, 2, out.Workers)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.http.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.http.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyzFailsWhenRendererUnavailable(t *testing.T) {
	dataDir := t.TempDir()
	store, err := tasks.Open("json", filepath.Join(dataDir, "tasks.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	queue := tasks.NewQueue(store, noopProcessor{}, 1)
	srv := New(config.AppConfig{DataDir: dataDir}, store, queue, nil,
		WithProber(fakeProber{err: errors.New("no jar")}))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "renderer unavailable")
}

func TestAPITokenGuardsMutatingRoutes(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.AppConfig) {
		cfg.APIToken = "sekrit"
	})

	body, contentType := multipartUpload(t, "staruml", "p.mdj", []byte("x"))
	resp, err := http.Post(ts.http.URL+"/api/tasks", contentType, body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body, contentType = multipartUpload(t, "staruml", "p.mdj", []byte("x"))
	req, err := http.NewRequest(http.MethodPost, ts.http.URL+"/api/tasks", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Reads stay open without a token.
	resp, err = http.Get(ts.http.URL + "/api/tasks")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestIDPropagation(t *testing.T) {
	ts := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodGet, ts.http.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))

	// Generated when the client does not send one.
	resp, err = http.Get(ts.http.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestCORSHeaders(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.AppConfig) {
		cfg.AllowedOrigins = []string{"https://app.example.com"}
	})

	req, err := http.NewRequest(http.MethodOptions, ts.http.URL+"/api/tasks", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodOptions, ts.http.URL+"/api/tasks", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "diagram.png", want: "diagram.png"},
		{in: "../../etc/passwd", want: "passwd"},
		{in: "dir/sub/file.mdj", want: "file.mdj"},
		{in: "..", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := sanitizeFilename(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestResultLinksOnlyWhenCompleted(t *testing.T) {
	task := &tasks.Task{ID: "t1", GeneratedUMLPath: "t1/generated.puml"}
	links := resultLinks(task)
	require.Len(t, links, 1)
	assert.Equal(t, "/api/tasks/t1/files/generated_uml", links["generated_uml"])

	assert.True(t, strings.HasPrefix(links["generated_uml"], "/api/tasks/"))
	assert.Nil(t, resultLinks(&tasks.Task{ID: "t2"}))
}
