package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-lots/internal/webhook"
)

const (
	testLots = `[
  // exported from the CMS
  {"slug": "acre-1", "name": "Lot 12", "elementSvgId": "L-12", "statusName": "Available"},
  {"slug": "acre-2", "name": "Lot 7", "elementSvgId": "L-7"},
]`
	testPlan = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 400 300">
  <rect id="L-12" class="lot" x="10" y="10" width="20" height="10"/>
  <rect id="L-7" class="lot" x="50" y="10" width="20" height="10"/>
  <rect id="L-3" class="lot" x="90" y="10" width="20" height="10"/>
</svg>`
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// startServer runs the full server on a real listener with the webhook
// pointed at its own sink.
func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	ts := httptest.NewUnstartedServer(nil)
	srv, err := New(context.Background(), Config{
		Host:         "127.0.0.1",
		DataDir:      dir,
		LotsFile:     writeFile(t, dir, "lots.json", testLots),
		MapFile:      writeFile(t, dir, "plan.svg", testPlan),
		WebhookURL:   "http://" + ts.Listener.Addr().String() + webhook.DefaultPath,
		HoldWindow:   time.Minute,
		RefreshDelay: time.Hour,
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)
	ts.Config.Handler = srv
	ts.Start()
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts
}

func do(t *testing.T, method, url string, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestRootAdvertisesAPI(t *testing.T) {
	ts := startServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"service":"plat-lots","status":"running"}`, string(body))
	assert.NotEmpty(t, resp.Header.Values("Link"))

	resp, _ = do(t, http.MethodGet, ts.URL+"/nowhere", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/info", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info struct {
		Name   string `json:"name"`
		DB     bool   `json:"db"`
		Lots   int    `json:"lots"`
		Shapes int    `json:"shapes"`
	}
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, "plat-lots", info.Name)
	assert.True(t, info.DB)
	assert.Equal(t, 2, info.Lots)
	assert.Equal(t, 3, info.Shapes)
}

func TestSaveDeliversToOwnSink(t *testing.T) {
	ts := startServer(t)

	resp, body := do(t, http.MethodPut, ts.URL+"/api/v1/assignments/L-3", `{"lot":"acre-2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var a struct {
		ShapeID string `json:"shapeId"`
		Held    bool   `json:"held"`
		Lot     struct {
			Slug string `json:"slug"`
		} `json:"lot"`
	}
	require.NoError(t, json.Unmarshal(body, &a))
	assert.Equal(t, "L-3", a.ShapeID)
	assert.Equal(t, "acre-2", a.Lot.Slug)
	assert.True(t, a.Held)

	// The lot moved, so L-7 no longer shows it.
	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/assignments/L-7", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), `"acre-2"`)

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/webhooks/deliveries", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deliveries struct {
		Total int `json:"total"`
		Data  []struct {
			ShapeID string `json:"elementSvgId"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &deliveries))
	require.Equal(t, 1, deliveries.Total)
	assert.Equal(t, "L-3", deliveries.Data[0].ShapeID)

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/changes?shapeId=L-3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"saved"`)
}

func TestMissingLotsFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	srv, err := New(context.Background(), Config{
		DataDir: dir,
		MapFile: writeFile(t, dir, "plan.svg", testPlan),
		Offline: true,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	defer srv.Close()

	assert.Equal(t, 3, srv.Editor().Layer().Len())
	assert.NotNil(t, srv.OpenAPI().Paths["/api/v1/assignments/{shapeId}"])

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/deliveries", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
