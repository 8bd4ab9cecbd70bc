package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damian-sirenko/signq/pkg/legacy"
	"github.com/damian-sirenko/signq/pkg/logger"
	"github.com/damian-sirenko/signq/pkg/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	fsys := afero.NewMemMapFs()
	clock := func() time.Time { return time.Date(2025, 10, 1, 8, 0, 0, 0, time.UTC) }
	app := &App{
		Store:  store.New("/data/sign_queue.json", store.WithFs(fsys), store.WithLogger(logger.Nop())),
		Legacy: legacy.New("/data/legacy.json", legacy.WithFs(fsys), legacy.WithClock(clock), legacy.WithLogger(logger.Nop())),
		Logger: logger.Nop(),
	}
	srv := httptest.NewServer(NewRouter(app))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func getItems(t *testing.T, url string) (int, []map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out struct {
		Items []map[string]any `json:"items"`
	}
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out.Items
}

func TestSignQueueRoutes(t *testing.T) {
	srv := newTestServer(t)

	t.Run("Should upsert, list and remove entries", func(t *testing.T) {
		status, body := post(t, srv.URL+"/sign-queue/upsert", `{"type":"courier","clientId":166,"month":"2025-10","index":2,"plannedDate":"2025-10-08"}`)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["ok"])

		status, body = post(t, srv.URL+"/sign-queue/upsert", `{"type":"courier","clientId":"166","month":"2025/10","index":2,"plannedDate":"2025-10-09"}`)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["ok"])

		status, items := getItems(t, srv.URL+"/sign-queue?type=courier&month=2025-10")
		require.Equal(t, http.StatusOK, status)
		require.Len(t, items, 1)
		assert.Equal(t, "2025-10-09", items[0]["plannedDate"])

		_, items = getItems(t, srv.URL+"/sign-queue?type=point")
		assert.Empty(t, items)

		_, body = post(t, srv.URL+"/sign-queue/remove", `{"type":"courier","clientId":"166","month":"2025-10","index":2}`)
		assert.Equal(t, true, body["removed"])
		_, body = post(t, srv.URL+"/sign-queue/remove", `{"type":"courier","clientId":"166","month":"2025-10","index":2}`)
		assert.Equal(t, false, body["removed"])
	})

	t.Run("Should reject invalid input", func(t *testing.T) {
		status, _ := getItems(t, srv.URL+"/sign-queue?month=2025-13")
		assert.Equal(t, http.StatusBadRequest, status)

		status, body := post(t, srv.URL+"/sign-queue/upsert", `{"type":"courier","clientId":"","month":"2025-10","index":0}`)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.NotEmpty(t, body["error"])

		status, _ = post(t, srv.URL+"/sign-queue/upsert", `{"type":"courier","clientId":"1","month":"2025-10"}`)
		assert.Equal(t, http.StatusBadRequest, status)

		status, _ = post(t, srv.URL+"/sign-queue/remove", `not json`)
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestLegacyRoutes(t *testing.T) {
	srv := newTestServer(t)

	status, body := post(t, srv.URL+"/sign-queue-legacy", `{"type":"point","clientId":"9","month":"2025-10","index":1,"clientName":"Salon","entry":{"date":"2025-10-03"}}`)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "queued", body["status"])

	_, items := getItems(t, srv.URL+"/sign-queue-legacy?type=point&month=2025-10")
	require.Len(t, items, 1)
	assert.Equal(t, true, items[0]["pointPending"])

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/sign-queue-legacy", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, items = getItems(t, srv.URL+"/sign-queue-legacy")
	assert.Empty(t, items)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
