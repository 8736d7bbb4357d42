package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUIHome(t *testing.T) {
	env := setupEnv(t, fakeGenerator(t, nil), 2, 0)

	w := serve(env, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `name="prompts_text"`)
	assert.Contains(t, w.Body.String(), `value="concurrent" checked`)
}

func TestUICreateBatchRedirects(t *testing.T) {
	env := setupEnv(t, fakeGenerator(t, nil), 2, 0)

	w := serve(env, multipartRequest(t, "/ui/batches", upload{
		image:       pngBytes(t),
		contentType: "image/png",
		promptsText: "add snow\nfail",
	}))
	require.Equal(t, http.StatusSeeOther, w.Code)
	location := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "/ui/batches/"))

	id := strings.TrimPrefix(location, "/ui/batches/")
	waitBatch(t, env, id)

	w = serve(env, httptest.NewRequest(http.MethodGet, location, nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "add snow")
	assert.Contains(t, body, "prompt was blocked")
	assert.Contains(t, body, "/api/v1/batches/"+id+"/archive")
	assert.NotContains(t, body, `http-equiv="refresh"`)

	w = serve(env, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, w.Body.String(), id)
}

func TestUICreateBatchShowsError(t *testing.T) {
	env := setupEnv(t, fakeGenerator(t, nil), 2, 0)

	w := serve(env, multipartRequest(t, "/ui/batches", upload{image: pngBytes(t), contentType: "image/png"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Error:")
}

func TestUIBatchRefreshesWhilePending(t *testing.T) {
	gate := make(chan struct{})
	env := setupEnv(t, fakeGenerator(t, gate), 2, 0)
	created := createBatch(t, env, upload{image: pngBytes(t), contentType: "image/png", prompts: []string{"a"}})

	w := serve(env, httptest.NewRequest(http.MethodGet, "/ui/batches/"+created.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http-equiv="refresh"`)

	close(gate)
	waitBatch(t, env, created.ID)
}

func TestUIOpenExisting(t *testing.T) {
	env := setupEnv(t, fakeGenerator(t, nil), 2, 0)

	w := serve(env, httptest.NewRequest(http.MethodGet, "/ui/batches?id=abc", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/ui/batches/abc", w.Header().Get("Location"))

	w = serve(env, httptest.NewRequest(http.MethodGet, "/ui/batches/abc", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUIHomeListsSameBatchesAsAPI(t *testing.T) {
	env := setupEnv(t, fakeGenerator(t, nil), 2, 0)
	u := upload{image: pngBytes(t), contentType: "image/png", prompts: []string{"a"}}
	first := createBatch(t, env, u)
	waitBatch(t, env, first.ID)
	second := createBatch(t, env, u)
	waitBatch(t, env, second.ID)

	w := serve(env, httptest.NewRequest(http.MethodGet, "/api/v1/batches", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Batches []batchListItem `json:"batches"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Batches, 2)

	w = serve(env, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	firstPos := strings.Index(body, "/ui/batches/"+resp.Batches[0].ID)
	secondPos := strings.Index(body, "/ui/batches/"+resp.Batches[1].ID)
	require.NotEqual(t, -1, firstPos)
	require.NotEqual(t, -1, secondPos)
	assert.Less(t, firstPos, secondPos)
}
