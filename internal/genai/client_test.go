package genai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"imagevariants/internal/imagefile"
	"imagevariants/internal/task"
)

var source = &imagefile.File{Data: []byte("source-bytes"), MIMEType: "image/png", Name: "ad.png"}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL + "/", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Options{APIKey: "  "})
	require.ErrorIs(t, err, ErrMissingAPIKey)

	c, err := NewClient(Options{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.Model())
}

func TestGenerateSendsImageAndPrompt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/"+DefaultModel+":generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "image/png", gjson.GetBytes(body, "contents.0.parts.0.inlineData.mimeType").String())
		assert.Equal(t, source.Base64(), gjson.GetBytes(body, "contents.0.parts.0.inlineData.data").String())
		assert.Equal(t, "make it night", gjson.GetBytes(body, "contents.0.parts.1.text").String())
		assert.Equal(t, `["IMAGE","TEXT"]`, gjson.GetBytes(body, "generationConfig.responseModalities").Raw)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"here you go"},{"inlineData":{"mimeType":"image/png","data":"bmlnaHQ="}}]}}]}`)
	})

	img, err := c.Generate(context.Background(), source, "make it night")
	require.NoError(t, err)
	assert.Equal(t, "bmlnaHQ=", img)
}

func TestGenerateErrorsClassify(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		kind    task.ErrorKind
		message string
	}{
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`,
			kind:   task.KindRateLimited,
		},
		{
			name:    "bad request",
			status:  http.StatusBadRequest,
			body:    `{"error":{"code":400,"message":"Image too large"}}`,
			kind:    task.KindUpstreamRejected,
			message: "gemini status 400: Image too large",
		},
		{
			name:    "text only answer",
			status:  http.StatusOK,
			body:    `{"candidates":[{"content":{"parts":[{"text":"I cannot do that"}]},"finishReason":"STOP"}]}`,
			kind:    task.KindUpstreamRejected,
			message: ErrNoImage.Error(),
		},
		{
			name:    "blocked prompt",
			status:  http.StatusOK,
			body:    `{"promptFeedback":{"blockReason":"SAFETY"}}`,
			kind:    task.KindUpstreamRejected,
			message: ErrNoImage.Error() + " (blocked: SAFETY)",
		},
		{
			name:    "plain text error body",
			status:  http.StatusBadGateway,
			body:    "upstream unavailable",
			kind:    task.KindUpstreamRejected,
			message: "gemini status 502: upstream unavailable",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := c.Generate(context.Background(), source, "p")
			require.Error(t, err)
			assert.True(t, strings.HasPrefix(err.Error(), task.UpstreamErrorPrefix))

			classified := task.Classify(err)
			assert.Equal(t, tc.kind, classified.Kind)
			if tc.message != "" {
				assert.Equal(t, tc.message, classified.Message)
			}
		})
	}
}

func TestGenerateTransportErrorHidesKey(t *testing.T) {
	c, err := NewClient(Options{APIKey: "secret-key", BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), source, "p")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-key")
	assert.Equal(t, task.KindUpstreamRejected, task.Classify(err).Kind)
}
