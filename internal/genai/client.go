package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"imagevariants/internal/imagefile"
	"imagevariants/internal/task"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.5-flash-image-preview"
	DefaultTimeout = 120 * time.Second

	maxErrorBody = 4 << 10
)

var (
	ErrMissingAPIKey = errors.New("gemini api key is not set")
	ErrNoImage       = errors.New("no image was generated, the model might have refused the request")
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client edits a source image according to a text instruction using the
// Gemini generateContent endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ task.Generator = (*Client)(nil)

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

// NewClient constructs a Gemini client. A nil HTTP client is replaced by one
// using opts.Timeout.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{apiKey: apiKey, baseURL: baseURL, model: model, httpClient: client}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Generate returns the edited image as base64 text. Every failure is reported
// with the "API Error:" prefix so callers can tell upstream rejections apart.
func (c *Client) Generate(ctx context.Context, img *imagefile.File, prompt string) (string, error) {
	image, err := c.generate(ctx, img, prompt)
	if err != nil {
		return "", fmt.Errorf("%s %w", task.UpstreamErrorPrefix, err)
	}
	return image, nil
}

func (c *Client) generate(ctx context.Context, img *imagefile.File, prompt string) (string, error) {
	if img == nil {
		return "", errors.New("no source image")
	}
	payload := generateContentRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{InlineData: &inlineData{MimeType: img.MIMEType, Data: img.Base64()}},
				{Text: prompt},
			},
		}},
		GenerationConfig: generationConfig{ResponseModalities: []string{"IMAGE", "TEXT"}},
	}

	body, err := c.invoke(ctx, payload)
	if err != nil {
		return "", err
	}

	var image string
	gjson.GetBytes(body, "candidates.0.content.parts").ForEach(func(_, p gjson.Result) bool {
		data := p.Get("inlineData.data")
		if !data.Exists() {
			data = p.Get("inline_data.data")
		}
		image = data.String()
		return image == ""
	})
	if image != "" {
		return image, nil
	}

	if reason := gjson.GetBytes(body, "promptFeedback.blockReason").String(); reason != "" {
		return "", fmt.Errorf("%w (blocked: %s)", ErrNoImage, reason)
	}
	if reason := gjson.GetBytes(body, "candidates.0.finishReason").String(); reason != "" && reason != "STOP" {
		return "", fmt.Errorf("%w (finish reason: %s)", ErrNoImage, reason)
	}
	return "", ErrNoImage
}

func (c *Client) invoke(ctx context.Context, payload any) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the url carries the api key
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("invoke gemini: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	log.Debug().
		Str("model", c.model).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("gemini responded")

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError(resp.StatusCode, data)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gemini response: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("decode gemini response: invalid json")
	}
	return data, nil
}

func statusError(code int, body []byte) error {
	msg := gjson.GetBytes(body, "error.message").String()
	status := gjson.GetBytes(body, "error.status").String()
	switch {
	case msg != "" && status != "":
		return fmt.Errorf("gemini status %d %s: %s", code, status, msg)
	case msg != "":
		return fmt.Errorf("gemini status %d: %s", code, msg)
	case len(bytes.TrimSpace(body)) > 0:
		return fmt.Errorf("gemini status %d: %s", code, strings.TrimSpace(string(body)))
	default:
		return fmt.Errorf("gemini status %d", code)
	}
}
