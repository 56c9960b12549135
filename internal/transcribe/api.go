package transcribe

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-dictation/internal/capture"
	"github.com/oszuidwest/zwfm-dictation/internal/util"
)

// API defaults.
const (
	DefaultEndpoint   = "https://api.openai.com/v1"
	DefaultModel      = "whisper-1"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2

	transcriptionsPath = "/audio/transcriptions"
	maxErrorBody       = 4 << 10
)

// APIError is a non-retryable or final error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("transcription API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("transcription API returned status %d: %s", e.StatusCode, e.Message)
}

// temporary reports whether the request may succeed when retried.
func (e *APIError) temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// API transcribes through an OpenAI-compatible /audio/transcriptions endpoint.
type API struct {
	url        string
	apiKey     string
	model      string
	language   string
	maxRetries int
	client     *http.Client

	// newBackoff is replaced in tests.
	newBackoff func() *util.Backoff
}

// NewAPI returns the HTTP backend. The API key is required.
func NewAPI(cfg Config) (*API, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is empty (set OPENAI_API_KEY)", ErrNotConfigured)
	}
	return &API{
		url:        strings.TrimRight(cmp.Or(cfg.Endpoint, DefaultEndpoint), "/") + transcriptionsPath,
		apiKey:     cfg.APIKey,
		model:      cmp.Or(cfg.Model, DefaultModel),
		language:   cfg.Language,
		maxRetries: max(cfg.MaxRetries, 0),
		client:     &http.Client{Timeout: cmp.Or(cfg.Timeout, DefaultTimeout)},
		newBackoff: func() *util.Backoff {
			return util.NewBackoff(time.Second, 8*time.Second)
		},
	}, nil
}

// Transcribe uploads the recording as WAV and returns the cleaned transcript.
// Network errors, 429 and 5xx responses are retried with exponential backoff.
func (a *API) Transcribe(ctx context.Context, res *capture.Result) (string, error) {
	if err := checkResult(res); err != nil {
		return "", err
	}

	wav, err := res.Buffer.WAV()
	if err != nil {
		return "", util.WrapError("encode wav", err)
	}

	body, contentType, err := a.form(wav)
	if err != nil {
		return "", err
	}

	requestID := uuid.NewString()
	backoff := a.newBackoff()

	var lastErr error
	for attempt := range a.maxRetries + 1 {
		if attempt > 0 {
			delay := backoff.Next()
			slog.Warn("retrying transcription request", "request_id", requestID,
				"attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := a.send(ctx, body, contentType, requestID)
		if err == nil {
			slog.Debug("transcription received", "request_id", requestID, "session_id", res.SessionID, "chars", len(text))
			return Clean(text)
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.temporary() {
			return "", err
		}
	}
	return "", lastErr
}

func (a *API) form(wav []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", util.WrapError("create form file", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", util.WrapError("write form file", err)
	}

	fields := [][2]string{
		{"model", a.model},
		{"response_format", "json"},
	}
	if a.language != "" {
		fields = append(fields, [2]string{"language", a.language})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", util.WrapError("write form field", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", util.WrapError("close form", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (a *API) send(ctx context.Context, body []byte, contentType, requestID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return "", util.WrapError("create transcription request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", util.WrapError("send transcription request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "transcription response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", util.WrapError("decode transcription response", err)
	}
	return out.Text, nil
}

// errorMessage extracts error.message from an OpenAI-style error body, or
// returns the raw body.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
