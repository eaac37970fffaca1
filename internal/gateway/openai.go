package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"callsight/internal/logger"
	"callsight/internal/record"
)

// OpenAIConfig configures the OpenAI-compatible client.
type OpenAIConfig struct {
	BaseURL        string
	APIKey         string
	WhisperModel   string
	LLMModel       string
	EmbeddingModel string
	Timeout        time.Duration
}

// OpenAI talks to an OpenAI-compatible API: /chat/completions for stage
// inference, /audio/transcriptions for speech-to-text, /embeddings for
// vectors. It does not retry; retry policy lives with the caller.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI builds the client. BaseURL defaults to the public OpenAI API.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gateway: api key not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Transcribe uploads the audio file to the transcription endpoint.
func (o *OpenAI) Transcribe(ctx context.Context, audioPath string) (Transcription, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return Transcription{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return Transcription{}, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return Transcription{}, fmt.Errorf("read audio: %w", err)
	}
	_ = w.WriteField("model", o.cfg.WhisperModel)
	_ = w.WriteField("response_format", "json")
	if err := w.Close(); err != nil {
		return Transcription{}, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return Transcription{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	body, err := o.do(req)
	if err != nil {
		return Transcription{}, err
	}

	var parsed struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Transcription{}, &TransportError{Kind: ServiceError, Msg: "decode transcription response", Err: err}
	}
	return Transcription{Text: parsed.Text, Language: parsed.Language}, nil
}

// Infer sends a stage prompt as a single user message with temperature 0 and
// returns the assistant content verbatim.
func (o *OpenAI) Infer(ctx context.Context, kind record.Kind, prompt string) (string, error) {
	log := logger.Component("gateway").WithField("stage", string(kind))

	reqBody := map[string]any{
		"model": o.cfg.LLMModel,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.0,
	}
	data, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	body, err := o.do(req)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
		log.WithField("body_len", len(body)).Warn("unexpected completion response shape")
		return "", &TransportError{Kind: ServiceError, Msg: "no choices in completion response", Err: err}
	}
	return parsed.Choices[0].Message.Content, nil
}

// Embed returns the embedding for text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float64, error) {
	reqBody := map[string]any{
		"model": o.cfg.EmbeddingModel,
		"input": []string{text},
	}
	data, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	body, err := o.do(req)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, &TransportError{Kind: ServiceError, Msg: "empty embedding response", Err: err}
	}
	return parsed.Data[0].Embedding, nil
}

// do executes the request and maps HTTP-level failures onto TransportError.
func (o *OpenAI) do(req *http.Request) ([]byte, error) {
	resp, err := o.client.Do(req)
	if err != nil {
		kind := ServiceError
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			kind = Timeout
		}
		return nil, &TransportError{Kind: kind, Msg: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Kind: ServiceError, Msg: "read response", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransportError{Kind: RateLimited, Status: resp.StatusCode, Msg: trim(body)}
	case resp.StatusCode >= 500:
		return nil, &TransportError{Kind: ServiceError, Status: resp.StatusCode, Msg: trim(body)}
	case resp.StatusCode >= 400:
		return nil, &TransportError{Kind: ServiceError, Status: resp.StatusCode, Msg: trim(body)}
	}
	return body, nil
}

func trim(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}
