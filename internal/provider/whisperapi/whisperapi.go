// Package whisperapi calls an OpenAI-compatible /v1/audio/transcriptions
// endpoint. It is batch-only; the realtime operations report the missing
// capability.
package whisperapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/snarg/meetscribe/internal/provider"
)

type Config struct {
	URL     string
	Model   string
	APIKey  string
	Timeout time.Duration
}

type Provider struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *Provider) Name() string { return "whisper-api" }

func (p *Provider) StartRealtime(ctx context.Context, cfg provider.StreamConfig) error {
	return provider.Unsupported("whisper-api", "realtime")
}

func (p *Provider) SendAudio(chunk []byte) error {
	return provider.Unsupported("whisper-api", "realtime")
}

func (p *Provider) StopRealtime(ctx context.Context) error {
	return provider.Unsupported("whisper-api", "realtime")
}

// response is the verbose_json payload from the Whisper API.
type response struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

// TranscribeFile uploads the audio as multipart/form-data and parses the
// verbose_json response. Only non-default parameters are sent, so this
// works with speaches, faster-whisper-server, or any OpenAI-compatible
// endpoint.
func (p *Provider) TranscribeFile(ctx context.Context, audioPath string, opts provider.TranscribeOpts) (*provider.TranscriptResult, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = p.cfg.Model
	}
	if model != "" {
		w.WriteField("model", model)
	}
	if opts.Language != "" {
		w.WriteField("language", opts.Language)
	}
	w.WriteField("response_format", "verbose_json")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(body))
	}

	var res response
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &provider.TranscriptResult{
		Text:     res.Text,
		Language: res.Language,
		Duration: res.Duration,
	}
	for _, s := range res.Segments {
		out.Segments = append(out.Segments, provider.TranscriptSegment{
			Text:  s.Text,
			Start: s.Start,
			End:   s.End,
		})
	}
	if err := provider.ValidateSegments(out.Segments); err != nil {
		return nil, fmt.Errorf("whisper-api: %w", err)
	}
	return out, nil
}

// HealthCheck probes the endpoint with a HEAD request. Any HTTP answer
// counts as reachable; only transport failures are reported.
func (p *Provider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.cfg.URL, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("whisper-api unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}
