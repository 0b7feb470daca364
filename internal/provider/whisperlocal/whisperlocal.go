// Package whisperlocal adapts the local Whisper inference engine. Whisper
// is batch-only; the realtime operations report the missing capability.
package whisperlocal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/provider"
	"github.com/snarg/meetscribe/internal/subproc"
)

const scriptName = "whisper_service.py"

type Config struct {
	PythonBin string
	EngineDir string
	// Model is the default Whisper model size (tiny, base, small, medium,
	// large); per-request opts override it.
	Model   string
	Timeout time.Duration
}

type Provider struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Provider {
	if cfg.Model == "" {
		cfg.Model = "base"
	}
	return &Provider{
		cfg: cfg,
		log: log.With().Str("provider", "whisper-local").Logger(),
	}
}

func (p *Provider) Name() string { return "whisper-local" }

func (p *Provider) script() string {
	return filepath.Join(p.cfg.EngineDir, scriptName)
}

func (p *Provider) StartRealtime(ctx context.Context, cfg provider.StreamConfig) error {
	return provider.Unsupported("whisper-local", "realtime")
}

func (p *Provider) SendAudio(chunk []byte) error {
	return provider.Unsupported("whisper-local", "realtime")
}

func (p *Provider) StopRealtime(ctx context.Context) error {
	return provider.Unsupported("whisper-local", "realtime")
}

type result struct {
	subproc.Envelope
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// TranscribeFile runs one Whisper invocation over the file. Model loading
// dominates the runtime, so the invocation is bounded by the configured
// timeout rather than a per-second-of-audio budget.
func (p *Provider) TranscribeFile(ctx context.Context, audioPath string, opts provider.TranscribeOpts) (*provider.TranscriptResult, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	lang := opts.Language
	if lang == "" {
		lang = "zh"
	}
	model := opts.Model
	if model == "" {
		model = p.cfg.Model
	}

	var res result
	if err := subproc.RunJSON(ctx, p.log, &res, p.cfg.PythonBin, p.script(), audioPath, lang, model); err != nil {
		return nil, fmt.Errorf("whisper-local: %w", err)
	}
	if err := res.Check(); err != nil {
		return nil, fmt.Errorf("whisper-local: %w", err)
	}

	out := &provider.TranscriptResult{
		Text:     res.Text,
		Language: res.Language,
	}
	for _, s := range res.Segments {
		out.Segments = append(out.Segments, provider.TranscriptSegment{
			Text:  s.Text,
			Start: s.Start,
			End:   s.End,
		})
	}
	if n := len(out.Segments); n > 0 {
		out.Duration = out.Segments[n-1].End
	}
	if err := provider.ValidateSegments(out.Segments); err != nil {
		return nil, fmt.Errorf("whisper-local: %w", err)
	}
	return out, nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(p.script()); err != nil {
		return fmt.Errorf("whisper-local: engine script: %w", err)
	}
	return nil
}
