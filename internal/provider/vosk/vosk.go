// Package vosk adapts the local Vosk inference engine. It is the only
// local engine with true streaming recognition; it also supports one-shot
// file transcription.
package vosk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/provider"
	"github.com/snarg/meetscribe/internal/subproc"
)

const scriptName = "vosk_service.py"

// Config locates the engine and tunes stream lifecycle timing.
type Config struct {
	PythonBin    string
	EngineDir    string
	ModelDir     string
	ReadyTimeout time.Duration
	StopGrace    time.Duration
}

// Provider runs Vosk as a child process. A Provider carries at most one
// realtime stream; sessions get their own Provider instance.
type Provider struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	stream   *subproc.Stream
	pumpDone chan struct{}
}

func New(cfg Config, log zerolog.Logger) *Provider {
	return &Provider{
		cfg: cfg,
		log: log.With().Str("provider", "vosk").Logger(),
	}
}

func (p *Provider) Name() string { return "vosk" }

func (p *Provider) script() string {
	return filepath.Join(p.cfg.EngineDir, scriptName)
}

// StartRealtime spawns the streaming engine and begins pumping its frames
// into the stream callbacks.
func (p *Provider) StartRealtime(ctx context.Context, cfg provider.StreamConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return errors.New("vosk: realtime stream already started")
	}

	args := []string{p.script(), "stream", p.cfg.ModelDir}
	if cfg.Language != "" {
		args = append(args, cfg.Language)
	}
	stream, err := subproc.StartStream(ctx, subproc.StreamOptions{
		ReadyTimeout: p.cfg.ReadyTimeout,
		StopGrace:    p.cfg.StopGrace,
		Log:          p.log,
	}, p.cfg.PythonBin, args...)
	if err != nil {
		return fmt.Errorf("vosk: %w", err)
	}

	p.stream = stream
	p.pumpDone = make(chan struct{})
	go p.pump(stream, p.pumpDone, cfg)
	return nil
}

// pump translates engine frames into callbacks. An interim frame is a
// revisable hypothesis; partial and final frames are committed text.
func (p *Provider) pump(stream *subproc.Stream, done chan struct{}, cfg provider.StreamConfig) {
	defer close(done)

	for msg := range stream.Messages() {
		if err := msg.Check(); err != nil {
			if cfg.OnError != nil {
				cfg.OnError(fmt.Errorf("vosk: %w", err), false)
			}
			continue
		}

		final := msg.Type == "partial" || msg.Type == "final"
		start, end := wordSpan(msg.Result)
		if cfg.OnTranscript != nil && msg.Text != "" {
			cfg.OnTranscript(msg.Text, final, start, end)
		}
	}

	if err := stream.Err(); err != nil && cfg.OnError != nil {
		cfg.OnError(fmt.Errorf("vosk: %w", err), true)
	}
}

func wordSpan(words []subproc.Word) (start, end float64) {
	if len(words) == 0 {
		return 0, 0
	}
	return words[0].Start, words[len(words)-1].End
}

// SendAudio writes one chunk of 16kHz mono PCM to the engine.
func (p *Provider) SendAudio(chunk []byte) error {
	p.mu.Lock()
	stream := p.stream
	p.mu.Unlock()
	if stream == nil {
		return errors.New("vosk: realtime stream not started")
	}
	return stream.Write(chunk)
}

// StopRealtime closes the engine's stdin, drains the trailing final frame,
// and reaps the process.
func (p *Provider) StopRealtime(ctx context.Context) error {
	p.mu.Lock()
	stream := p.stream
	pumpDone := p.pumpDone
	p.stream = nil
	p.pumpDone = nil
	p.mu.Unlock()
	if stream == nil {
		return nil
	}

	err := stream.Close(ctx)
	if pumpDone != nil {
		select {
		case <-pumpDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

type fileResult struct {
	subproc.Envelope
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Text       string  `json:"text"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"segments"`
}

// TranscribeFile runs one-shot recognition over a WAV file. The engine
// emits word-level segments; callers group them into sentences.
func (p *Provider) TranscribeFile(ctx context.Context, audioPath string, opts provider.TranscribeOpts) (*provider.TranscriptResult, error) {
	args := []string{p.script(), "file", p.cfg.ModelDir, audioPath}
	if opts.Language != "" {
		args = append(args, opts.Language)
	}

	var res fileResult
	if err := subproc.RunJSON(ctx, p.log, &res, p.cfg.PythonBin, args...); err != nil {
		return nil, fmt.Errorf("vosk: %w", err)
	}
	if err := res.Check(); err != nil {
		return nil, fmt.Errorf("vosk: %w", err)
	}

	out := &provider.TranscriptResult{
		Text:     res.Text,
		Language: res.Language,
	}
	for _, s := range res.Segments {
		out.Segments = append(out.Segments, provider.TranscriptSegment{
			Text:       s.Text,
			Start:      s.Start,
			End:        s.End,
			Confidence: s.Confidence,
		})
	}
	if n := len(out.Segments); n > 0 {
		out.Duration = out.Segments[n-1].End
	}
	if err := provider.ValidateSegments(out.Segments); err != nil {
		return nil, fmt.Errorf("vosk: %w", err)
	}
	return out, nil
}

// HealthCheck verifies the engine script and model are present.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(p.script()); err != nil {
		return fmt.Errorf("vosk: engine script: %w", err)
	}
	if _, err := os.Stat(p.cfg.ModelDir); err != nil {
		return fmt.Errorf("vosk: model dir: %w", err)
	}
	return nil
}
