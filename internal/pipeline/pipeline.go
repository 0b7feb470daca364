// Package pipeline orchestrates batch transcription: normalize the audio,
// transcribe it, diarize it, resolve diarization tags against enrolled
// profiles, and fuse everything into a speaker-attributed transcript.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/events"
	"github.com/snarg/meetscribe/internal/fusion"
	"github.com/snarg/meetscribe/internal/metrics"
	"github.com/snarg/meetscribe/internal/provider"
)

// Normalizer converts input audio into engine-compatible format; it
// returns the usable path and a cleanup function.
type Normalizer func(ctx context.Context, path string) (string, func(), error)

// Clipper extracts a time range of the input into its own file.
type Clipper func(ctx context.Context, path string, start, end float64) (string, func(), error)

type Config struct {
	TempDir          string
	MatchThreshold   float64
	MaxSentenceChars int
}

// Orchestrator runs the batch pipeline over one recording at a time.
// Transcription is mandatory; diarization and identification degrade to a
// transcript with weaker attribution when their stages fail.
type Orchestrator struct {
	transcriber provider.Transcriber
	voiceprint  provider.Voiceprint
	cfg         Config
	log         zerolog.Logger

	// Normalize and Clip default to the sox-backed implementations and
	// are swappable in tests.
	Normalize Normalizer
	Clip      Clipper

	// Bus, when set, receives stage progress events for batch runs.
	Bus *events.Bus
}

func NewOrchestrator(transcriber provider.Transcriber, vp provider.Voiceprint, cfg Config, log zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		transcriber: transcriber,
		voiceprint:  vp,
		cfg:         cfg,
		log:         log.With().Str("component", "pipeline").Logger(),
	}
	o.Normalize = func(ctx context.Context, path string) (string, func(), error) {
		return audio.EnsureCompatibleFormat(ctx, path, cfg.TempDir)
	}
	o.Clip = func(ctx context.Context, path string, start, end float64) (string, func(), error) {
		return audio.Clip(ctx, path, start, end, cfg.TempDir)
	}
	return o
}

// Opts are per-run options.
type Opts struct {
	Language string
	Model    string
	// CandidateProfileIDs bounds identification to these enrolled
	// profiles. They also seed the round-robin fallback when diarization
	// yields nothing.
	CandidateProfileIDs []string
}

// Result is the fused output of one pipeline run.
type Result struct {
	Text     string         `json:"text"`
	Language string         `json:"language,omitempty"`
	Duration float64        `json:"duration"`
	Entries  []fusion.Entry `json:"entries"`
	// Degraded is set when diarization or identification failed and the
	// transcript fell back to weaker speaker attribution.
	Degraded bool `json:"degraded,omitempty"`
}

// Run executes the full pipeline over one recording.
func (o *Orchestrator) Run(ctx context.Context, audioPath string, opts Opts) (*Result, error) {
	wavPath, cleanup, err := o.timedNormalize(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("normalize audio: %w", err)
	}
	defer cleanup()
	o.progress("transcribing")

	tr, err := o.timedTranscribe(ctx, wavPath, opts)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	o.progress("diarizing")

	res := &Result{
		Text:     tr.Text,
		Language: tr.Language,
		Duration: tr.Duration,
	}

	diar := o.timedDiarize(ctx, wavPath, res)
	matches := o.identifyTags(ctx, wavPath, diar, opts.CandidateProfileIDs, res)

	stop := stageTimer("fuse")
	res.Entries = fusion.Fuse(tr.Segments, diar, opts.CandidateProfileIDs, matches, fusion.Options{
		MaxSentenceChars: o.cfg.MaxSentenceChars,
		MatchThreshold:   o.cfg.MatchThreshold,
	})
	stop()

	for _, e := range res.Entries {
		metrics.FusedEntriesTotal.WithLabelValues(string(e.Speaker.Provenance)).Inc()
	}
	o.progress("complete")
	o.log.Info().
		Int("entries", len(res.Entries)).
		Int("diarization_segments", len(diar)).
		Bool("degraded", res.Degraded).
		Msg("pipeline run complete")
	return res, nil
}

func (o *Orchestrator) progress(stage string) {
	if o.Bus != nil {
		o.Bus.Publish("pipeline", stage, "", nil)
	}
}

func (o *Orchestrator) timedNormalize(ctx context.Context, path string) (string, func(), error) {
	defer stageTimer("normalize")()
	return o.Normalize(ctx, path)
}

func (o *Orchestrator) timedTranscribe(ctx context.Context, path string, opts Opts) (*provider.TranscriptResult, error) {
	defer stageTimer("transcribe")()
	return o.transcriber.TranscribeFile(ctx, path, provider.TranscribeOpts{
		Language: opts.Language,
		Model:    opts.Model,
	})
}

// timedDiarize returns nil and marks the result degraded when the stage
// fails; fusion then falls back to round-robin attribution.
func (o *Orchestrator) timedDiarize(ctx context.Context, path string, res *Result) []provider.DiarizationSegment {
	if o.voiceprint == nil {
		res.Degraded = true
		return nil
	}
	defer stageTimer("diarize")()

	dr, err := o.voiceprint.Diarize(ctx, path)
	if err != nil {
		if !errors.Is(err, provider.ErrUnsupported) {
			o.log.Warn().Err(err).Msg("diarization failed, continuing without speaker turns")
		}
		res.Degraded = true
		return nil
	}
	return dr.Segments
}

// identifyTags resolves each diarization tag to an enrolled profile by
// clipping the tag's longest span and running 1:N identification on it.
// Per-tag failures skip the tag rather than failing the run.
func (o *Orchestrator) identifyTags(ctx context.Context, path string, diar []provider.DiarizationSegment, candidates []string, res *Result) map[string]fusion.Match {
	if o.voiceprint == nil || len(diar) == 0 || len(candidates) == 0 {
		return nil
	}
	defer stageTimer("identify")()

	longest := make(map[string]provider.DiarizationSegment)
	for _, d := range diar {
		if cur, ok := longest[d.Speaker]; !ok || d.End-d.Start > cur.End-cur.Start {
			longest[d.Speaker] = d
		}
	}

	matches := make(map[string]fusion.Match, len(longest))
	for tag, seg := range longest {
		clipPath, cleanup, err := o.Clip(ctx, path, seg.Start, seg.End)
		if err != nil {
			o.log.Warn().Err(err).Str("tag", tag).Msg("clip for identification failed")
			res.Degraded = true
			continue
		}
		ident, err := o.voiceprint.IdentifySpeaker(ctx, clipPath, candidates)
		cleanup()
		if err != nil {
			o.log.Warn().Err(err).Str("tag", tag).Msg("speaker identification failed")
			res.Degraded = true
			continue
		}
		if ident.Identified {
			matches[tag] = fusion.Match{ProfileID: ident.ProfileID, Confidence: ident.Confidence}
		}
	}
	return matches
}

func stageTimer(stage string) func() {
	start := time.Now()
	return func() {
		metrics.PipelineStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
