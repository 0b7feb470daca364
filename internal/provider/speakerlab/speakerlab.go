// Package speakerlab adapts the 3D-Speaker (ERes2Net) voiceprint engine.
// It covers the full voiceprint surface including diarization, which runs
// through a companion engine script.
package speakerlab

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/provider"
	"github.com/snarg/meetscribe/internal/subproc"
	"github.com/snarg/meetscribe/internal/voiceprint"
)

const (
	scriptName  = "3dspeaker_service.py"
	diarizeName = "speaker_diarization.py"

	// embeddingDim is the output dimension of the ERes2Net models.
	embeddingDim = 192
)

type Config struct {
	PythonBin string
	EngineDir string
	Threshold float64
}

type Provider struct {
	cfg   Config
	store *voiceprint.Store
	log   zerolog.Logger
}

func New(cfg Config, store *voiceprint.Store, log zerolog.Logger) *Provider {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.50
	}
	return &Provider{
		cfg:   cfg,
		store: store,
		log:   log.With().Str("provider", "speakerlab").Logger(),
	}
}

func (p *Provider) Name() string   { return "speakerlab" }
func (p *Provider) Dimension() int { return embeddingDim }

func (p *Provider) script() string {
	return filepath.Join(p.cfg.EngineDir, scriptName)
}

func (p *Provider) diarizeScript() string {
	return filepath.Join(p.cfg.EngineDir, diarizeName)
}

func (p *Provider) CreateProfile(ctx context.Context, ownerID string) (string, error) {
	prof := p.store.Create(ownerID)
	return prof.ID, nil
}

func (p *Provider) DeleteProfile(ctx context.Context, profileID string) error {
	return p.store.Delete(profileID)
}

type extractResult struct {
	subproc.Envelope
	Embedding []float64 `json:"embedding"`
}

func (p *Provider) extract(ctx context.Context, audioPath string) ([]float64, error) {
	var res extractResult
	if err := subproc.RunJSON(ctx, p.log, &res, p.cfg.PythonBin, p.script(), "extract", audioPath); err != nil {
		return nil, err
	}
	if err := res.Check(); err != nil {
		return nil, err
	}
	if len(res.Embedding) != embeddingDim {
		return nil, fmt.Errorf("engine returned %d-dim embedding, want %d", len(res.Embedding), embeddingDim)
	}
	return res.Embedding, nil
}

func (p *Provider) EnrollProfile(ctx context.Context, profileID, audioPath string) (*provider.EnrollmentResult, error) {
	emb, err := p.extract(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("speakerlab: enroll: %w", err)
	}
	prof, err := p.store.Enroll(profileID, emb)
	if err != nil {
		return nil, fmt.Errorf("speakerlab: enroll: %w", err)
	}
	return &provider.EnrollmentResult{
		ProfileID:       prof.ID,
		Status:          string(prof.Status),
		EnrollmentCount: prof.EnrollmentCount,
		Dimension:       embeddingDim,
	}, nil
}

func (p *Provider) VerifySpeaker(ctx context.Context, profileID, audioPath string) (*provider.VerificationResult, error) {
	stored, err := p.store.Embedding(profileID)
	if err != nil {
		return nil, fmt.Errorf("speakerlab: verify: %w", err)
	}
	emb, err := p.extract(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("speakerlab: verify: %w", err)
	}

	sim := voiceprint.Cosine(stored, emb)
	return &provider.VerificationResult{
		Verified:   sim >= p.cfg.Threshold,
		Similarity: sim,
		Threshold:  p.cfg.Threshold,
	}, nil
}

type identifyResult struct {
	subproc.Envelope
	Identified bool                               `json:"identified"`
	ProfileID  string                             `json:"profileId"`
	Confidence float64                            `json:"confidence"`
	Candidates []provider.IdentificationCandidate `json:"candidates"`
}

func (p *Provider) IdentifySpeaker(ctx context.Context, audioPath string, candidateIDs []string) (*provider.IdentificationResult, error) {
	refs := p.store.Embeddings(candidateIDs)
	if len(refs) == 0 {
		return &provider.IdentificationResult{}, nil
	}
	refJSON, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("speakerlab: identify: %w", err)
	}

	var res identifyResult
	err = subproc.RunJSON(ctx, p.log, &res, p.cfg.PythonBin,
		p.script(), "identify", audioPath, string(refJSON), fmt.Sprintf("%.2f", p.cfg.Threshold))
	if err != nil {
		return nil, fmt.Errorf("speakerlab: identify: %w", err)
	}
	if err := res.Check(); err != nil {
		return nil, fmt.Errorf("speakerlab: identify: %w", err)
	}

	return &provider.IdentificationResult{
		Identified: res.Identified,
		ProfileID:  res.ProfileID,
		Confidence: res.Confidence,
		Candidates: res.Candidates,
	}, nil
}

type diarizeResult struct {
	subproc.Envelope
	Segments []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Speaker struct {
			Name string `json:"name"`
		} `json:"speaker"`
	} `json:"segments"`
}

// Diarize splits the recording into per-speaker time spans tagged with
// provider-local labels (SPEAKER_00, SPEAKER_01, ...).
func (p *Provider) Diarize(ctx context.Context, audioPath string) (*provider.DiarizationResult, error) {
	var res diarizeResult
	if err := subproc.RunJSON(ctx, p.log, &res, p.cfg.PythonBin, p.diarizeScript(), audioPath); err != nil {
		return nil, fmt.Errorf("speakerlab: diarize: %w", err)
	}
	if err := res.Check(); err != nil {
		return nil, fmt.Errorf("speakerlab: diarize: %w", err)
	}

	out := &provider.DiarizationResult{}
	for _, s := range res.Segments {
		out.Segments = append(out.Segments, provider.DiarizationSegment{
			Speaker: s.Speaker.Name,
			Start:   s.Start,
			End:     s.End,
		})
	}
	if err := provider.ValidateDiarization(out.Segments); err != nil {
		return nil, fmt.Errorf("speakerlab: diarize: %w", err)
	}
	return out, nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(p.script()); err != nil {
		return fmt.Errorf("speakerlab: engine script: %w", err)
	}
	return nil
}
