// Package wespeaker adapts the WeSpeaker voiceprint engine: embedding
// extraction, 1:1 verification, and 1:N identification. WeSpeaker has no
// diarization model; Diarize reports the missing capability.
package wespeaker

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
	scriptName = "wespeaker_service.py"

	// embeddingDim is the output dimension of the WeSpeaker ResNet models.
	embeddingDim = 256
)

type Config struct {
	PythonBin string
	EngineDir string
	// Threshold is the minimum mapped cosine similarity for a verify or
	// identify hit.
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
		log:   log.With().Str("provider", "wespeaker").Logger(),
	}
}

func (p *Provider) Name() string   { return "wespeaker" }
func (p *Provider) Dimension() int { return embeddingDim }

func (p *Provider) script() string {
	return filepath.Join(p.cfg.EngineDir, scriptName)
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

// EnrollProfile extracts an embedding from the sample and folds it into the
// profile's running average.
func (p *Provider) EnrollProfile(ctx context.Context, profileID, audioPath string) (*provider.EnrollmentResult, error) {
	emb, err := p.extract(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("wespeaker: enroll: %w", err)
	}
	prof, err := p.store.Enroll(profileID, emb)
	if err != nil {
		return nil, fmt.Errorf("wespeaker: enroll: %w", err)
	}
	return &provider.EnrollmentResult{
		ProfileID:       prof.ID,
		Status:          string(prof.Status),
		EnrollmentCount: prof.EnrollmentCount,
		Dimension:       embeddingDim,
	}, nil
}

// VerifySpeaker extracts an embedding from the sample and compares it to
// the stored profile. The comparison runs in-process; the engine is only
// needed for extraction.
func (p *Provider) VerifySpeaker(ctx context.Context, profileID, audioPath string) (*provider.VerificationResult, error) {
	stored, err := p.store.Embedding(profileID)
	if err != nil {
		return nil, fmt.Errorf("wespeaker: verify: %w", err)
	}
	emb, err := p.extract(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("wespeaker: verify: %w", err)
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

// IdentifySpeaker scores the sample against the enrolled candidates. The
// reference set is serialized and handed to the engine, which extracts the
// test embedding once and scores all candidates in one invocation.
func (p *Provider) IdentifySpeaker(ctx context.Context, audioPath string, candidateIDs []string) (*provider.IdentificationResult, error) {
	refs := p.store.Embeddings(candidateIDs)
	if len(refs) == 0 {
		return &provider.IdentificationResult{}, nil
	}
	refJSON, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("wespeaker: identify: %w", err)
	}

	var res identifyResult
	err = subproc.RunJSON(ctx, p.log, &res, p.cfg.PythonBin,
		p.script(), "identify", audioPath, string(refJSON), fmt.Sprintf("%.2f", p.cfg.Threshold))
	if err != nil {
		return nil, fmt.Errorf("wespeaker: identify: %w", err)
	}
	if err := res.Check(); err != nil {
		return nil, fmt.Errorf("wespeaker: identify: %w", err)
	}

	return &provider.IdentificationResult{
		Identified: res.Identified,
		ProfileID:  res.ProfileID,
		Confidence: res.Confidence,
		Candidates: res.Candidates,
	}, nil
}

func (p *Provider) Diarize(ctx context.Context, audioPath string) (*provider.DiarizationResult, error) {
	return nil, provider.Unsupported("wespeaker", "diarize")
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(p.script()); err != nil {
		return fmt.Errorf("wespeaker: engine script: %w", err)
	}
	return nil
}
