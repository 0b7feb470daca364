// Package provider defines the capability contracts implemented by
// transcription and voiceprint backends. Callers program against these
// interfaces and never see whether a backend is a network client or a
// local inference subprocess.
package provider

import "context"

// Transcriber is the interface for speech-to-text backends.
//
// Batch-only backends must return ErrUnsupported from the realtime
// operations rather than silently doing nothing; callers treat that as a
// capability-negotiation failure, not a runtime fault.
type Transcriber interface {
	Name() string
	StartRealtime(ctx context.Context, cfg StreamConfig) error
	SendAudio(chunk []byte) error
	StopRealtime(ctx context.Context) error
	TranscribeFile(ctx context.Context, audioPath string, opts TranscribeOpts) (*TranscriptResult, error)
	HealthCheck(ctx context.Context) error
}

// Voiceprint is the interface for speaker-embedding backends.
// Not every backend implements every operation; absence is an
// ErrUnsupported error, never a silent no-op.
type Voiceprint interface {
	Name() string
	Dimension() int
	CreateProfile(ctx context.Context, ownerID string) (string, error)
	EnrollProfile(ctx context.Context, profileID, audioPath string) (*EnrollmentResult, error)
	DeleteProfile(ctx context.Context, profileID string) error
	IdentifySpeaker(ctx context.Context, audioPath string, candidateIDs []string) (*IdentificationResult, error)
	VerifySpeaker(ctx context.Context, profileID, audioPath string) (*VerificationResult, error)
	Diarize(ctx context.Context, audioPath string) (*DiarizationResult, error)
	HealthCheck(ctx context.Context) error
}

// StreamConfig configures a realtime recognition stream.
type StreamConfig struct {
	Language   string
	SampleRate int

	// OnTranscript receives partial and final recognition results.
	// A final result marks a committed sentence; partials may be revised.
	OnTranscript func(text string, final bool, start, end float64)

	// OnError receives recoverable engine errors. A terminal failure
	// (process crash, dropped connection) is reported with terminal=true;
	// no further results follow it.
	OnError func(err error, terminal bool)
}

// TranscribeOpts are per-request options for batch transcription.
type TranscribeOpts struct {
	Language string
	Model    string
}

// TranscriptSegment is a timed piece of recognized text.
// Times are seconds relative to stream/file start.
type TranscriptSegment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
	Speaker    string  `json:"speaker,omitempty"`
}

// TranscriptResult is the common batch transcription result from any provider.
type TranscriptResult struct {
	Text     string
	Language string
	Duration float64
	Segments []TranscriptSegment
}

// DiarizationSegment attributes a time span to a provider-local speaker tag
// (e.g. "SPEAKER_01"), not yet resolved to an enrolled identity.
type DiarizationSegment struct {
	Speaker    string  `json:"speaker"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// DiarizationResult is the output of a diarization pass.
type DiarizationResult struct {
	Segments []DiarizationSegment
}

// EnrollmentResult reports the state of a profile after an enrollment call.
type EnrollmentResult struct {
	ProfileID       string
	Status          string
	EnrollmentCount int
	Dimension       int
}

// VerificationResult is the outcome of a 1:1 voiceprint check.
type VerificationResult struct {
	Verified   bool
	Similarity float64
	Threshold  float64
}

// IdentificationCandidate is one scored candidate from a 1:N lookup.
type IdentificationCandidate struct {
	ProfileID  string  `json:"profileId"`
	Confidence float64 `json:"confidence"`
}

// IdentificationResult is the outcome of a 1:N voiceprint lookup.
type IdentificationResult struct {
	Identified bool
	ProfileID  string
	Confidence float64
	Candidates []IdentificationCandidate
}
