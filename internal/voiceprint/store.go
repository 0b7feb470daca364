// Package voiceprint holds enrolled speaker profiles and the embedding math
// shared by the voiceprint providers. The store is the only owner of
// profile state; providers and handlers go through its synchronized API and
// never hold a raw reference.
package voiceprint

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the enrollment lifecycle state of a profile.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusEnrolling Status = "ENROLLING"
	StatusEnrolled  Status = "ENROLLED"
	StatusFailed    Status = "FAILED"
)

var (
	ErrProfileNotFound        = errors.New("profile not found")
	ErrInsufficientEnrollment = errors.New("profile has no usable enrollment")
	ErrDimensionMismatch      = errors.New("embedding dimension mismatch")
)

// Profile is an enrolled speaker identity. Status ENROLLED implies a
// non-empty embedding dimensionally consistent with the provider.
type Profile struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Embedding       []float64 `json:"-"`
	EnrollmentCount int       `json:"enrollment_count"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store is an in-memory profile table keyed by profile id.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

func NewStore() *Store {
	return &Store{profiles: make(map[string]*Profile)}
}

// Create allocates an empty profile in CREATED state and returns its id.
func (s *Store) Create(ownerID string) *Profile {
	now := time.Now().UTC()
	p := &Profile{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
	return snapshot(p)
}

// Get returns a copy of the profile.
func (s *Store) Get(id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return snapshot(p), nil
}

// Delete removes the profile.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return ErrProfileNotFound
	}
	delete(s.profiles, id)
	return nil
}

// Enroll folds a new embedding into the profile as a running mean of
// normalized vectors, renormalized after each fold, and promotes the
// profile to ENROLLED. The first enrollment fixes the profile's dimension;
// later enrollments must match it.
func (s *Store) Enroll(id string, embedding []float64) (*Profile, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("empty embedding: %w", ErrDimensionMismatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrProfileNotFound
	}

	incoming := Normalize(append([]float64(nil), embedding...))

	if p.EnrollmentCount == 0 {
		p.Embedding = incoming
	} else {
		if len(incoming) != len(p.Embedding) {
			p.Status = StatusFailed
			p.UpdatedAt = time.Now().UTC()
			return nil, fmt.Errorf("got %d dims, profile has %d: %w", len(incoming), len(p.Embedding), ErrDimensionMismatch)
		}
		n := float64(p.EnrollmentCount)
		for i := range p.Embedding {
			p.Embedding[i] = (p.Embedding[i]*n + incoming[i]) / (n + 1)
		}
		Normalize(p.Embedding)
	}

	p.EnrollmentCount++
	p.Status = StatusEnrolled
	p.UpdatedAt = time.Now().UTC()
	return snapshot(p), nil
}

// MarkFailed records an enrollment failure without touching the embedding.
func (s *Store) MarkFailed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[id]; ok && p.Status != StatusEnrolled {
		p.Status = StatusFailed
		p.UpdatedAt = time.Now().UTC()
	}
}

// Embedding returns the stored embedding of an ENROLLED profile.
func (s *Store) Embedding(id string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	if p.Status != StatusEnrolled || len(p.Embedding) == 0 {
		return nil, fmt.Errorf("profile %s: %w", id, ErrInsufficientEnrollment)
	}
	return append([]float64(nil), p.Embedding...), nil
}

// Embeddings returns the embeddings of the given profiles, skipping any
// that are missing or not yet enrolled. Used to build the reference set
// for 1:N identification.
func (s *Store) Embeddings(ids []string) map[string][]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]float64, len(ids))
	for _, id := range ids {
		p, ok := s.profiles[id]
		if !ok || p.Status != StatusEnrolled || len(p.Embedding) == 0 {
			continue
		}
		out[id] = append([]float64(nil), p.Embedding...)
	}
	return out
}

func snapshot(p *Profile) *Profile {
	cp := *p
	cp.Embedding = append([]float64(nil), p.Embedding...)
	return &cp
}
