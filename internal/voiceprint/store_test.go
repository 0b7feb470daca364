package voiceprint

import (
	"errors"
	"math"
	"sync"
	"testing"
)

func TestStore_CreateGetDelete(t *testing.T) {
	s := NewStore()

	p := s.Create("owner-1")
	if p.ID == "" {
		t.Fatal("empty profile id")
	}
	if p.Status != StatusCreated {
		t.Errorf("Status = %s, want CREATED", p.Status)
	}

	got, err := s.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OwnerID != "owner-1" {
		t.Errorf("OwnerID = %q", got.OwnerID)
	}

	if err := s.Delete(p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(p.ID); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Get after delete = %v, want ErrProfileNotFound", err)
	}
	if err := s.Delete(p.ID); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("second Delete = %v, want ErrProfileNotFound", err)
	}
}

func TestStore_EnrollPromotesAndAverages(t *testing.T) {
	s := NewStore()
	p := s.Create("owner-1")

	first, err := s.Enroll(p.ID, []float64{1, 0, 0})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if first.Status != StatusEnrolled {
		t.Errorf("Status = %s, want ENROLLED", first.Status)
	}
	if first.EnrollmentCount != 1 {
		t.Errorf("EnrollmentCount = %d, want 1", first.EnrollmentCount)
	}

	second, err := s.Enroll(p.ID, []float64{0, 1, 0})
	if err != nil {
		t.Fatalf("second Enroll: %v", err)
	}
	if second.EnrollmentCount != 2 {
		t.Errorf("EnrollmentCount = %d, want 2", second.EnrollmentCount)
	}

	emb, err := s.Embedding(p.ID)
	if err != nil {
		t.Fatalf("Embedding: %v", err)
	}
	// Mean of two orthogonal unit vectors, renormalized: both axes equal.
	if math.Abs(emb[0]-emb[1]) > 1e-9 {
		t.Errorf("embedding = %v, want equal first two components", emb)
	}
	var norm float64
	for _, x := range emb {
		norm += x * x
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("norm^2 = %v, want unit vector", norm)
	}
}

func TestStore_DimensionMismatch(t *testing.T) {
	s := NewStore()
	p := s.Create("owner-1")

	if _, err := s.Enroll(p.ID, []float64{1, 0, 0}); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if _, err := s.Enroll(p.ID, []float64{1, 0}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Enroll with wrong dims = %v, want ErrDimensionMismatch", err)
	}
}

func TestStore_EmbeddingRequiresEnrollment(t *testing.T) {
	s := NewStore()
	p := s.Create("owner-1")

	if _, err := s.Embedding(p.ID); !errors.Is(err, ErrInsufficientEnrollment) {
		t.Errorf("Embedding on CREATED = %v, want ErrInsufficientEnrollment", err)
	}
	if _, err := s.Embedding("nope"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Embedding on unknown = %v, want ErrProfileNotFound", err)
	}
}

func TestStore_EmbeddingsSkipsUnenrolled(t *testing.T) {
	s := NewStore()
	a := s.Create("a")
	b := s.Create("b")
	if _, err := s.Enroll(a.ID, []float64{0, 1}); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	refs := s.Embeddings([]string{a.ID, b.ID, "missing"})
	if len(refs) != 1 {
		t.Fatalf("got %d refs, want 1", len(refs))
	}
	if _, ok := refs[a.ID]; !ok {
		t.Error("enrolled profile missing from refs")
	}
}

func TestStore_ConcurrentEnrollAndRead(t *testing.T) {
	s := NewStore()
	p := s.Create("owner-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Enroll(p.ID, []float64{1, 0, 0, 0})
				s.Embeddings([]string{p.ID})
				s.Get(p.ID)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.EnrollmentCount != 400 {
		t.Errorf("EnrollmentCount = %d, want 400", got.EnrollmentCount)
	}
}

func TestCosine(t *testing.T) {
	cases := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 0}, []float64{1, 0}, 1.0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, 0.0},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0.5},
		{"mismatched_dims", []float64{1, 0}, []float64{1, 0, 0}, 0.0},
		{"empty", nil, nil, 0.0},
	}
	for _, tc := range cases {
		if got := Cosine(tc.a, tc.b); math.Abs(got-tc.want) > 1e-6 {
			t.Errorf("%s: Cosine = %v, want %v", tc.name, got, tc.want)
		}
	}
}
