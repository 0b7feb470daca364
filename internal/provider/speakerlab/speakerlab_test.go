package speakerlab

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe/internal/voiceprint"
)

func writeEngine(t *testing.T, name, script string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestEnrollUsesERes2NetDimension(t *testing.T) {
	dir := writeEngine(t, scriptName, `
emb=$(seq 1 192 | sed 's/.*/0.0722/' | paste -sd, -)
printf '{"success":true,"embedding":[%s]}\n' "$emb"
`)
	store := voiceprint.NewStore()
	p := New(Config{PythonBin: "sh", EngineDir: dir}, store, zerolog.Nop())
	ctx := context.Background()

	id, _ := p.CreateProfile(ctx, "owner-1")
	res, err := p.EnrollProfile(ctx, id, "/tmp/sample.wav")
	if err != nil {
		t.Fatalf("EnrollProfile: %v", err)
	}
	if res.Dimension != 192 {
		t.Errorf("dimension = %d, want 192", res.Dimension)
	}
	if p.Dimension() != 192 {
		t.Errorf("Dimension() = %d, want 192", p.Dimension())
	}
}

func TestDiarize(t *testing.T) {
	dir := writeEngine(t, diarizeName, `
printf '{"success":true,"segments":[{"start":0.0,"end":4.2,"speaker":{"name":"SPEAKER_00"}},{"start":4.2,"end":9.8,"speaker":{"name":"SPEAKER_01"}}]}\n'
`)
	p := New(Config{PythonBin: "sh", EngineDir: dir}, voiceprint.NewStore(), zerolog.Nop())

	res, err := p.Diarize(context.Background(), "/tmp/meeting.wav")
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(res.Segments))
	}
	if res.Segments[0].Speaker != "SPEAKER_00" {
		t.Errorf("segment 0 speaker = %q", res.Segments[0].Speaker)
	}
	if res.Segments[1].Start != 4.2 || res.Segments[1].End != 9.8 {
		t.Errorf("segment 1 range = [%v,%v]", res.Segments[1].Start, res.Segments[1].End)
	}
}

func TestDiarizeEngineFailure(t *testing.T) {
	dir := writeEngine(t, diarizeName, `
echo "pyannote model missing" >&2
exit 1
`)
	p := New(Config{PythonBin: "sh", EngineDir: dir}, voiceprint.NewStore(), zerolog.Nop())

	if _, err := p.Diarize(context.Background(), "/tmp/meeting.wav"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDiarizeRejectsOutOfOrderSegments(t *testing.T) {
	dir := writeEngine(t, diarizeName, `
printf '{"success":true,"segments":[{"start":5.0,"end":6.0,"speaker":{"name":"A"}},{"start":1.0,"end":2.0,"speaker":{"name":"B"}}]}\n'
`)
	p := New(Config{PythonBin: "sh", EngineDir: dir}, voiceprint.NewStore(), zerolog.Nop())

	if _, err := p.Diarize(context.Background(), "/tmp/meeting.wav"); err == nil {
		t.Fatal("out-of-order segments accepted")
	}
}
