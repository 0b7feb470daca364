// Package audio shells out to sox for format conversion and clipping.
package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// soxAvailable caches whether sox is in PATH (checked once at startup).
var soxAvailable *bool

// CheckSox checks if sox is available in PATH. Call once at startup.
func CheckSox() bool {
	if soxAvailable != nil {
		return *soxAvailable
	}
	_, err := exec.LookPath("sox")
	avail := err == nil
	soxAvailable = &avail
	return avail
}

// EnsureCompatibleFormat converts audio to the 16kHz mono WAV the engines
// expect. Returns the path to a temporary WAV file and a cleanup function.
//
// If sox is unavailable, a file that is already WAV passes through unchanged
// with a no-op cleanup; anything else is an error, since the engines cannot
// decode other containers themselves.
func EnsureCompatibleFormat(ctx context.Context, inputPath, tmpDir string) (string, func(), error) {
	noop := func() {}

	if !CheckSox() {
		if strings.EqualFold(filepath.Ext(inputPath), ".wav") {
			return inputPath, noop, nil
		}
		return "", noop, fmt.Errorf("cannot convert %s: sox not in PATH", filepath.Base(inputPath))
	}

	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	outPath := filepath.Join(tmpDir, fmt.Sprintf("meetscribe-conv-%s.wav", uuid.NewString()))

	cmd := exec.CommandContext(ctx, "sox",
		inputPath, outPath,
		"rate", "16000",
		"channels", "1",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return "", noop, fmt.Errorf("sox convert %s: %w: %s", filepath.Base(inputPath), err, strings.TrimSpace(string(out)))
	}

	cleanup := func() {
		os.Remove(outPath)
	}
	return outPath, cleanup, nil
}

// Clip extracts [start, end) seconds of the input into a temporary WAV file.
// Used to isolate one diarization tag's speech for identification.
func Clip(ctx context.Context, inputPath string, start, end float64, tmpDir string) (string, func(), error) {
	noop := func() {}

	if !CheckSox() {
		return "", noop, fmt.Errorf("cannot clip %s: sox not in PATH", filepath.Base(inputPath))
	}
	if end <= start {
		return "", noop, fmt.Errorf("clip %s: empty range [%v,%v)", filepath.Base(inputPath), start, end)
	}

	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	outPath := filepath.Join(tmpDir, fmt.Sprintf("meetscribe-clip-%s.wav", uuid.NewString()))

	cmd := exec.CommandContext(ctx, "sox",
		inputPath, outPath,
		"trim", fmt.Sprintf("%.3f", start), fmt.Sprintf("%.3f", end-start),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return "", noop, fmt.Errorf("sox trim %s: %w: %s", filepath.Base(inputPath), err, strings.TrimSpace(string(out)))
	}

	cleanup := func() {
		os.Remove(outPath)
	}
	return outPath, cleanup, nil
}
