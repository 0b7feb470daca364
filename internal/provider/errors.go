package provider

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnsupported marks an operation a provider does not implement.
// Callers check with errors.Is and treat it as a capability-negotiation
// failure, distinct from runtime faults.
var ErrUnsupported = errors.New("unsupported operation")

// Unsupported builds a capability-negotiation error for the given
// provider/operation pair.
func Unsupported(provider, op string) error {
	return fmt.Errorf("%s: %s: %w", provider, op, ErrUnsupported)
}

// ErrOutOfOrder marks a provider output stream whose segments regress in
// start time. Out-of-order segments are a protocol violation, not data to
// be silently accepted.
var ErrOutOfOrder = errors.New("segments out of order")

// ValidateSegments checks per-stream ordering invariants: start <= end for
// every segment, and non-decreasing start times across the stream.
func ValidateSegments(segs []TranscriptSegment) error {
	prev := math.Inf(-1)
	for i, s := range segs {
		if s.Start > s.End {
			return fmt.Errorf("segment %d: start %.3f > end %.3f: %w", i, s.Start, s.End, ErrOutOfOrder)
		}
		if s.Start < prev {
			return fmt.Errorf("segment %d: start %.3f precedes %.3f: %w", i, s.Start, prev, ErrOutOfOrder)
		}
		prev = s.Start
	}
	return nil
}

// ValidateDiarization applies the same ordering invariants to diarization
// output.
func ValidateDiarization(segs []DiarizationSegment) error {
	prev := math.Inf(-1)
	for i, s := range segs {
		if s.Start > s.End {
			return fmt.Errorf("diarization segment %d: start %.3f > end %.3f: %w", i, s.Start, s.End, ErrOutOfOrder)
		}
		if s.Start < prev {
			return fmt.Errorf("diarization segment %d: start %.3f precedes %.3f: %w", i, s.Start, prev, ErrOutOfOrder)
		}
		prev = s.Start
	}
	return nil
}
