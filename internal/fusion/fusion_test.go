package fusion

import (
	"strings"
	"testing"

	"github.com/snarg/meetscribe/internal/provider"
)

func seg(text string, start, end float64) provider.TranscriptSegment {
	return provider.TranscriptSegment{Text: text, Start: start, End: end}
}

func diarSeg(speaker string, start, end float64) provider.DiarizationSegment {
	return provider.DiarizationSegment{Speaker: speaker, Start: start, End: end}
}

func TestFuse_OverlapPicksGreaterIntersection(t *testing.T) {
	// Two sentence spans [0,2) and [2,5); diarization [0,2.1)->A and
	// [1.9,5)->B. The first span overlaps A by 2.0 and B by 0.1; the second
	// overlaps A by 0.1 and B by 2.9.
	segs := []provider.TranscriptSegment{
		seg("First sentence.", 0, 2),
		seg("Second sentence here.", 2, 5),
	}
	diar := []provider.DiarizationSegment{
		diarSeg("A", 0, 2.1),
		diarSeg("B", 1.9, 5),
	}

	entries := Fuse(segs, diar, nil, nil, Options{})
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Speaker.Label != "A" {
		t.Errorf("entry 0 speaker = %q, want A", entries[0].Speaker.Label)
	}
	if entries[1].Speaker.Label != "B" {
		t.Errorf("entry 1 speaker = %q, want B", entries[1].Speaker.Label)
	}
	for i, e := range entries {
		if e.Speaker.Provenance != ProvenanceDiarization {
			t.Errorf("entry %d provenance = %s, want diarization", i, e.Speaker.Provenance)
		}
	}
}

func TestFuse_TieBreaksToEarliestStart(t *testing.T) {
	segs := []provider.TranscriptSegment{seg("One sentence.", 1, 3)}
	// Both overlap [1,3) by exactly 1s.
	diar := []provider.DiarizationSegment{
		diarSeg("LATE", 2, 3),
		diarSeg("EARLY", 0, 2),
	}

	entries := Fuse(segs, diar, nil, nil, Options{})
	if entries[0].Speaker.Label != "EARLY" {
		t.Errorf("speaker = %q, want EARLY (tie broken by start time)", entries[0].Speaker.Label)
	}
}

func TestFuse_EnrolledMatchBeatsRawTag(t *testing.T) {
	segs := []provider.TranscriptSegment{seg("Hello everyone.", 0, 2)}
	diar := []provider.DiarizationSegment{diarSeg("SPEAKER_00", 0, 2)}
	matches := map[string]Match{
		"SPEAKER_00": {ProfileID: "profile-alice", Confidence: 0.82},
	}

	entries := Fuse(segs, diar, []string{"profile-alice"}, matches, Options{})
	sp := entries[0].Speaker
	if sp.Provenance != ProvenanceEnrolledMatch {
		t.Fatalf("provenance = %s, want enrolled-match", sp.Provenance)
	}
	if sp.ID != "profile-alice" {
		t.Errorf("ID = %q, want profile-alice", sp.ID)
	}
	if sp.Confidence != 0.82 {
		t.Errorf("Confidence = %v, want 0.82", sp.Confidence)
	}
}

func TestFuse_MatchBelowThresholdKeepsRawTag(t *testing.T) {
	segs := []provider.TranscriptSegment{seg("Hello everyone.", 0, 2)}
	diar := []provider.DiarizationSegment{diarSeg("SPEAKER_00", 0, 2)}
	matches := map[string]Match{
		"SPEAKER_00": {ProfileID: "profile-alice", Confidence: 0.2},
	}

	entries := Fuse(segs, diar, []string{"profile-alice"}, matches, Options{MatchThreshold: 0.40})
	sp := entries[0].Speaker
	if sp.Provenance != ProvenanceDiarization {
		t.Errorf("provenance = %s, want diarization", sp.Provenance)
	}
	if sp.Label != "SPEAKER_00" {
		t.Errorf("Label = %q, want SPEAKER_00", sp.Label)
	}
}

func TestFuse_OverlapNeverFallsBackToRoundRobin(t *testing.T) {
	// Any span with positive diarization overlap must not get round-robin
	// provenance, even with candidates available.
	segs := []provider.TranscriptSegment{
		seg("Covered sentence.", 0, 2),
		seg("Uncovered sentence.", 10, 12),
	}
	diar := []provider.DiarizationSegment{diarSeg("SPEAKER_01", 1.9, 2.5)}
	candidates := []string{"p1", "p2"}

	entries := Fuse(segs, diar, candidates, nil, Options{})
	if entries[0].Speaker.Provenance == ProvenanceRoundRobin {
		t.Error("span with overlap > 0 got fallback-roundrobin provenance")
	}
	if entries[0].Speaker.Provenance != ProvenanceDiarization {
		t.Errorf("entry 0 provenance = %s, want diarization", entries[0].Speaker.Provenance)
	}
	if entries[1].Speaker.Provenance != ProvenanceRoundRobin {
		t.Errorf("entry 1 provenance = %s, want fallback-roundrobin", entries[1].Speaker.Provenance)
	}
}

func TestFuse_RoundRobinCyclesCandidates(t *testing.T) {
	segs := []provider.TranscriptSegment{
		seg("One.", 0, 1),
		seg("Two.", 1, 2),
		seg("Three.", 2, 3),
	}
	candidates := []string{"p1", "p2"}

	entries := Fuse(segs, nil, candidates, nil, Options{})
	want := []string{"p1", "p2", "p1"}
	for i, e := range entries {
		if e.Speaker.ID != want[i] {
			t.Errorf("entry %d speaker = %q, want %q", i, e.Speaker.ID, want[i])
		}
		if e.Speaker.Provenance != ProvenanceRoundRobin {
			t.Errorf("entry %d provenance = %s, want fallback-roundrobin", i, e.Speaker.Provenance)
		}
		if e.Speaker.Confidence != roundRobinConfidence {
			t.Errorf("entry %d confidence = %v, want %v", i, e.Speaker.Confidence, roundRobinConfidence)
		}
	}
}

func TestFuse_NoCandidatesYieldsUnidentified(t *testing.T) {
	segs := []provider.TranscriptSegment{seg("Anyone there?", 0, 1)}

	entries := Fuse(segs, nil, nil, nil, Options{})
	sp := entries[0].Speaker
	if sp.Provenance != ProvenanceUnidentified {
		t.Errorf("provenance = %s, want unidentified", sp.Provenance)
	}
	if sp.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", sp.Confidence)
	}
}

func TestGroupSentences_PunctuationBoundary(t *testing.T) {
	segs := []provider.TranscriptSegment{
		seg("hello", 0, 0.5),
		seg("world.", 0.5, 1.0),
		seg("next", 1.0, 1.5),
		seg("one!", 1.5, 2.0),
	}

	spans := groupSentences(segs, 120)
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2: %+v", len(spans), spans)
	}
	if spans[0].text != "hello world." {
		t.Errorf("span 0 = %q", spans[0].text)
	}
	if spans[0].start != 0 || spans[0].end != 1.0 {
		t.Errorf("span 0 range = [%v,%v], want [0,1]", spans[0].start, spans[0].end)
	}
	if spans[1].text != "next one!" {
		t.Errorf("span 1 = %q", spans[1].text)
	}
}

func TestGroupSentences_MaxLengthCutsFirst(t *testing.T) {
	long := strings.Repeat("word ", 10) // 50 chars, no punctuation
	segs := []provider.TranscriptSegment{
		seg(strings.TrimSpace(long), 0, 1),
		seg(strings.TrimSpace(long), 1, 2),
		seg("tail", 2, 3),
	}

	spans := groupSentences(segs, 60)
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	// First span was cut by length, second is the unterminated tail.
	if spans[1].text != "tail" {
		t.Errorf("span 1 = %q, want tail", spans[1].text)
	}
}

func TestGroupSentences_CJKPunctuationAndJoining(t *testing.T) {
	segs := []provider.TranscriptSegment{
		seg("你好", 0, 0.5),
		seg("世界。", 0.5, 1.0),
		seg("再见。", 1.0, 1.5),
	}

	spans := groupSentences(segs, 120)
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2: %+v", len(spans), spans)
	}
	if spans[0].text != "你好世界。" {
		t.Errorf("span 0 = %q, want CJK joined without space", spans[0].text)
	}
}

func TestFuse_EmptyTranscript(t *testing.T) {
	entries := Fuse(nil, nil, []string{"p1"}, nil, Options{})
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}
