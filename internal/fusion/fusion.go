// Package fusion reconciles independently produced transcript segments and
// speaker-diarization segments into a single speaker-attributed transcript.
package fusion

import (
	"strings"
	"unicode/utf8"

	"github.com/snarg/meetscribe/internal/provider"
)

// Provenance records how an entry's speaker was derived. The preference
// order is fixed: enrolled-match > diarization > fallback-roundrobin >
// unidentified.
type Provenance string

const (
	ProvenanceEnrolledMatch Provenance = "enrolled-match"
	ProvenanceDiarization   Provenance = "diarization"
	ProvenanceRoundRobin    Provenance = "fallback-roundrobin"
	ProvenanceUnidentified  Provenance = "unidentified"
)

// roundRobinConfidence is deliberately conservative: round-robin fabricates
// identity assignments with no acoustic basis and must never be claimed as
// high-confidence.
const roundRobinConfidence = 0.3

// Speaker is the attribution attached to a fused entry.
type Speaker struct {
	ID         string     `json:"id,omitempty"`    // enrolled profile id
	Label      string     `json:"label,omitempty"` // raw diarization tag
	Confidence float64    `json:"confidence"`
	Provenance Provenance `json:"provenance"`
}

// Entry is one speaker-attributed sentence of the fused transcript.
// Entries are never mutated after creation.
type Entry struct {
	Text    string  `json:"text"`
	Speaker Speaker `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Match resolves a diarization tag to an enrolled identity, scored by
// embedding similarity over the tag's audio.
type Match struct {
	ProfileID  string
	Confidence float64
}

// Options tune sentence grouping and identity matching.
type Options struct {
	// MaxSentenceChars cuts a sentence that never reaches terminal
	// punctuation. Zero means the default of 120.
	MaxSentenceChars int
	// MatchThreshold is the minimum similarity for an enrolled match.
	// Zero means the default of 0.40.
	MatchThreshold float64
}

func (o Options) withDefaults() Options {
	if o.MaxSentenceChars <= 0 {
		o.MaxSentenceChars = 120
	}
	if o.MatchThreshold <= 0 {
		o.MatchThreshold = 0.40
	}
	return o
}

// Fuse attributes sentence-level spans of the transcript to speakers.
//
// Sentences are cut at terminal punctuation or the max length, whichever
// comes first. Each sentence takes the diarization segment with maximal
// temporal overlap (ties to the earliest start); a tag that resolves to an
// enrolled identity above the threshold wins provenance enrolled-match,
// otherwise the raw tag is kept with provenance diarization. Sentences with
// no overlapping diarization fall back to round-robin over the candidate
// list, and to unidentified when no candidates exist.
func Fuse(segs []provider.TranscriptSegment, diar []provider.DiarizationSegment, candidates []string, matches map[string]Match, opts Options) []Entry {
	opts = opts.withDefaults()

	spans := groupSentences(segs, opts.MaxSentenceChars)
	entries := make([]Entry, 0, len(spans))

	rr := 0
	for _, sp := range spans {
		e := Entry{Text: sp.text, Start: sp.start, End: sp.end}

		if d, overlap := bestOverlap(diar, sp.start, sp.end); overlap > 0 {
			if m, ok := matches[d.Speaker]; ok && m.Confidence >= opts.MatchThreshold {
				e.Speaker = Speaker{
					ID:         m.ProfileID,
					Confidence: m.Confidence,
					Provenance: ProvenanceEnrolledMatch,
				}
			} else {
				conf := d.Confidence
				if conf == 0 {
					conf = overlapFraction(overlap, sp.start, sp.end)
				}
				e.Speaker = Speaker{
					Label:      d.Speaker,
					Confidence: conf,
					Provenance: ProvenanceDiarization,
				}
			}
		} else if len(candidates) > 0 {
			e.Speaker = Speaker{
				ID:         candidates[rr%len(candidates)],
				Confidence: roundRobinConfidence,
				Provenance: ProvenanceRoundRobin,
			}
			rr++
		} else {
			e.Speaker = Speaker{Confidence: 0, Provenance: ProvenanceUnidentified}
		}

		entries = append(entries, e)
	}
	return entries
}

// sentenceSpan is a sentence-level grouping of transcript segments with the
// time range spanning its constituents.
type sentenceSpan struct {
	text  string
	start float64
	end   float64
}

// groupSentences cuts transcript segments into sentence spans at terminal
// punctuation or maxChars, whichever comes first.
func groupSentences(segs []provider.TranscriptSegment, maxChars int) []sentenceSpan {
	var spans []sentenceSpan
	var cur *sentenceSpan

	for _, s := range segs {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if cur == nil {
			cur = &sentenceSpan{text: text, start: s.Start, end: s.End}
		} else {
			cur.text = joinText(cur.text, text)
			cur.end = s.End
		}
		if endsSentence(cur.text) || utf8.RuneCountInString(cur.text) >= maxChars {
			spans = append(spans, *cur)
			cur = nil
		}
	}
	if cur != nil {
		spans = append(spans, *cur)
	}
	return spans
}

// joinText concatenates segment texts, inserting a space only between
// scripts that use one. CJK segments are concatenated directly.
func joinText(a, b string) string {
	last, _ := utf8.DecodeLastRuneInString(a)
	first, _ := utf8.DecodeRuneInString(b)
	if isCJK(last) || isCJK(first) {
		return a + b
	}
	return a + " " + b
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || (r >= 0x3000 && r <= 0x303F) || (r >= 0xFF00 && r <= 0xFF60)
}

func endsSentence(text string) bool {
	r, _ := utf8.DecodeLastRuneInString(text)
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// bestOverlap selects the diarization segment with maximal temporal
// intersection with [start, end); ties break to the earliest segment start.
func bestOverlap(diar []provider.DiarizationSegment, start, end float64) (provider.DiarizationSegment, float64) {
	var best provider.DiarizationSegment
	bestOv := 0.0
	for _, d := range diar {
		ov := overlapLen(d.Start, d.End, start, end)
		if ov > bestOv || (ov == bestOv && ov > 0 && d.Start < best.Start) {
			best = d
			bestOv = ov
		}
	}
	return best, bestOv
}

func overlapLen(aStart, aEnd, bStart, bEnd float64) float64 {
	lo := aStart
	if bStart > lo {
		lo = bStart
	}
	hi := aEnd
	if bEnd < hi {
		hi = bEnd
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

func overlapFraction(overlap, start, end float64) float64 {
	span := end - start
	if span <= 0 {
		return 1
	}
	f := overlap / span
	if f > 1 {
		f = 1
	}
	return f
}
