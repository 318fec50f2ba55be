package redaction

import (
	"bytes"

	"tlsn-notary/shared"
)

// FinderOptions tunes the public-range sweep.
type FinderOptions struct {
	// ReferenceCursor advances the sweep cursor to each private range's end
	// unconditionally instead of to the furthest end seen so far. When one
	// private match overlaps and outlasts the next, this emits a public
	// range that contains private bytes. Only use it to reproduce range
	// plans produced by older provers.
	ReferenceCursor bool
}

// FindRanges splits transcript into private ranges (every verbatim
// occurrence of every literal, overlaps and duplicates included) and the
// public ranges covering everything else. Public ranges are sorted, disjoint
// and never empty.
func FindRanges(transcript []byte, literals [][]byte) (public, private []shared.Range) {
	return FindRangesWithOptions(transcript, literals, FinderOptions{})
}

// FindRangesWithOptions is FindRanges with an explicit sweep mode.
func FindRangesWithOptions(transcript []byte, literals [][]byte, opts FinderOptions) (public, private []shared.Range) {
	for _, lit := range literals {
		// an empty literal would match at every offset
		if len(lit) == 0 || len(lit) > len(transcript) {
			continue
		}
		for idx := 0; idx+len(lit) <= len(transcript); idx++ {
			if bytes.Equal(transcript[idx:idx+len(lit)], lit) {
				private = append(private, shared.Range{Start: idx, End: idx + len(lit)})
			}
		}
	}

	sorted := append([]shared.Range(nil), private...)
	shared.SortRanges(sorted)

	lastEnd := 0
	for _, r := range sorted {
		if r.Start > lastEnd {
			public = append(public, shared.Range{Start: lastEnd, End: r.Start})
		}
		if opts.ReferenceCursor {
			lastEnd = r.End
		} else {
			lastEnd = max(lastEnd, r.End)
		}
	}

	if lastEnd < len(transcript) {
		public = append(public, shared.Range{Start: lastEnd, End: len(transcript)})
	}

	return public, private
}

// Mask returns a copy of transcript with every byte outside the given
// ranges replaced by fill.
func Mask(transcript []byte, keep []shared.Range, fill byte) []byte {
	out := bytes.Repeat([]byte{fill}, len(transcript))
	for _, r := range keep {
		if !r.Within(len(transcript)) {
			continue
		}
		copy(out[r.Start:r.End], transcript[r.Start:r.End])
	}
	return out
}

// Uncovered returns the ranges of a buffer of length n not covered by any
// of the given ranges.
func Uncovered(n int, covered []shared.Range) []shared.Range {
	var gaps []shared.Range
	cursor := 0
	for _, r := range shared.ConsolidateRanges(covered) {
		if r.Start > cursor {
			gaps = append(gaps, shared.Range{Start: cursor, End: min(r.Start, n)})
		}
		cursor = max(cursor, r.End)
	}
	if cursor < n {
		gaps = append(gaps, shared.Range{Start: cursor, End: n})
	}
	return gaps
}
