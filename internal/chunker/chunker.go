// Package chunker splits extracted text into overlapping windows for
// embedding. Splitting is pure and deterministic for a given parameter set.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultTargetChars  = 500
	DefaultOverlapChars = 50

	// separatorRadius bounds how far a cut may drift from the target to
	// land on a natural boundary.
	separatorRadius = 50
)

// separators in preference order; the empty fallback is the hard cut at the
// target size.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunk is one window of the source text. Ordinals are contiguous from 0 in
// source order.
type Chunk struct {
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
}

// Split chunks text with the default window parameters.
func Split(text string) []Chunk {
	return SplitWithOptions(text, DefaultTargetChars, DefaultOverlapChars)
}

// SplitWithOptions slides a targetChars window over the text, advancing by
// targetChars-overlapChars each step. Each cut prefers the latest natural
// separator within separatorRadius of the target, and falls back to a hard
// cut. Whitespace-only windows are dropped and ordinals closed up.
func SplitWithOptions(text string, targetChars, overlapChars int) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	// Work in runes so we never cut a UTF-8 sequence in half.
	r := []rune(text)

	if targetChars <= 0 {
		targetChars = DefaultTargetChars
	}
	if overlapChars < 0 || overlapChars >= targetChars {
		overlapChars = targetChars / 10
	}
	step := targetChars - overlapChars

	out := make([]Chunk, 0, (len(r)/step)+1)
	for start := 0; start < len(r); start += step {
		end := start + targetChars
		if end >= len(r) {
			end = len(r)
		} else {
			end = cutPoint(r, start, targetChars)
		}

		if piece := strings.TrimSpace(string(r[start:end])); piece != "" {
			out = append(out, Chunk{Ordinal: len(out), Text: piece})
		}

		if end == len(r) {
			break
		}
	}

	return out
}

// cutPoint finds where to end the window starting at start. It scans the
// region [target-radius, target+radius) for the latest occurrence of the
// highest-priority separator and cuts just after it; with no separator in
// range the cut lands exactly on the target.
func cutPoint(r []rune, start, targetChars int) int {
	lo := start + targetChars - separatorRadius
	if lo <= start {
		lo = start + 1
	}
	hi := start + targetChars + separatorRadius
	if hi > len(r) {
		hi = len(r)
	}
	if lo >= hi {
		return start + targetChars
	}

	window := string(r[lo:hi])
	for _, sep := range separators {
		if idx := strings.LastIndex(window, sep); idx >= 0 {
			return lo + utf8.RuneCountInString(window[:idx]) + utf8.RuneCountInString(sep)
		}
	}
	return start + targetChars
}
