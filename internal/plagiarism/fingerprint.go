package plagiarism

import (
	"github.com/cespare/xxhash/v2"
)

// rollBase is the multiplier of the polynomial k-gram hash. Arithmetic is mod 2^64.
const rollBase uint64 = 1099511628211

// Fingerprint is a selected k-gram hash and the source region it covers
type Fingerprint struct {
	Hash        uint64
	StartLine   int
	EndLine     int
	StartOffset int
	EndOffset   int
}

// Fingerprinter selects winnowed k-gram hashes from a token stream
type Fingerprinter struct {
	K      int // tokens per k-gram
	Window int // k-gram hashes per winnowing window
}

// Fingerprint hashes every k-gram of tokens and keeps the winnowed minimum of each
// window. With fewer than K tokens the whole sequence is one gram, so at most one
// fingerprint comes back.
func (f Fingerprinter) Fingerprint(tokens []Token) []Fingerprint {
	if len(tokens) == 0 {
		return nil
	}

	k := f.K
	if k <= 0 {
		k = 1
	}
	if len(tokens) < k {
		k = len(tokens)
	}

	grams := rollingHashes(tokens, k)
	picks := winnow(grams, f.Window)

	prints := make([]Fingerprint, 0, len(picks))
	for _, i := range picks {
		first, last := tokens[i], tokens[i+k-1]
		prints = append(prints, Fingerprint{
			Hash:        grams[i],
			StartLine:   first.Line,
			EndLine:     last.EndLine,
			StartOffset: first.Offset,
			EndOffset:   last.End,
		})
	}
	return prints
}

// rollingHashes returns the hash of every contiguous run of k tokens
func rollingHashes(tokens []Token, k int) []uint64 {
	n := len(tokens) - k + 1
	th := make([]uint64, len(tokens))
	for i, tok := range tokens {
		th[i] = xxhash.Sum64String(tok.Text)
	}

	// rollBase^(k-1), used to drop the outgoing token
	pow := uint64(1)
	for i := 1; i < k; i++ {
		pow *= rollBase
	}

	grams := make([]uint64, n)
	var h uint64
	for i := 0; i < k; i++ {
		h = h*rollBase + th[i]
	}
	grams[0] = h
	for i := 1; i < n; i++ {
		h = (h-th[i-1]*pow)*rollBase + th[i+k-1]
		grams[i] = h
	}
	return grams
}

// winnow returns the indices selected from hashes. Each window of w hashes
// contributes its minimum, the rightmost one on ties; a position shared by
// consecutive windows is reported once. Fewer than w hashes form one window.
func winnow(hashes []uint64, w int) []int {
	if len(hashes) == 0 {
		return nil
	}
	if w <= 0 {
		w = 1
	}
	if w > len(hashes) {
		w = len(hashes)
	}

	picks := make([]int, 0, len(hashes)/w+1)
	last := -1
	minIdx := -1
	for start := 0; start+w <= len(hashes); start++ {
		end := start + w - 1
		if minIdx < start {
			// previous minimum left the window; rescan
			minIdx = start
			for j := start + 1; j <= end; j++ {
				if hashes[j] <= hashes[minIdx] {
					minIdx = j
				}
			}
		} else if hashes[end] <= hashes[minIdx] {
			minIdx = end
		}
		if minIdx != last {
			picks = append(picks, minIdx)
			last = minIdx
		}
	}
	return picks
}
