package plagiarism

import (
	"sort"

	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Document is one file's fingerprint set, indexed for pair comparison
type Document struct {
	Name   string
	Prints []Fingerprint

	set       *roaring64.Bitmap
	positions map[uint64][]int // hash -> indices into Prints
}

// NewDocument indexes prints by hash
func NewDocument(name string, prints []Fingerprint) *Document {
	d := &Document{
		Name:      name,
		Prints:    prints,
		set:       roaring64.New(),
		positions: make(map[uint64][]int, len(prints)),
	}
	for i, fp := range prints {
		d.set.Add(fp.Hash)
		d.positions[fp.Hash] = append(d.positions[fp.Hash], i)
	}
	return d
}

// Cardinality is the number of distinct hashes in the document
func (d *Document) Cardinality() uint64 {
	return d.set.GetCardinality()
}

// Hashes returns the distinct hashes in ascending order
func (d *Document) Hashes() []uint64 {
	return d.set.ToArray()
}

// Comparison is the outcome of scoring one pair
type Comparison struct {
	Similarity float64
	Shared     uint64
	Spans      []models.Span
}

// Engine bundles the fingerprinting and comparison parameters
type Engine struct {
	fingerprinter  Fingerprinter
	maxOccurrences int
	maxSpans       int
}

// Option configures an Engine
type Option func(*Engine)

// WithKGram sets the k-gram length
func WithKGram(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.fingerprinter.K = k
		}
	}
}

// WithWindow sets the winnowing window
func WithWindow(w int) Option {
	return func(e *Engine) {
		if w > 0 {
			e.fingerprinter.Window = w
		}
	}
}

// WithMaxOccurrences caps how many positions of one shared hash feed span building
func WithMaxOccurrences(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxOccurrences = n
		}
	}
}

// WithMaxSpans caps the spans reported per pair
func WithMaxSpans(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSpans = n
		}
	}
}

// NewEngine creates an engine with k=5, w=4 unless overridden
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		fingerprinter:  Fingerprinter{K: 5, Window: 4},
		maxOccurrences: 8,
		maxSpans:       200,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fingerprinter returns the engine's fingerprinter
func (e *Engine) Fingerprinter() Fingerprinter {
	return e.fingerprinter
}

// Prepare fingerprints normalized tokens into a comparable document
func (e *Engine) Prepare(name string, tokens []Token) *Document {
	return NewDocument(name, e.fingerprinter.Fingerprint(tokens))
}

// Compare scores a against b as Jaccard similarity of their hash sets, scaled to
// 0-100, and reports the matched regions with a on the A side.
func (e *Engine) Compare(a, b *Document) Comparison {
	if a.set.IsEmpty() || b.set.IsEmpty() {
		return Comparison{Spans: []models.Span{}}
	}

	shared := roaring64.And(a.set, b.set)
	inter := shared.GetCardinality()
	union := a.set.GetCardinality() + b.set.GetCardinality() - inter
	if inter == 0 || union == 0 {
		return Comparison{Spans: []models.Span{}}
	}

	return Comparison{
		Similarity: RoundSimilarity(float64(inter) / float64(union) * 100),
		Shared:     inter,
		Spans:      e.spans(a, b, shared),
	}
}

func (e *Engine) spans(a, b *Document, shared *roaring64.Bitmap) []models.Span {
	matches := make([]models.Span, 0, shared.GetCardinality())
	it := shared.Iterator()
	for it.HasNext() {
		h := it.Next()
		pa, pb := a.positions[h], b.positions[h]
		if len(pa) > e.maxOccurrences {
			pa = pa[:e.maxOccurrences]
		}
		if len(pb) > e.maxOccurrences {
			pb = pb[:e.maxOccurrences]
		}
		for _, i := range pa {
			fa := a.Prints[i]
			for _, j := range pb {
				fb := b.Prints[j]
				matches = append(matches, models.Span{
					StartA: fa.StartLine, EndA: fa.EndLine,
					StartB: fb.StartLine, EndB: fb.EndLine,
				})
			}
		}
	}

	spans := MergeSpans(matches)
	if len(spans) > e.maxSpans {
		spans = spans[:e.maxSpans]
	}
	return spans
}

// MergeSpans joins matches whose A ranges and B ranges both overlap or touch,
// repeating until nothing merges, then drops spans contained in another.
// The result is sorted by StartA, then StartB.
func MergeSpans(matches []models.Span) []models.Span {
	if len(matches) == 0 {
		return []models.Span{}
	}
	spans := append([]models.Span(nil), matches...)
	for {
		merged := mergePass(spans)
		if len(merged) == len(spans) {
			spans = merged
			break
		}
		spans = merged
	}
	return dropContained(spans)
}

func mergePass(in []models.Span) []models.Span {
	sortSpans(in)

	out := make([]models.Span, 0, len(in))
	var active []int // indices into out whose A range can still touch later spans
	for _, m := range in {
		kept := active[:0]
		merged := false
		for _, idx := range active {
			s := &out[idx]
			if s.EndA+1 < m.StartA {
				continue
			}
			kept = append(kept, idx)
			if !merged && touches(s.StartB, s.EndB, m.StartB, m.EndB) {
				s.EndA = max(s.EndA, m.EndA)
				s.StartB = min(s.StartB, m.StartB)
				s.EndB = max(s.EndB, m.EndB)
				merged = true
			}
		}
		active = kept
		if !merged {
			out = append(out, m)
			active = append(active, len(out)-1)
		}
	}
	return out
}

func dropContained(spans []models.Span) []models.Span {
	out := make([]models.Span, 0, len(spans))
	for i, s := range spans {
		contained := false
		for j, o := range spans {
			if i == j {
				continue
			}
			if contains(o, s) && (!contains(s, o) || j < i) {
				contained = true
				break
			}
		}
		if !contained {
			out = append(out, s)
		}
	}
	sortSpans(out)
	return out
}

func sortSpans(spans []models.Span) {
	sort.Slice(spans, func(i, j int) bool {
		a, b := spans[i], spans[j]
		if a.StartA != b.StartA {
			return a.StartA < b.StartA
		}
		if a.StartB != b.StartB {
			return a.StartB < b.StartB
		}
		if a.EndA != b.EndA {
			return a.EndA < b.EndA
		}
		return a.EndB < b.EndB
	})
}

// touches reports whether two inclusive line ranges overlap or are adjacent
func touches(s1, e1, s2, e2 int) bool {
	return s2 <= e1+1 && s1 <= e2+1
}

func contains(outer, inner models.Span) bool {
	return outer.StartA <= inner.StartA && inner.EndA <= outer.EndA &&
		outer.StartB <= inner.StartB && inner.EndB <= outer.EndB
}
