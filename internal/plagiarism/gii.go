package plagiarism

// GII (Global Inverted Index) maps hash → indices of the documents containing it
type GII map[uint64][]int

// BuildGII builds the inverted index over docs.
// Optimization: hashes held by a single document are dropped, they cannot link a pair.
func BuildGII(docs []*Document) GII {
	gii := make(GII)

	// First pass: hash → [doc indices]; Hashes() is distinct so each doc appears once per hash
	for i, doc := range docs {
		for _, h := range doc.Hashes() {
			gii[h] = append(gii[h], i)
		}
	}

	// Second pass: keep hashes shared by 2+ documents
	for h, ids := range gii {
		if len(ids) < 2 {
			delete(gii, h)
		}
	}

	return gii
}

// Pair identifies two documents by index, A < B
type Pair struct {
	A int
	B int
}

// CandidatePairs returns every pair of the n indexed documents sharing at least
// one hash. Pairs absent from the result have disjoint hash sets and therefore
// similarity 0. When enumerating would insert more pairs than n documents can
// form, as with boilerplate held by most files, it returns all=true and a nil set:
// every pair is then a candidate.
func (gii GII) CandidatePairs(n int) (pairs map[Pair]struct{}, all bool) {
	total := n * (n - 1) / 2
	work := 0
	for _, ids := range gii {
		work += len(ids) * (len(ids) - 1) / 2
		if work > total {
			return nil, true
		}
	}

	pairs = make(map[Pair]struct{}, work)
	for _, ids := range gii {
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				pairs[getPair(ids[i], ids[j])] = struct{}{}
			}
		}
	}
	return pairs, false
}

// getPair orders two indices so the pair key is canonical
func getPair(i, j int) Pair {
	if i < j {
		return Pair{A: i, B: j}
	}
	return Pair{A: j, B: i}
}
