package rag

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/himeshgonnade/chronosscan/internal/domain/faults"
	domain "github.com/himeshgonnade/chronosscan/internal/domain/rag"
)

const defaultTopK = 4

// Ranker builds a request-scoped similarity index over the candidate
// documents and returns the top-K for a query. The index lives only for the
// duration of one Rank call; patient histories are small, so rebuilding per
// request is cheaper than keeping a store in sync.
type Ranker struct {
	Embedder domain.Embedder
	TopK     int
}

var _ domain.Ranker = (*Ranker)(nil)

func (r *Ranker) Rank(ctx context.Context, docs []domain.Document, query string) ([]domain.Document, error) {
	k := r.TopK
	if k <= 0 {
		k = defaultTopK
	}
	ix, err := BuildIndex(ctx, r.Embedder, docs)
	if err != nil {
		return nil, err
	}
	return ix.Search(ctx, query, k)
}

// Index is the ephemeral vector index: embedded once, searched once,
// discarded.
type Index struct {
	embedder domain.Embedder
	docs     []domain.Document
	vecs     [][]float32
}

// BuildIndex batch-embeds the candidate documents. The candidate set is
// taken as given: callers pass all historical documents plus exactly one
// current-analysis document.
func BuildIndex(ctx context.Context, embedder domain.Embedder, docs []domain.Document) (*Index, error) {
	ix := &Index{embedder: embedder, docs: docs}
	if len(docs) == 0 {
		return ix, nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d documents: %w", len(vecs), len(docs), faults.ErrInvalidResponse)
	}
	ix.vecs = vecs
	return ix, nil
}

// Search ranks the indexed documents against the query by cosine similarity
// and returns the top k. The current-analysis document is always part of the
// result: the generator depends on seeing present-state data, not only
// history, so if similarity alone would drop it, it takes the last slot.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]domain.Document, error) {
	if len(ix.docs) == 0 {
		return nil, nil
	}
	qv, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors: %w", len(qv), faults.ErrInvalidResponse)
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(ix.docs))
	for i, v := range ix.vecs {
		ranked[i] = scored{idx: i, score: cosine(qv[0], v)}
	}
	// stable: equal scores keep document order (history is newest first)
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]domain.Document, 0, k)
	hasCurrent := false
	for _, s := range ranked[:k] {
		d := ix.docs[s.idx]
		if d.IsCurrentAnalysis() {
			hasCurrent = true
		}
		out = append(out, d)
	}
	if !hasCurrent {
		for _, d := range ix.docs {
			if d.IsCurrentAnalysis() {
				out[len(out)-1] = d
				break
			}
		}
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
