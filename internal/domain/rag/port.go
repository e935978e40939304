package rag

import "context"

// Embedder port for the embedding backend. Returns one fixed-length vector
// per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Ranker port: selects the documents most relevant to the query. The input
// set must be exactly the historical documents plus one current-analysis
// document; implementations must keep the current-analysis document in the
// output even when similarity alone would drop it.
type Ranker interface {
	Rank(ctx context.Context, docs []Document, query string) ([]Document, error)
}

// Generator port for the external text-generation service.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
