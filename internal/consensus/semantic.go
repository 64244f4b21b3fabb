package consensus

import (
	"context"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
)

// Embedder computes pairwise semantic similarity for a set of texts.
type Embedder interface {
	Matrix(ctx context.Context, texts []string) (Matrix, error)
}

// ChromemEmbedder embeds texts into a throwaway in-memory chromem collection
// and reads cosine similarities back with nearest-neighbour queries.
type ChromemEmbedder struct {
	embed chromem.EmbeddingFunc
}

// NewChromemEmbedder wraps an embedding function.
func NewChromemEmbedder(embed chromem.EmbeddingFunc) *ChromemEmbedder {
	return &ChromemEmbedder{embed: embed}
}

// NewOllamaEmbedder embeds with a local Ollama model.
func NewOllamaEmbedder(model, baseURL string) *ChromemEmbedder {
	return NewChromemEmbedder(chromem.NewEmbeddingFuncOllama(model, baseURL))
}

// NewOpenAIEmbedder embeds with the OpenAI embeddings API.
func NewOpenAIEmbedder(apiKey, model string) *ChromemEmbedder {
	if model == "" {
		model = string(chromem.EmbeddingModelOpenAI3Small)
	}
	return NewChromemEmbedder(chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI(model)))
}

func (e *ChromemEmbedder) Matrix(ctx context.Context, texts []string) (Matrix, error) {
	m := newMatrix(len(texts))
	if len(texts) < 2 {
		return m, nil
	}

	db := chromem.NewDB()
	col, err := db.CreateCollection("stage", nil, e.embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	docs := make([]chromem.Document, len(texts))
	for i, t := range texts {
		docs[i] = chromem.Document{ID: strconv.Itoa(i), Content: t}
	}
	if err := col.AddDocuments(ctx, docs, len(docs)); err != nil {
		return nil, fmt.Errorf("embed outputs: %w", err)
	}

	for i := range texts {
		doc, err := col.GetByID(ctx, strconv.Itoa(i))
		if err != nil {
			return nil, fmt.Errorf("load embedding %d: %w", i, err)
		}
		results, err := col.QueryEmbedding(ctx, doc.Embedding, len(texts), nil, nil)
		if err != nil {
			return nil, fmt.Errorf("query embedding %d: %w", i, err)
		}
		for _, r := range results {
			j, err := strconv.Atoi(r.ID)
			if err != nil || j == i {
				continue
			}
			m[i][j] = clampUnit(float64(r.Similarity))
		}
	}
	return m, nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
