package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// Hash is a deterministic, offline embedder. Each token hashes into a
// fixed-size bag-of-words vector, so identical texts always get
// identical vectors and overlapping vocabularies score as similar.
// Quality is far below a real model; availability is total.
type Hash struct {
	// Dim is the vector dimension. Zero means 256.
	Dim int
}

var hashTokenRe = regexp.MustCompile(`[a-zA-Z0-9_]+`)

func (h Hash) dim() int {
	if h.Dim <= 0 {
		return 256
	}
	return h.Dim
}

func (h Hash) EmbedOne(_ context.Context, text string) ([]float32, error) {
	dim := h.dim()
	vec := make([]float32, dim)
	for _, tok := range hashTokenRe.FindAllString(strings.ToLower(text), -1) {
		f := fnv.New32a()
		f.Write([]byte(tok))
		vec[f.Sum32()%uint32(dim)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func (h Hash) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.EmbedOne(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}
