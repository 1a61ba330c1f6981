package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/hyperjump/carelens/pkg/utils"
)

// HashingEmbedder is a local bag-of-words embedder using the hashing trick: each term is
// bucketed by FNV-1a and weighted by 1+log(tf). It needs no corpus preparation and no
// network, so documents embedded at different times stay comparable.
type HashingEmbedder struct {
	dimensions int
}

// NewHashingEmbedder returns a hashing embedder producing vectors of the given size.
func NewHashingEmbedder(dimensions int) (*HashingEmbedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &HashingEmbedder{dimensions: dimensions}, nil
}

// Embed returns the L2-normalised term-bucket vector for text. Text without terms yields
// the zero vector.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf := make(map[uint32]int)
	for _, term := range Terms(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(term))
		tf[h.Sum32()%uint32(e.dimensions)]++
	}
	emb := make([]float32, e.dimensions)
	for bucket, n := range tf {
		emb[bucket] = float32(1 + math.Log(float64(n)))
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *HashingEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *HashingEmbedder) Close() error {
	return nil
}
