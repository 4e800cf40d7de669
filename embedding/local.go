package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// LocalProvider embeds text without any network round trip, for
// development and for agents configured with no remote embedding
// credentials. It wraps a chromem.EmbeddingFunc (the same plug point
// chromem-go's own collections use) backed by a deterministic hashed
// bag-of-words projection rather than a trained model — adequate for
// nearest-neighbor recall in tests and small deployments, not a substitute
// for a real embedding model in production.
type LocalProvider struct {
	dims int
	fn   chromem.EmbeddingFunc
}

// NewLocalProvider builds a LocalProvider producing vectors of dims
// dimensions (must match the store's vector column width).
func NewLocalProvider(dims int) *LocalProvider {
	p := &LocalProvider{dims: dims}
	p.fn = func(ctx context.Context, text string) ([]float32, error) {
		return p.hashEmbed(text), nil
	}
	return p
}

func (p *LocalProvider) Name() string    { return "local" }
func (p *LocalProvider) Dimensions() int { return p.dims }

func (p *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.fn(ctx, text)
}

func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// hashEmbed projects text's tokens into a fixed-width vector via feature
// hashing, then L2-normalizes so cosine similarity behaves sensibly.
func (p *LocalProvider) hashEmbed(text string) []float32 {
	vec := make([]float32, p.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		idx := int(h.Sum32()) % p.dims
		if idx < 0 {
			idx += p.dims
		}
		vec[idx]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
