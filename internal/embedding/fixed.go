package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// Fixed is a deterministic offline generator used by tests and the dev mode.
// Vectors are derived from an FNV hash of the text, so identical text always
// embeds identically and distinct texts almost never collide.
type Fixed struct {
	// Fail makes every call return Err, simulating an unavailable model.
	Fail bool
	Err  error

	Calls      int
	BatchCalls int
}

// Embed implements Generator.
func (f *Fixed) Embed(ctx context.Context, text string) ([]float32, error) {
	f.Calls++
	if f.Fail {
		return nil, f.Err
	}
	return hashVector(text), nil
}

// BatchEmbed implements Generator.
func (f *Fixed) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	f.BatchCalls++
	if f.Fail {
		return nil, f.Err
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = hashVector(t)
	}
	return vecs, nil
}

func hashVector(text string) []float32 {
	vec := make([]float32, Dimension)
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float32(int64(seed>>11)) / float32(math.MaxInt64>>11)
		vec[i] = v
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

var _ Generator = (*Fixed)(nil)
