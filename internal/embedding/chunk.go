package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrCountMismatch means the service answered with a different number of
// vectors than inputs sent. The whole chunk is rejected.
var ErrCountMismatch = errors.New("embedding count mismatch")

// EmbedChunked embeds inputs in chunks of size (DefaultBatchSize when
// size <= 0), sequentially. Any failing chunk fails the call; no partial
// result is returned.
func EmbedChunked(ctx context.Context, e Embedder, inputs []string, size int) ([][]float32, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += size {
		end := start + size
		if end > len(inputs) {
			end = len(inputs)
		}
		batch := inputs[start:end]
		n := start/size + 1

		vecs, err := e.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d: %w", n, err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("%w in batch %d: sent %d, got %d", ErrCountMismatch, n, len(batch), len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Func adapts a function to Embedder, mostly for tests.
type Func struct {
	Name string
	Fn   func(ctx context.Context, inputs []string) ([][]float32, error)
}

// Embed calls f.Fn.
func (f Func) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return f.Fn(ctx, inputs)
}

// Model returns f.Name or DefaultModel.
func (f Func) Model() string {
	if f.Name == "" {
		return DefaultModel
	}
	return f.Name
}
