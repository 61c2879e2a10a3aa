// Package embedding wraps the embedding model behind a small Generator
// interface so categorization can be tested without network calls.
package embedding

import (
	"context"
	"fmt"
)

// Dimension is the fixed output dimensionality requested from the model.
// Every stored vector has exactly this length.
const Dimension = 768

// Generator maps normalized transaction text to fixed-length vectors.
type Generator interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// BatchEmbed returns one vector per input text, in input order.
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
}

// checkDimension rejects vectors of unexpected length so a model or config
// change can never mix dimensions inside one table.
func checkDimension(vec []float32) error {
	if len(vec) != Dimension {
		return fmt.Errorf("embedding has dimension %d, want %d", len(vec), Dimension)
	}
	return nil
}
