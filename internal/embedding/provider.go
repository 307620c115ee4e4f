// Package embedding provides 768-dimensional text embedding providers for
// the knowledge base. Every vector leaving this package is L2-normalized.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Dimensions is the fixed embedding width of the knowledge base.
const Dimensions = 768

// Provider computes a unit-norm vector for a text.
type Provider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Normalize scales a vector to unit L2 norm in place and validates its
// dimensionality.
func Normalize(vec []float32) ([]float32, error) {
	if len(vec) != Dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vec), Dimensions)
	}
	var sq float64
	for _, v := range vec {
		sq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sq)
	if norm == 0 {
		return nil, fmt.Errorf("embedding has zero norm")
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// Fallback tries providers in order until one succeeds; typically local
// first, then a remote model.
type Fallback struct {
	providers []Provider
}

// NewFallback builds a fallback chain. At least one provider is required at
// call time; an empty chain always errors.
func NewFallback(providers ...Provider) *Fallback {
	return &Fallback{providers: providers}
}

// Name implements Provider.
func (f *Fallback) Name() string { return "fallback" }

// Embed implements Provider.
func (f *Fallback) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for _, p := range f.providers {
		vec, err := p.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = fmt.Errorf("%s: %w", p.Name(), err)
	}
	if lastErr == nil {
		return nil, fmt.Errorf("no embedding providers configured")
	}
	return nil, fmt.Errorf("all embedding providers failed: %w", lastErr)
}
