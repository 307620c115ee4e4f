package llm

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kobyzev-yuri/lse/internal/config"
)

// Comparator fans the same prompt out to several providers. The primary
// provider's output drives decisions; secondary outputs are logged as a
// side-channel record for offline model comparison. A secondary failure is
// recorded per entry and never fails the request.
type Comparator struct {
	primary   Provider
	secondary []Provider
	logger    zerolog.Logger
}

// NewComparator builds a comparator from the primary client plus one client
// per llm_compare_models entry. With no secondaries it degrades to a plain
// pass-through.
func NewComparator(primary Provider, secondary []Provider) *Comparator {
	return &Comparator{
		primary:   primary,
		secondary: secondary,
		logger:    config.NewLogger("llm-compare"),
	}
}

// Model returns the primary model name.
func (c *Comparator) Model() string { return c.primary.Model() }

// Generate runs the primary synchronously and the secondaries concurrently.
// The call returns as soon as the primary finishes; secondary results land
// in the comparison log.
func (c *Comparator) Generate(ctx context.Context, system, user string, maxTokens int, temperature float64) (*Result, error) {
	if len(c.secondary) > 0 {
		var wg sync.WaitGroup
		for _, p := range c.secondary {
			wg.Add(1)
			go func(p Provider) {
				defer wg.Done()
				res, err := p.Generate(ctx, system, user, maxTokens, temperature)
				if err != nil {
					c.logger.Warn().Err(err).Str("model", p.Model()).Msg("Comparison model failed")
					return
				}
				c.logger.Info().
					Str("model", p.Model()).
					Int("total_tokens", res.Usage.TotalTokens).
					Str("text", res.Text).
					Msg("Comparison model output")
			}(p)
		}
		// Fire and forget relative to the caller; the goroutines share the
		// caller's context so shutdown still cancels them.
		go wg.Wait()
	}

	return c.primary.Generate(ctx, system, user, maxTokens, temperature)
}
