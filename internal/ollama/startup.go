package ollama

import (
	"context"
	"fmt"
	"io"
	"time"
)

// EnsureReady checks that Ollama is running and that embedModel is available,
// pulling it when missing with progress written to w. It then embeds a probe
// sentence and fails when the vector length differs from dim.
func EnsureReady(ctx context.Context, c *Client, embedModel string, dim int, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("ollama is not running at %s; start it with: ollama serve", c.baseURL)
	}

	if c.HasModel(ctx, embedModel) {
		fmt.Fprintf(w, "model %s: ready\n", embedModel)
	} else {
		fmt.Fprintf(w, "model %s: pulling...\n", embedModel)
		err := c.PullModel(ctx, embedModel, func(p PullProgress) {
			if p.Total > 0 {
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, float64(p.Completed)/float64(p.Total)*100)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", embedModel, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", embedModel)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	vec, err := c.Embed(probeCtx, embedModel, "ping")
	if err != nil {
		return fmt.Errorf("probing model %s: %w", embedModel, err)
	}
	if len(vec) != dim {
		return fmt.Errorf("model %s produces %d-dimensional vectors, configured embed.dimension is %d", embedModel, len(vec), dim)
	}
	return nil
}
