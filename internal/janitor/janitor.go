// Package janitor sweeps expired state out of the in-memory store.
// The Redis backend expires its keys natively and needs no sweeping.
package janitor

import (
	"context"
	"log"
	"time"

	"streamgate/internal/store"
)

const interval = 2 * time.Minute

func Run(ctx context.Context, mem *store.Memory) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := mem.Sweep(time.Now()); n > 0 {
				log.Printf("[janitor] swept %d expired entries", n)
			}
		}
	}
}
