package generation

import (
	"context"
	"time"
)

// SetSleep replaces the retry backoff sleeper.
func (o *Orchestrator) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	o.sleep = fn
}
