package search

import (
	"context"
	"time"
)

// Pacer spaces out stage transitions so progress is perceptible.
type Pacer interface {
	Pause(ctx context.Context)
}

// SleepPacer waits Delay between stages, returning early on cancellation.
type SleepPacer struct {
	Delay time.Duration
}

func (p SleepPacer) Pause(ctx context.Context) {
	if p.Delay <= 0 {
		return
	}
	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// NoPacer never waits.
type NoPacer struct{}

func (NoPacer) Pause(context.Context) {}
