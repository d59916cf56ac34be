package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nicktill/webpulse/pkg/config"
	"github.com/nicktill/webpulse/pkg/metrics"
)

// diffMessage is the wire envelope for pushed updates.
type diffMessage struct {
	Type string `json:"type"`
	Diff
}

// Broadcaster runs the periodic snapshot/diff cycle. It is the sole owner of
// the "last emitted snapshot" cell: ticks run serially on one goroutine, so
// the read-then-write of that cell needs no locking.
type Broadcaster struct {
	snapshotter *Snapshotter
	hub         *Hub
	interval    time.Duration

	last Snapshot
}

// NewBroadcaster creates a broadcaster on the standard cadence.
func NewBroadcaster(snapshotter *Snapshotter, hub *Hub) *Broadcaster {
	return &Broadcaster{
		snapshotter: snapshotter,
		hub:         hub,
		interval:    config.SnapshotInterval,
	}
}

// Run ticks until ctx is cancelled. A failed tick is logged and skipped; the
// previous snapshot is retained unchanged so the next successful tick diffs
// against real state rather than zeros.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Skip the computation entirely when nobody is listening.
			if !b.hub.HasClients() {
				continue
			}
			b.tick(ctx)
		}
	}
}

func (b *Broadcaster) tick(ctx context.Context) {
	snap, err := b.snapshotter.Compute(ctx)
	if err != nil {
		metrics.SnapshotFailures.Inc()
		log.Error().Err(err).Msg("snapshot computation failed, skipping tick")
		return
	}

	diff := ComputeDiff(b.last, snap)
	if diff.Empty() {
		return
	}

	if err := b.hub.Broadcast(diffMessage{Type: "metrics:diff", Diff: diff}); err != nil {
		log.Error().Err(err).Msg("failed to broadcast diff")
		return
	}
	metrics.DiffsBroadcast.Inc()
	b.last = snap
}
