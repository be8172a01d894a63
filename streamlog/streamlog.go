// Package streamlog stores the parts of a run so clients can reconnect and
// resume delivery from the last sequence number they saw.
//
// A run is recorded while it streams:
//
//	res := a.Stream(ctx, msgs)
//	go streamlog.Record(ctx, log, res.RunID(), res.Events(ctx))
//
// and replayed to any number of readers, each from its own position:
//
//	enc := event.NewEncoder(w, event.FormatSSE)
//	last, err := streamlog.Replay(ctx, log, runID, lastEventID, enc)
package streamlog

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/spetersoncode/braid/event"
)

// Log is an append-only store of run parts. Sequence numbers start at 1 and
// increase by one per part.
type Log interface {
	// Append stores e as the next part of the run and returns its sequence.
	Append(ctx context.Context, runID string, e event.Event) (uint64, error)

	// Read returns the parts with a sequence greater than after. When none
	// are available it waits up to wait for new ones and returns an empty
	// slice if nothing arrived. An unknown run reads as empty.
	Read(ctx context.Context, runID string, after uint64, wait time.Duration) ([]event.Envelope, error)
}

// Record appends every part of parts to log until the sequence ends.
func Record(ctx context.Context, log Log, runID string, parts iter.Seq[event.Event]) error {
	for e := range parts {
		if _, err := log.Append(ctx, runID, e); err != nil {
			return fmt.Errorf("record %s: %w", e.Type(), err)
		}
	}
	return ctx.Err()
}

const pollWait = time.Second

// Replay writes the parts after the given sequence to enc and keeps
// following the run until its terminal part was written or ctx is done. It
// returns the sequence of the last part written.
func Replay(ctx context.Context, log Log, runID string, after uint64, enc *event.Encoder) (uint64, error) {
	last := after
	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		envs, err := log.Read(ctx, runID, last, pollWait)
		if err != nil {
			return last, err
		}
		for _, env := range envs {
			if err := enc.Encode(env); err != nil {
				return last, err
			}
			last = env.Seq
			if event.IsTerminal(env.Event) {
				return last, nil
			}
		}
	}
}
