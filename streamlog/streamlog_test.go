package streamlog

import (
	"bytes"
	"context"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/event"
)

func runParts() []event.Event {
	return []event.Event{
		event.Start{RunID: "run-1"},
		event.StartStep{},
		event.TextStart{ID: "t1"},
		event.TextDelta{ID: "t1", Delta: "hello"},
		event.TextEnd{ID: "t1"},
		event.FinishStep{FinishReason: ai.FinishReasonStop},
		event.Finish{FinishReason: ai.FinishReasonStop, Termination: event.TerminationComplete},
	}
}

// exerciseLog runs the shared Log contract against an implementation.
func exerciseLog(t *testing.T, log Log) {
	ctx := context.Background()

	t.Run("unknown run reads empty", func(t *testing.T) {
		envs, err := log.Read(ctx, "nobody", 0, 0)
		require.NoError(t, err)
		assert.Empty(t, envs)
	})

	t.Run("append assigns increasing sequences", func(t *testing.T) {
		for i, e := range runParts()[:3] {
			seq, err := log.Append(ctx, "seq-run", e)
			require.NoError(t, err)
			assert.Equal(t, uint64(i+1), seq)
		}
		envs, err := log.Read(ctx, "seq-run", 1, 0)
		require.NoError(t, err)
		require.Len(t, envs, 2)
		assert.Equal(t, uint64(2), envs[0].Seq)
		assert.Equal(t, event.TextStart{ID: "t1"}, envs[1].Event)
	})

	t.Run("read waits for new parts", func(t *testing.T) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			_, _ = log.Append(ctx, "wait-run", event.Start{RunID: "wait-run"})
		}()
		envs, err := log.Read(ctx, "wait-run", 0, 2*time.Second)
		require.NoError(t, err)
		require.Len(t, envs, 1)
		assert.Equal(t, event.Start{RunID: "wait-run"}, envs[0].Event)
	})

	t.Run("replay resumes after a sequence", func(t *testing.T) {
		require.NoError(t, Record(ctx, log, "replay-run", slices.Values(runParts())))

		var buf bytes.Buffer
		last, err := Replay(ctx, log, "replay-run", 3, event.NewEncoder(&buf, event.FormatJSONL))
		require.NoError(t, err)
		assert.Equal(t, uint64(7), last)

		dec := event.NewDecoder(&buf, event.FormatJSONL)
		var got []event.Event
		for {
			env, err := dec.Decode()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			got = append(got, env.Event)
		}
		assert.Equal(t, runParts()[3:], got)
	})
}

func TestMemory(t *testing.T) {
	exerciseLog(t, NewMemory())
}

func TestReplay_FollowsLiveRun(t *testing.T) {
	log := NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	parts := make(chan event.Event)
	recorded := make(chan error, 1)
	go func() {
		recorded <- Record(ctx, log, "live", func(yield func(event.Event) bool) {
			for e := range parts {
				if !yield(e) {
					return
				}
			}
		})
	}()

	var buf bytes.Buffer
	replayed := make(chan uint64, 1)
	go func() {
		last, err := Replay(ctx, log, "live", 0, event.NewEncoder(&buf, event.FormatSSE))
		assert.NoError(t, err)
		replayed <- last
	}()

	for _, e := range runParts() {
		parts <- e
	}
	close(parts)

	require.NoError(t, <-recorded)
	assert.Equal(t, uint64(len(runParts())), <-replayed)
	assert.Contains(t, buf.String(), "id: 7\nevent: finish\n")
}

func TestReplay_StopsOnCancel(t *testing.T) {
	log := NewMemory()
	_, err := log.Append(context.Background(), "open", event.Start{RunID: "open"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	last, err := Replay(ctx, log, "open", 0, event.NewEncoder(io.Discard, event.FormatJSONL))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(1), last)
}

func TestMemory_Delete(t *testing.T) {
	log := NewMemory()
	_, err := log.Append(context.Background(), "gone", event.Start{RunID: "gone"})
	require.NoError(t, err)
	log.Delete("gone")

	envs, err := log.Read(context.Background(), "gone", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, envs)
}
