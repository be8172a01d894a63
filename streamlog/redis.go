package streamlog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spetersoncode/braid/event"
)

// DefaultTTL is how long a recorded run is kept after its last append.
const DefaultTTL = 24 * time.Hour

// RedisOptions configures a Redis log.
type RedisOptions struct {
	// Client is the Redis client. Required.
	Client *redis.Client
	// Prefix namespaces the keys. Defaults to "braid:run".
	Prefix string
	// TTL defaults to DefaultTTL.
	TTL time.Duration
}

// Redis is a Log backed by one Redis stream per run. Stream entry ids are
// "<seq>-0", so reads resume directly from a sequence number.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a Redis log.
func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("streamlog: redis client is required")
	}
	r := &Redis{rdb: opts.Client, prefix: opts.Prefix, ttl: opts.TTL}
	if r.prefix == "" {
		r.prefix = "braid:run"
	}
	if r.ttl <= 0 {
		r.ttl = DefaultTTL
	}
	return r, nil
}

func (r *Redis) streamKey(runID string) string { return r.prefix + ":" + runID + ":parts" }
func (r *Redis) seqKey(runID string) string    { return r.prefix + ":" + runID + ":seq" }

// Append implements Log.
func (r *Redis) Append(ctx context.Context, runID string, e event.Event) (uint64, error) {
	data, err := event.Marshal(e)
	if err != nil {
		return 0, err
	}
	seq, err := r.rdb.Incr(ctx, r.seqKey(runID)).Uint64()
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: r.streamKey(runID),
			ID:     strconv.FormatUint(seq, 10) + "-0",
			Values: map[string]any{"part": string(data)},
		})
		p.Expire(ctx, r.streamKey(runID), r.ttl)
		p.Expire(ctx, r.seqKey(runID), r.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append part %d: %w", seq, err)
	}
	return seq, nil
}

// Read implements Log.
func (r *Redis) Read(ctx context.Context, runID string, after uint64, wait time.Duration) ([]event.Envelope, error) {
	block := time.Duration(-1)
	if wait > 0 {
		block = wait
	}
	streams, err := r.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{r.streamKey(runID), strconv.FormatUint(after, 10) + "-0"},
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}

	var out []event.Envelope
	for _, s := range streams {
		for _, msg := range s.Messages {
			env, err := decodeEntry(msg)
			if err != nil {
				return out, err
			}
			out = append(out, env)
		}
	}
	return out, nil
}

// Delete removes a recorded run.
func (r *Redis) Delete(ctx context.Context, runID string) error {
	return r.rdb.Del(ctx, r.streamKey(runID), r.seqKey(runID)).Err()
}

func decodeEntry(msg redis.XMessage) (event.Envelope, error) {
	head, _, _ := strings.Cut(msg.ID, "-")
	seq, err := strconv.ParseUint(head, 10, 64)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("entry id %q: %w", msg.ID, err)
	}
	raw, ok := msg.Values["part"].(string)
	if !ok {
		return event.Envelope{}, fmt.Errorf("entry %q has no part", msg.ID)
	}
	e, err := event.Unmarshal([]byte(raw))
	if err != nil {
		return event.Envelope{}, fmt.Errorf("entry %q: %w", msg.ID, err)
	}
	return event.Envelope{Seq: seq, Event: e}, nil
}
