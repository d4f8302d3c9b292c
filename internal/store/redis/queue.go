// Package redis carries asynchronous audit requests over a Redis Stream.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gosuda/auditchain/internal/audit"
)

const (
	fieldRequest = "request"
	fieldTenant  = "tenant_id"
	fieldReason  = "reason"
	fieldOrigin  = "origin_id"
)

var ErrMalformedMessage = errors.New("redis: malformed stream message")

type Options struct {
	Addr     string
	Password string
	DB       int

	Stream   string
	Group    string
	Consumer string

	// Block bounds how long Dequeue waits for a new entry.
	Block time.Duration
	// MinIdle is how long an entry stays pending before another consumer
	// may claim it.
	MinIdle time.Duration
}

// Queue is an audit.Queue on a Redis Stream with one consumer group. An
// entry stays pending until it is acked or dead-lettered; entries idle for
// MinIdle are reclaimed with XAUTOCLAIM and delivered again.
type Queue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
	minIdle  time.Duration
	logger   zerolog.Logger
}

var _ audit.Queue = (*Queue)(nil)

func New(ctx context.Context, opts Options, logger zerolog.Logger) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	q := &Queue{
		client:   client,
		stream:   opts.Stream,
		group:    opts.Group,
		consumer: opts.Consumer,
		block:    opts.Block,
		minIdle:  opts.MinIdle,
		logger:   logger,
	}
	if q.block <= 0 {
		q.block = 5 * time.Second
	}
	if q.minIdle <= 0 {
		q.minIdle = 30 * time.Second
	}

	err := client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: create group %s/%s: %w", q.stream, q.group, err)
	}

	return q, nil
}

func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("redis.Queue.Close: %w", err)
	}
	return nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) Enqueue(ctx context.Context, req *audit.LogRequest) error {
	values, err := EncodeRequest(req)
	if err != nil {
		return fmt.Errorf("redis.Queue.Enqueue: %w", err)
	}

	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("redis.Queue.Enqueue: %w", err)
	}
	return nil
}

// Dequeue prefers reclaiming a stale pending entry over reading a new one.
// It returns (nil, nil) when nothing arrived within the block timeout.
func (q *Queue) Dequeue(ctx context.Context) (*audit.Delivery, error) {
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.minIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis.Queue.Dequeue: autoclaim: %w", err)
	}
	if len(claimed) > 0 {
		attempts := q.deliveryCount(ctx, claimed[0].ID)
		return q.decode(ctx, claimed[0], attempts)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    q.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis.Queue.Dequeue: read group: %w", err)
	}

	for _, s := range streams {
		if len(s.Messages) > 0 {
			return q.decode(ctx, s.Messages[0], 1)
		}
	}
	return nil, nil
}

func (q *Queue) Ack(ctx context.Context, d *audit.Delivery) error {
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, d.ID)
	pipe.XDel(ctx, q.stream, d.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis.Queue.Ack(%s): %w", d.ID, err)
	}
	return nil
}

// Nack leaves the entry pending; it is reclaimed once it has been idle for
// MinIdle.
func (q *Queue) Nack(context.Context, *audit.Delivery) error {
	return nil
}

// DeadLetter copies the entry to the dead-letter stream and settles it.
func (q *Queue) DeadLetter(ctx context.Context, d *audit.Delivery, reason error) error {
	values := map[string]any{fieldOrigin: d.ID}
	if d.Request != nil {
		encoded, err := EncodeRequest(d.Request)
		if err == nil {
			values = encoded
			values[fieldOrigin] = d.ID
		}
	}
	if reason != nil {
		values[fieldReason] = reason.Error()
	}

	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{Stream: DeadLetterStream(q.stream), Values: values})
	pipe.XAck(ctx, q.stream, q.group, d.ID)
	pipe.XDel(ctx, q.stream, d.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis.Queue.DeadLetter(%s): %w", d.ID, err)
	}
	return nil
}

// Pending returns the number of entries delivered but not yet settled.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	p, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		return 0, fmt.Errorf("redis.Queue.Pending: %w", err)
	}
	return p.Count, nil
}

func (q *Queue) deliveryCount(ctx context.Context, id string) int {
	ext, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(ext) == 0 {
		return 1
	}
	return int(ext[0].RetryCount)
}

// decode dead-letters entries it cannot parse so they never block the group.
func (q *Queue) decode(ctx context.Context, msg redis.XMessage, attempts int) (*audit.Delivery, error) {
	d, err := DecodeMessage(msg)
	if err != nil {
		q.logger.Error().Err(err).Str("entry_id", msg.ID).Msg("dropping malformed audit request")
		if dlErr := q.DeadLetter(ctx, &audit.Delivery{ID: msg.ID}, err); dlErr != nil {
			return nil, dlErr
		}
		return nil, nil
	}
	d.Attempts = attempts
	return d, nil
}

// EncodeRequest returns the stream entry fields for req.
func EncodeRequest(req *audit.LogRequest) (map[string]any, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return map[string]any{
		fieldRequest: string(payload),
		fieldTenant:  req.TenantID,
	}, nil
}

// DecodeMessage parses a stream entry written by EncodeRequest.
func DecodeMessage(msg redis.XMessage) (*audit.Delivery, error) {
	raw, ok := msg.Values[fieldRequest].(string)
	if !ok {
		return nil, fmt.Errorf("%w: entry %s has no %q field", ErrMalformedMessage, msg.ID, fieldRequest)
	}
	var req audit.LogRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("%w: entry %s: %w", ErrMalformedMessage, msg.ID, err)
	}
	return &audit.Delivery{ID: msg.ID, Request: &req, Attempts: 1}, nil
}

// DeadLetterStream returns the stream that receives abandoned entries.
func DeadLetterStream(stream string) string {
	return stream + ":dead"
}
