package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

var ErrQueueFull = errors.New("audit: queue full")

// DefaultRetryBackoff is how long ChannelQueue holds a nacked delivery
// before its second attempt. The delay doubles on every further attempt up
// to maxRetryBackoff.
const DefaultRetryBackoff = 500 * time.Millisecond

const maxRetryBackoff = 30 * time.Second

// Delivery is one dequeued LogRequest. Attempts counts deliveries including
// this one.
type Delivery struct {
	ID       string
	Request  *LogRequest
	Attempts int
}

// Queue carries LogRequests from LogAsync to a Worker with at-least-once
// semantics. A delivery that is neither acked nor dead-lettered is delivered
// again.
type Queue interface {
	Enqueue(ctx context.Context, req *LogRequest) error
	Dequeue(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Nack(ctx context.Context, d *Delivery) error
	DeadLetter(ctx context.Context, d *Delivery, reason error) error
}

// ChannelQueue is an in-process Queue for single-binary deployments and tests.
type ChannelQueue struct {
	ch      chan *Delivery
	backoff time.Duration
	mu      sync.Mutex
	seq     int
	dead    []*Delivery
}

func NewChannelQueue(size int) *ChannelQueue {
	return &ChannelQueue{ch: make(chan *Delivery, size), backoff: DefaultRetryBackoff}
}

// SetRetryBackoff changes the delay before a nacked delivery's second
// attempt. Call it before the queue is in use.
func (q *ChannelQueue) SetRetryBackoff(d time.Duration) {
	if d > 0 {
		q.backoff = d
	}
}

// Enqueue fails with ErrQueueFull instead of waiting when the queue has no
// room, so callers see backpressure.
func (q *ChannelQueue) Enqueue(ctx context.Context, req *LogRequest) error {
	q.mu.Lock()
	q.seq++
	d := &Delivery{ID: strconv.Itoa(q.seq), Request: req}
	q.mu.Unlock()

	select {
	case q.ch <- d:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit.ChannelQueue.Enqueue: %w", ctx.Err())
	default:
		return fmt.Errorf("audit.ChannelQueue.Enqueue: %w", ErrQueueFull)
	}
}

func (q *ChannelQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case d := <-q.ch:
		d.Attempts++
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *ChannelQueue) Ack(context.Context, *Delivery) error { return nil }

// Nack puts the delivery back at the tail of the queue once its backoff has
// passed, waiting for room if the queue is full. A delivery still waiting
// when ctx ends is dead-lettered with the context error.
func (q *ChannelQueue) Nack(ctx context.Context, d *Delivery) error {
	delay := q.retryDelay(d.Attempts)
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			_ = q.DeadLetter(ctx, d, ctx.Err())
			return
		}

		select {
		case q.ch <- d:
		case <-ctx.Done():
			_ = q.DeadLetter(ctx, d, ctx.Err())
		}
	}()
	return nil
}

func (q *ChannelQueue) retryDelay(attempts int) time.Duration {
	delay := q.backoff
	for i := 1; i < attempts && delay < maxRetryBackoff; i++ {
		delay *= 2
	}
	return min(delay, maxRetryBackoff)
}

func (q *ChannelQueue) DeadLetter(_ context.Context, d *Delivery, _ error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, d)
	return nil
}

// DeadLetters returns the deliveries the worker gave up on.
func (q *ChannelQueue) DeadLetters() []*Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Delivery(nil), q.dead...)
}

// Len returns the number of deliveries ready to be dequeued. Nacked
// deliveries still in their backoff are not counted.
func (q *ChannelQueue) Len() int {
	return len(q.ch)
}
