// Package calclog implements the calc-request log described in spec
// §5: an abstract, partitioned, ordered log carrying
// model.PositionCalcRequest messages from the Ingestion Coordinator to
// the Calculation Engine. Delivery is guaranteed in-order per
// partition (partitioned by PositionID) and out-of-order across
// partitions, matching the durability model a real partitioned broker
// (Kafka, Pulsar, SQS FIFO) would provide.
//
// No message-broker client library appears anywhere in the retrieved
// example corpus, so this implementation is in-process: one buffered
// channel per partition, drained by exactly one worker goroutine each,
// which is sufficient to enforce the per-partition ordering guarantee
// the Calculation Engine's strategy selection depends on. The
// Publisher interface and the Handler type are the seam a real broker
// client would sit behind.
package calclog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/positionledger/posengine/internal/model"
)

// DefaultDeadline is the per-request processing deadline used when no
// override is configured, matching spec §5's "default >= 30s".
const DefaultDeadline = 30 * time.Second

// Publisher accepts calc requests for delivery, partitioned by
// PositionID.
type Publisher interface {
	Publish(ctx context.Context, req model.PositionCalcRequest) error
}

// Handler processes one calc request. A returned error is logged and
// the request is not retried; a call that runs past the per-request
// deadline is not acknowledged and the request is redelivered onto its
// partition (§7 taxonomy 4).
type Handler func(ctx context.Context, req model.PositionCalcRequest) error

// Log is an in-process partitioned ordered log. Zero value is not
// usable; construct with New.
type Log struct {
	partitions []chan model.PositionCalcRequest
	numParts   int
	deadline   time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New creates a Log with the given number of partitions, each buffered
// to depth. A higher partition count increases parallelism across
// unrelated positions at no cost to per-position ordering. The
// per-request deadline defaults to DefaultDeadline; override it with
// WithDeadline.
func New(numPartitions, depth int) *Log {
	if numPartitions < 1 {
		numPartitions = 1
	}
	parts := make([]chan model.PositionCalcRequest, numPartitions)
	for i := range parts {
		parts[i] = make(chan model.PositionCalcRequest, depth)
	}
	return &Log{partitions: parts, numParts: numPartitions, deadline: DefaultDeadline}
}

// WithDeadline overrides the per-request processing deadline. Values
// less than or equal to zero are ignored.
func (l *Log) WithDeadline(d time.Duration) *Log {
	if d > 0 {
		l.deadline = d
	}
	return l
}

func (l *Log) partitionFor(positionID int64) int {
	p := positionID % int64(l.numParts)
	if p < 0 {
		p += int64(l.numParts)
	}
	return int(p)
}

// Publish enqueues req on the partition its PositionID maps to. Blocks
// if that partition's buffer is full, applying backpressure to the
// Ingestion Coordinator rather than dropping work.
func (l *Log) Publish(ctx context.Context, req model.PositionCalcRequest) error {
	ch := l.partitions[l.partitionFor(req.PositionID)]
	select {
	case ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts one worker goroutine per partition, each draining its
// channel strictly in publish order and invoking handler. Run blocks
// until ctx is cancelled, then waits for handlers already in progress
// to return; requests still buffered in a partition are not processed.
func (l *Log) Run(ctx context.Context, handler Handler) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()

	var wg sync.WaitGroup
	for i, ch := range l.partitions {
		wg.Add(1)
		go func(partition int, ch chan model.PositionCalcRequest) {
			defer wg.Done()
			for {
				select {
				case req := <-ch:
					l.process(ctx, ch, partition, req, handler)
				case <-ctx.Done():
					return
				}
			}
		}(i, ch)
	}
	wg.Wait()

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
}

// process runs handler under the log's per-request deadline. A request
// that misses its deadline is not acknowledged: it is requeued onto its
// own partition for redelivery rather than dropped, per §5's timeout
// contract.
func (l *Log) process(ctx context.Context, ch chan model.PositionCalcRequest, partition int, req model.PositionCalcRequest, handler Handler) {
	reqCtx, cancel := context.WithTimeout(ctx, l.deadline)
	err := handler(reqCtx, req)
	cancel()

	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		slog.Warn("calc request handler timed out, redelivering",
			"partition", partition,
			"request_id", req.RequestID,
			"position_id", req.PositionID,
			"deadline", l.deadline,
		)
		go l.redeliver(ctx, ch, req)
		return
	}
	if err != nil {
		slog.Error("calc request handler failed",
			"partition", partition,
			"request_id", req.RequestID,
			"position_id", req.PositionID,
			"err", err,
		)
	}
}

// redeliver re-publishes req onto its own partition channel. It runs in
// its own goroutine because the worker that dequeued req is the same
// one that would otherwise block draining ch, deadlocking a full
// buffer against itself.
func (l *Log) redeliver(ctx context.Context, ch chan model.PositionCalcRequest, req model.PositionCalcRequest) {
	select {
	case ch <- req:
	case <-ctx.Done():
	}
}

// Stop cancels all running workers. Safe to call even if Run was never
// started.
func (l *Log) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}
