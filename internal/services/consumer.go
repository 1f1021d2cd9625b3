package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/propertydocumentfiler/internal/queue"
	"golang.org/x/sync/errgroup"
)

// QueueConsumer buffers deliveries and drains them through the pipeline.
// A single supervisor goroutine claims everything buffered, dispatches it
// concurrently, waits, and loops while new messages keep arriving.
type QueueConsumer struct {
	pipeline *Pipeline

	mu      sync.Mutex
	buffer  []queue.Message
	stopped bool

	wake chan struct{}
}

func NewQueueConsumer(pipeline *Pipeline) *QueueConsumer {
	return &QueueConsumer{
		pipeline: pipeline,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue buffers msg for the next drain. Messages arriving after shutdown
// began are nacked.
func (c *QueueConsumer) Enqueue(msg queue.Message) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		msg.Nack()
		return
	}
	c.buffer = append(c.buffer, msg)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Depth returns the number of buffered, unclaimed messages.
func (c *QueueConsumer) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Run drains the buffer until ctx is done. Claimed messages finish with a
// detached context; unclaimed ones are nacked on the way out.
func (c *QueueConsumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.stop()
			return
		case <-c.wake:
		}
		for ctx.Err() == nil {
			batch := c.claim()
			if len(batch) == 0 {
				break
			}
			c.dispatch(context.WithoutCancel(ctx), batch)
		}
	}
}

// Consume receives from sub into the buffer and drains it until ctx is done.
func (c *QueueConsumer) Consume(ctx context.Context, sub queue.Subscriber) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return sub.Receive(gctx, func(_ context.Context, msg queue.Message) {
			c.Enqueue(msg)
		})
	})
	return g.Wait()
}

func (c *QueueConsumer) claim() []queue.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.buffer
	c.buffer = nil
	return batch
}

func (c *QueueConsumer) dispatch(ctx context.Context, batch []queue.Message) {
	slog.Debug("Draining queued messages.", "count", len(batch))
	var wg sync.WaitGroup
	for _, msg := range batch {
		wg.Add(1)
		go func(msg queue.Message) {
			defer wg.Done()
			if c.pipeline.HandleData(ctx, msg.Data()).Acknowledge() {
				msg.Ack()
			} else {
				msg.Nack()
			}
		}(msg)
	}
	wg.Wait()
}

func (c *QueueConsumer) stop() {
	c.mu.Lock()
	c.stopped = true
	pending := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	for _, msg := range pending {
		msg.Nack()
	}
	if len(pending) > 0 {
		slog.Info("Nacked unclaimed messages on shutdown.", "count", len(pending))
	}
}
