package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler executes one job delivery. A nil return acknowledges the delivery;
// an error leaves the message on the queue for redelivery (the persisted job
// row's claim state decides whether the redelivery does anything).
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// Pool consumes the job queue with bounded concurrency.
type Pool struct {
	queue       *Queue
	handlers    map[Type]Handler
	concurrency int
	pollWait    time.Duration
	logger      *zap.Logger
}

func NewPool(queue *Queue, concurrency int, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		queue:       queue,
		handlers:    map[Type]Handler{},
		concurrency: concurrency,
		pollWait:    10 * time.Second,
		logger:      logger,
	}
}

// Register binds a handler to a job type. Not safe to call after Run starts.
func (p *Pool) Register(t Type, h Handler) {
	p.handlers[t] = h
}

// Run polls the queue until ctx is cancelled, dispatching each message to a
// goroutine bounded by the pool's semaphore. It returns after all in-flight
// handlers finish.
func (p *Pool) Run(ctx context.Context) {
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup

	for {
		if ctx.Err() != nil {
			break
		}

		msgs, err := p.queue.Receive(ctx, p.concurrency, p.pollWait)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				break
			}
			p.logger.Error("receive failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, rm := range msgs {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}

			wg.Add(1)
			go func(rm ReceivedMessage) {
				defer wg.Done()
				defer func() { <-sem }()
				p.process(ctx, rm)
			}(rm)
		}
	}

	wg.Wait()
}

func (p *Pool) process(ctx context.Context, rm ReceivedMessage) {
	logger := p.logger.With(
		zap.String("job_id", rm.Message.JobID),
		zap.String("order_id", rm.Message.OrderID),
		zap.String("job_type", string(rm.Message.Type)),
		zap.Int("attempt", rm.Message.Attempt),
	)

	handler, ok := p.handlers[rm.Message.Type]
	if !ok {
		logger.Error("no handler for job type, dropping delivery")
		if err := p.queue.Delete(ctx, rm.ReceiptHandle); err != nil {
			logger.Error("delete message failed", zap.Error(err))
		}
		return
	}

	if err := handler.Handle(ctx, rm.Message); err != nil {
		// Leave the message for redelivery.
		logger.Error("job handler failed", zap.Error(err))
		return
	}
	if err := p.queue.Delete(ctx, rm.ReceiptHandle); err != nil {
		logger.Error("delete message failed", zap.Error(err))
	}
}
