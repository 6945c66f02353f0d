package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/settlekit/settlement-engine/internal/metrics"
)

// ErrBufferFull is returned by OutboxPublisher.Publish when the
// buffer channel has no free capacity.
var ErrBufferFull = errors.New("events: outbox buffer full")

// Publisher delivers an Envelope to wherever events ultimately go.
// Real transport is external; implementations here only buffer and
// hand off to a DrainFunc.
type Publisher interface {
	Publish(ctx context.Context, e Envelope) error
}

// DrainFunc is called for each buffered envelope as it's drained.
// Errors are logged and counted but never block the buffer.
type DrainFunc func(ctx context.Context, e Envelope) error

// maxConcurrentDrains bounds how many DrainFunc calls run at once,
// mirroring the semaphore-bounded dispatch pattern used for outbound
// webhook delivery elsewhere in this codebase.
const maxConcurrentDrains = 50

// OutboxPublisher buffers envelopes in memory (outbox pattern) and
// hands them to a DrainFunc with bounded concurrency, fire-and-forget,
// grounded on internal/webhooks's Emitter + Dispatcher pair.
type OutboxPublisher struct {
	buf    chan Envelope
	sem    chan struct{}
	drain  DrainFunc
	logger *slog.Logger
	wg     sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewOutboxPublisher creates a publisher with the given buffer
// capacity. Call Start to begin draining; call Stop to wait for
// in-flight drains to finish.
func NewOutboxPublisher(bufSize int, drain DrainFunc, logger *slog.Logger) *OutboxPublisher {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &OutboxPublisher{
		buf:    make(chan Envelope, bufSize),
		sem:    make(chan struct{}, maxConcurrentDrains),
		drain:  drain,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Publish enqueues an envelope for draining. Never blocks on I/O;
// returns an error only if the buffer itself is full.
func (p *OutboxPublisher) Publish(_ context.Context, e Envelope) error {
	select {
	case p.buf <- e:
		metrics.EventsPublishedTotal.WithLabelValues(string(e.EventType), "queued").Inc()
		return nil
	default:
		metrics.EventsPublishedTotal.WithLabelValues(string(e.EventType), "dropped").Inc()
		return ErrBufferFull
	}
}

// Start launches the drain loop in a goroutine. Call once.
func (p *OutboxPublisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case e := <-p.buf:
				p.dispatch(ctx, e)
			}
		}
	}()
}

func (p *OutboxPublisher) dispatch(ctx context.Context, e Envelope) {
	p.sem <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
			if r := recover(); r != nil {
				p.logger.Error("outbox drain panic", "event_type", e.EventType, "recover", r)
			}
		}()
		if err := p.drain(ctx, e); err != nil {
			metrics.EventsPublishedTotal.WithLabelValues(string(e.EventType), "failed").Inc()
			p.logger.Warn("event drain failed", "event_type", e.EventType, "error", err)
			return
		}
		metrics.EventsPublishedTotal.WithLabelValues(string(e.EventType), "delivered").Inc()
	}()
}

// Stop signals the drain loop to exit and waits for in-flight drains.
func (p *OutboxPublisher) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// NoopPublisher discards every envelope; used in tests.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Envelope) error { return nil }
