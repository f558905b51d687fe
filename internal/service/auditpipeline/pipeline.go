// Package auditpipeline implements the Audit Event Pipeline of spec
// §4.6: an async, batched, backpressure-aware fan-out of audit events
// to multiple best-effort sinks, plus a background correlation rule
// set.
package auditpipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/velro/authz-core/internal/domain/audit"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchSize sets the number of events buffered before a flush.
func WithBatchSize(n int) Option { return func(p *Pipeline) { p.batchSize = n } }

// WithFlushInterval sets the periodic flush cadence.
func WithFlushInterval(d time.Duration) Option { return func(p *Pipeline) { p.flushInterval = d } }

// WithChannelSize sets the event channel buffer capacity.
func WithChannelSize(n int) Option {
	return func(p *Pipeline) {
		p.eventChan = make(chan *audit.Event, n)
		p.channelSize = n
	}
}

// WithSendTimeout sets how long Emit blocks under backpressure before
// dropping the event. 0 drops immediately.
func WithSendTimeout(d time.Duration) Option { return func(p *Pipeline) { p.sendTimeout = d } }

// Pipeline fans each audit event out to every configured Sink. Modeled
// on the teacher's internal/service/audit_service.go: a buffered
// channel, a single background worker batching writes, non-blocking
// fast path plus a bounded-wait backpressure path, and an
// adaptive-flush threshold that speeds up flushing as the channel
// fills.
type Pipeline struct {
	sinks  []audit.Sink
	logger *slog.Logger

	eventChan   chan *audit.Event
	channelSize int
	batchSize   int

	flushInterval          time.Duration
	sendTimeout            time.Duration
	adaptiveFlushThreshold int

	dropCount atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Pipeline fanning out to sinks.
func New(sinks []audit.Sink, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		sinks:                  sinks,
		logger:                 logger,
		eventChan:              make(chan *audit.Event, 1000),
		channelSize:            1000,
		batchSize:              100,
		flushInterval:          time.Second,
		sendTimeout:            100 * time.Millisecond,
		adaptiveFlushThreshold: 80,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the background batching worker.
func (p *Pipeline) Start(ctx context.Context) {
	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.worker(ctx)
}

// Stop closes the event channel, flushes any remaining batch, and
// waits for the worker to exit.
func (p *Pipeline) Stop() {
	close(p.eventChan)
	p.wg.Wait()
	for _, s := range p.sinks {
		_ = s.Close()
	}
}

// Emit enqueues event for fan-out. Never blocks the caller beyond
// sendTimeout and never returns an error: per spec §4.6, "a
// logging-destination failure never denies authorization" — emission
// itself is likewise never allowed to fail the authorization path.
func (p *Pipeline) Emit(event *audit.Event) {
	select {
	case p.eventChan <- event:
		return
	default:
	}

	if p.sendTimeout <= 0 {
		p.recordDrop(event)
		return
	}

	select {
	case p.eventChan <- event:
	case <-time.After(p.sendTimeout):
		p.recordDrop(event)
	}
}

func (p *Pipeline) recordDrop(event *audit.Event) {
	drops := p.dropCount.Add(1)
	p.logger.Warn("audit event dropped", "audit_id", event.AuditID, "total_drops", drops)
}

// DroppedEvents returns the total count of events dropped under
// backpressure, for metrics/alerting.
func (p *Pipeline) DroppedEvents() int64 { return p.dropCount.Load() }

// ChannelDepth returns the current event channel occupancy, for health
// checks and monitoring.
func (p *Pipeline) ChannelDepth() int { return len(p.eventChan) }

// ChannelCapacity returns the event channel buffer size, for computing
// a fill percentage alongside ChannelDepth.
func (p *Pipeline) ChannelCapacity() int { return p.channelSize }

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()

	batch := make([]*audit.Event, 0, p.batchSize)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-p.eventChan:
			if !ok {
				if len(batch) > 0 {
					flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					p.flush(flushCtx, batch)
					cancel()
				}
				return
			}
			batch = append(batch, event)

			shouldFlush := len(batch) >= p.batchSize
			if !shouldFlush && p.adaptiveFlushThreshold > 0 {
				depthPercent := len(p.eventChan) * 100 / p.channelSize
				shouldFlush = depthPercent >= p.adaptiveFlushThreshold
			}
			if shouldFlush {
				p.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				p.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// flush fans a batch out to every sink in parallel. A sink failure is
// logged but never surfaced to the caller; an event that no sink
// accepted is logged at error level and dropped. The orchestrator's
// audit layer does not learn of either outcome: it reports success
// once the event is handed to Emit.
func (p *Pipeline) flush(ctx context.Context, batch []*audit.Event) {
	for _, event := range batch {
		var wg sync.WaitGroup
		successes := atomic.Int32{}
		for _, sink := range p.sinks {
			wg.Add(1)
			go func(s audit.Sink) {
				defer wg.Done()
				if err := s.Write(ctx, event); err != nil {
					p.logger.Warn("audit sink write failed", "error", err)
					return
				}
				successes.Add(1)
			}(sink)
		}
		wg.Wait()
		if successes.Load() == 0 {
			p.logger.Error("audit event failed all sinks", "audit_id", event.AuditID)
		}
	}
}
