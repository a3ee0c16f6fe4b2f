// Package pipeline turns raw scale notifications into reported measurements.
// Notifications are queued without blocking the BLE callback and processed
// on a single worker: decode, gate, report.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chaz8081/miscale-bridge/internal/ble/protocol"
)

// Reporter delivers an accepted measurement downstream.
type Reporter interface {
	Report(ctx context.Context, m protocol.Measurement) error
}

// Options configures a Pipeline.
type Options struct {
	QueueSize int           // max pending notifications before the oldest is dropped
	Gate      protocol.Gate // decides which messages are reported
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		QueueSize: 16,
		Gate:      protocol.DefaultGate(),
	}
}

// Stats counts what happened to offered notifications.
type Stats struct {
	Received  uint64
	Dropped   uint64 // evicted from a full queue
	Malformed uint64
	Rejected  uint64 // decoded but not reportable
	Reported  uint64
	Failed    uint64
}

// Pipeline is a bounded single-worker queue in front of a Reporter.
type Pipeline struct {
	reporter Reporter
	opts     Options

	mu      sync.Mutex
	queue   [][]byte
	closed  bool
	started bool

	wake chan struct{}
	done chan struct{}

	received, dropped, malformed, rejected, reported, failed atomic.Uint64
}

// New creates a Pipeline. Call Start before offering notifications.
func New(reporter Reporter, opts Options) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	return &Pipeline{
		reporter: reporter,
		opts:     opts,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the worker. The worker stops when ctx is cancelled or
// after Close has drained the queue.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
}

// Offer queues a copy of data. It never blocks; when the queue is full the
// oldest pending notification is dropped. Offers after Close are ignored.
func (p *Pipeline) Offer(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.received.Add(1)
	if len(p.queue) >= p.opts.QueueSize {
		p.queue = p.queue[1:]
		p.dropped.Add(1)
		slog.Warn("[PIPELINE] queue full, dropping oldest notification")
	}
	p.queue = append(p.queue, cp)
	p.mu.Unlock()

	p.signal()
}

// Close stops accepting notifications, lets the worker drain what is
// queued and waits for it to exit.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	if !started {
		close(p.done)
		return
	}
	p.signal()
	<-p.done

	st := p.Stats()
	slog.Info("[PIPELINE] closed",
		"received", st.Received, "reported", st.Reported, "rejected", st.Rejected,
		"malformed", st.Malformed, "dropped", st.Dropped, "failed", st.Failed)
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:  p.received.Load(),
		Dropped:   p.dropped.Load(),
		Malformed: p.malformed.Load(),
		Rejected:  p.rejected.Load(),
		Reported:  p.reported.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pipeline) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}

		for {
			data, ok := p.next()
			if !ok {
				break
			}
			p.process(ctx, data)
			if ctx.Err() != nil {
				return
			}
		}

		p.mu.Lock()
		finished := p.closed && len(p.queue) == 0
		p.mu.Unlock()
		if finished {
			return
		}
	}
}

// next pops the oldest queued notification.
func (p *Pipeline) next() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, false
	}
	data := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return data, true
}

// process runs one notification through decode, gate and report. Failures
// are logged and contained here.
func (p *Pipeline) process(ctx context.Context, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		p.malformed.Add(1)
		slog.Warn("[PIPELINE] dropping notification", "error", err, "bytes", len(data))
		return
	}
	slog.Debug("[PIPELINE] decoded", "message", msg)

	if !p.opts.Gate.Reportable(msg) {
		p.rejected.Add(1)
		return
	}
	slog.Info("[PIPELINE] measurement accepted", "message", msg)

	if err := p.reporter.Report(ctx, msg.Measurement); err != nil {
		p.failed.Add(1)
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.Error("[PIPELINE] report failed, measurement dropped", "error", err)
		return
	}
	p.reported.Add(1)
}
