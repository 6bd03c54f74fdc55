package roleguard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/roleguard/logger"
)

// Audit dispatcher defaults.
const (
	DefaultAuditBuffer  = 1024
	DefaultAuditTimeout = 5 * time.Second
)

// AuditDispatcher forwards audit records to an AuditSink on a background
// goroutine. Submit never blocks: when the queue is full the record is
// dropped and a warning logged. Sink errors and panics are logged at warn
// and otherwise ignored.
type AuditDispatcher struct {
	sink    AuditSink
	ch      chan AuditRecord
	timeout time.Duration
	logger  logger.Logger
	onDrop  func()

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAuditDispatcher(sink AuditSink, buffer int, timeout time.Duration, l logger.Logger) *AuditDispatcher {
	if sink == nil {
		sink = NoopAuditSink{}
	}
	if buffer <= 0 {
		buffer = DefaultAuditBuffer
	}
	if timeout <= 0 {
		timeout = DefaultAuditTimeout
	}
	if l == nil {
		l = logger.NewNullLogger()
	}
	d := &AuditDispatcher{
		sink:    sink,
		ch:      make(chan AuditRecord, buffer),
		timeout: timeout,
		logger:  l,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Submit queues rec for persistence.
func (d *AuditDispatcher) Submit(rec AuditRecord) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("audit dispatcher closed, record dropped", "actor", rec.Actor, "module", rec.Module, "action", rec.Action)
		d.dropped()
		return
	}
	select {
	case d.ch <- rec:
	default:
		d.logger.Warn("audit queue full, record dropped", "actor", rec.Actor, "module", rec.Module, "action", rec.Action)
		d.dropped()
	}
}

// Close stops accepting records and waits for queued ones to be written.
func (d *AuditDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *AuditDispatcher) dropped() {
	if d.onDrop != nil {
		d.onDrop()
	}
}

func (d *AuditDispatcher) run() {
	defer d.wg.Done()
	for rec := range d.ch {
		d.write(rec)
	}
}

func (d *AuditDispatcher) write(rec AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			d.logger.Warn("audit sink panicked", "audit_id", rec.ID, "panic", fmt.Sprint(p))
		}
	}()
	if err := d.sink.Record(ctx, &rec); err != nil {
		d.logger.Warn("audit sink write failed", "audit_id", rec.ID, "actor", rec.Actor, "error", err)
	}
}
