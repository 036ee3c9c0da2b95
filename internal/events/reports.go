package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vadiminshakov/yieldcron/internal/domain"
)

// ReportBroadcaster fans out committed swap reports to all subscribers via buffered channels.
type ReportBroadcaster struct {
	mu     sync.RWMutex
	subs   map[chan domain.SwapReportRecord]struct{}
	buffer int
}

// NewReportBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewReportBroadcaster(buffer int) *ReportBroadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &ReportBroadcaster{
		subs:   make(map[chan domain.SwapReportRecord]struct{}),
		buffer: buffer,
	}
}

// Publish sends the report to all subscribers, dropping if a reader is slow.
func (b *ReportBroadcaster) Publish(r domain.SwapReportRecord) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- r:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives reports until Unsubscribe is called.
func (b *ReportBroadcaster) Subscribe() chan domain.SwapReportRecord {
	ch := make(chan domain.SwapReportRecord, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *ReportBroadcaster) Unsubscribe(ch chan domain.SwapReportRecord) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

type reportLog interface {
	Save(report domain.SwapReport) error
	CurrentIndex() uint64
}

// Fanout appends reports to the log and then publishes them with their log index.
type Fanout struct {
	log         reportLog
	broadcaster *ReportBroadcaster
	l           *zap.Logger
	mu          sync.Mutex
}

// NewFanout wires a report log to a broadcaster. Either may be nil.
func NewFanout(log reportLog, broadcaster *ReportBroadcaster, l *zap.Logger) *Fanout {
	if l == nil {
		l = zap.NewNop()
	}
	return &Fanout{log: log, broadcaster: broadcaster, l: l}
}

// Emit records one report. A log failure is returned; broadcasting never fails.
func (f *Fanout) Emit(report domain.SwapReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var index uint64
	if f.log != nil {
		if err := f.log.Save(report); err != nil {
			f.l.Error("failed to append swap report", zap.String("record", report.RecordID.String()), zap.Error(err))
			return err
		}
		index = f.log.CurrentIndex()
	}

	if f.broadcaster != nil {
		f.broadcaster.Publish(domain.SwapReportRecord{Index: index, Report: report})
	}

	f.l.Info("swap report",
		zap.String("record", report.RecordID.String()),
		zap.String("side", report.Side.String()),
		zap.Uint16("cycle", report.Cycle),
		zap.Uint64("amount_given", report.AmountGiven),
		zap.Uint64("from_amount", report.FromAmount),
		zap.Uint64("to_amount", report.ToAmount),
		zap.Uint64("min_accepted", report.MinAccepted))

	return nil
}
