package events

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/yieldcron/internal/domain"
)

type memLog struct {
	reports []domain.SwapReport
	err     error
}

func (m *memLog) Save(r domain.SwapReport) error {
	if m.err != nil {
		return m.err
	}
	m.reports = append(m.reports, r)
	return nil
}

func (m *memLog) CurrentIndex() uint64 { return uint64(len(m.reports)) }

func TestReportBroadcaster_DropsSlowConsumer(t *testing.T) {
	b := NewReportBroadcaster(1)
	ch := b.Subscribe()

	b.Publish(domain.SwapReportRecord{Index: 1})
	b.Publish(domain.SwapReportRecord{Index: 2})

	got := <-ch
	assert.Equal(t, uint64(1), got.Index)
	assert.Empty(t, ch)

	b.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
	b.Unsubscribe(ch)
}

func TestFanout_EmitsWithIndex(t *testing.T) {
	log := &memLog{}
	b := NewReportBroadcaster(4)
	ch := b.Subscribe()
	f := NewFanout(log, b, nil)

	report := domain.SwapReport{RecordID: domain.IdentityFromLabel("r"), Cycle: 1}
	require.NoError(t, f.Emit(report))
	require.NoError(t, f.Emit(report))

	assert.Len(t, log.reports, 2)
	assert.Equal(t, uint64(1), (<-ch).Index)
	assert.Equal(t, uint64(2), (<-ch).Index)
}

func TestFanout_LogFailureSkipsBroadcast(t *testing.T) {
	log := &memLog{err: errors.New("disk full")}
	b := NewReportBroadcaster(4)
	ch := b.Subscribe()
	f := NewFanout(log, b, nil)

	assert.Error(t, f.Emit(domain.SwapReport{}))
	assert.Empty(t, ch)
}
