package swapreports

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/yieldcron/internal/domain"
)

const (
	DefaultDir   = "./wal/swapreports"
	segmentLimit = 100
	maxSegments  = 10

	reportKeyPrefix = "swap_report_"
)

// WALStore is the append-only log of committed swap reports.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed report store.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "report_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init swap report WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends the report.
func (s *WALStore) Save(report domain.SwapReport) error {
	if s == nil || s.wal == nil {
		return errors.New("swap report store is not initialized")
	}
	if report.RecordID.IsZero() {
		return errors.New("swap report record id is required")
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "marshal swap report")
	}

	key := fmt.Sprintf("%s%s_%d", reportKeyPrefix, report.RecordID, report.Cycle)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// EventsAfter returns all reports written after the provided WAL index.
func (s *WALStore) EventsAfter(index uint64) ([]domain.SwapReportRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("swap report store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]domain.SwapReportRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(key, reportKeyPrefix) {
			continue
		}

		var report domain.SwapReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return nil, errors.Wrap(err, "decode swap report")
		}
		records = append(records, domain.SwapReportRecord{Index: idx, Report: report})
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("swap report store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
