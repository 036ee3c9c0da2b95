// Package journal records every attempted record operation and how it ended.
package journal

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/yieldcron/internal/domain"
)

const (
	DefaultDir = "./wal/journal"

	intentKeyPrefix = "op_intent_"

	StatusPending = "pending"
	StatusDone    = "done"
	StatusFailed  = "failed"
	// StatusUnreported marks a committed operation whose report was not recorded.
	StatusUnreported = "unreported"
)

// Op names an engine operation.
type Op string

const (
	OpOpen    Op = "open"
	OpTopUp   Op = "top_up"
	OpExecute Op = "execute"
	OpClose   Op = "close"
)

// Intent is one attempted operation.
type Intent struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Op        Op              `json:"op"`
	RecordID  domain.Identity `json:"record_id"`
	Amount    uint64          `json:"amount,omitempty"`
	Time      time.Time       `json:"time"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Journal keeps intents in memory and persists each state change to a WAL.
type Journal struct {
	wal *gowal.Wal

	mu      sync.Mutex
	intents []*Intent
	index   map[string]*Intent
}

// Open opens the journal WAL in dir and replays stored intents.
func Open(dir string) (*Journal, error) {
	if dir == "" {
		dir = DefaultDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "journal_",
		SegmentThreshold: 1000,
		MaxSegments:      100,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init journal WAL")
	}

	intents, err := replay(wal)
	if err != nil {
		wal.Close()
		return nil, err
	}

	return newJournal(wal, intents), nil
}

func newJournal(wal *gowal.Wal, intents []*Intent) *Journal {
	index := make(map[string]*Intent)
	for _, intent := range intents {
		index[intent.ID] = intent
	}
	return &Journal{
		wal:     wal,
		intents: intents,
		index:   index,
	}
}

// replay keeps the latest state of each intent, in first-seen order.
func replay(wal *gowal.Wal) ([]*Intent, error) {
	var (
		intents []*Intent
		seen    = make(map[string]*Intent)
	)

	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, intentKeyPrefix) {
			continue
		}

		var intent Intent
		if err := json.Unmarshal(msg.Value, &intent); err != nil {
			return nil, errors.Wrap(err, "decode journal intent")
		}

		if existing, ok := seen[intent.ID]; ok {
			*existing = intent
			continue
		}
		cp := intent
		seen[intent.ID] = &cp
		intents = append(intents, &cp)
	}

	return intents, nil
}

// Prepare records a pending operation.
func (j *Journal) Prepare(op Op, recordID domain.Identity, amount uint64) (*Intent, error) {
	intent := &Intent{
		ID:       uuid.New().String(),
		Status:   StatusPending,
		Op:       op,
		RecordID: recordID,
		Amount:   amount,
		Time:     time.Now().UTC(),
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.persist(intent); err != nil {
		return nil, err
	}

	j.intents = append(j.intents, intent)
	j.index[intent.ID] = intent
	return intent, nil
}

func (j *Journal) MarkFailed(intent *Intent, err error) error {
	if intent == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	intent.Status = StatusFailed
	if err != nil {
		intent.Error = err.Error()
		intent.ErrorKind = domain.ErrorKind(err)
	} else {
		intent.Error = ""
		intent.ErrorKind = ""
	}
	return j.persist(intent)
}

func (j *Journal) MarkDone(intent *Intent) error {
	if intent == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	intent.Status = StatusDone
	intent.Error = ""
	intent.ErrorKind = ""
	return j.persist(intent)
}

// MarkUnreported finalises a committed operation whose report could not be recorded.
func (j *Journal) MarkUnreported(intent *Intent, err error) error {
	if intent == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	intent.Status = StatusUnreported
	intent.ErrorKind = ""
	intent.Error = ""
	if err != nil {
		intent.Error = err.Error()
	}
	return j.persist(intent)
}

// Intents returns copies of all intents in the order they were prepared.
func (j *Journal) Intents() []Intent {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Intent, 0, len(j.intents))
	for _, intent := range j.intents {
		out = append(out, *intent)
	}
	return out
}

// Pending returns intents that never reached a final status, e.g. after a crash.
func (j *Journal) Pending() []Intent {
	return j.withStatus(StatusPending)
}

// Unreported returns committed operations that have no recorded report.
func (j *Journal) Unreported() []Intent {
	return j.withStatus(StatusUnreported)
}

func (j *Journal) withStatus(status string) []Intent {
	var out []Intent
	for _, intent := range j.Intents() {
		if intent.Status == status {
			out = append(out, intent)
		}
	}
	return out
}

func (j *Journal) Close() error {
	return j.wal.Close()
}

func (j *Journal) persist(intent *Intent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "failed to marshal intent")
	}
	key := fmt.Sprintf("%s%s", intentKeyPrefix, intent.ID)
	nextIndex := j.wal.CurrentIndex() + 1
	return j.wal.Write(nextIndex, key, data)
}
