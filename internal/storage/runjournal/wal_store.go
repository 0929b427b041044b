// Package runjournal persists analysis run progress events in a WAL so
// the web layer can stream them to observers.
package runjournal

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

const (
	defaultJournalDir   = "./wal/runs"
	journalSegmentLimit = 1000
	journalMaxSegments  = 100
	eventKeyPrefix      = "run_event_"
)

// Event is one progress observation of an analysis run.
type Event struct {
	RunID      string    `json:"run_id"`
	TokenID    string    `json:"token_id"`
	Phase      string    `json:"phase"`
	Batch      int       `json:"batch,omitempty"`
	Batches    int       `json:"batches,omitempty"`
	Holders    int       `json:"holders,omitempty"`
	NewRecords int       `json:"new_records,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// EventRecord bundles an event with its WAL index.
type EventRecord struct {
	Index uint64
	Event Event
}

// Store persists run events in a WAL for recovery/streaming purposes.
type Store struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewStore initializes a WAL-backed run journal under the provided directory.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = defaultJournalDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "journal_",
		SegmentThreshold: journalSegmentLimit,
		MaxSegments:      journalMaxSegments,
		IsInSyncDiskMode: false,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init run journal WAL")
	}

	return &Store{wal: wal}, nil
}

// Append writes the event to the WAL. Callers must set RunID.
func (s *Store) Append(event Event) error {
	if s == nil || s.wal == nil {
		return errors.New("run journal is not initialized")
	}
	if event.RunID == "" {
		return fmt.Errorf("run event run id is required")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal run event")
	}

	key := fmt.Sprintf("%s%s", eventKeyPrefix, event.RunID)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// EventsAfter returns all run events written after the provided WAL index.
func (s *Store) EventsAfter(index uint64) ([]EventRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("run journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]EventRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, eventKeyPrefix) {
			continue
		}
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, errors.Wrap(err, "decode run event")
		}
		records = append(records, EventRecord{Index: idx, Event: event})
	}

	return records, nil
}

// Close closes the underlying WAL.
func (s *Store) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("run journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
