// Package state holds per-stream replication bookmarks.
//
// A Store keeps two views of every bookmark. The live view advances with
// each emitted record; the committed view only moves on Checkpoint, after
// the records behind it have been flushed downstream. Snapshots, and
// therefore every STATE message, are built from the committed view.
package state

import (
	"bytes"
	"sync"

	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/json"
)

// Bookmark is the replication progress of one stream.
type Bookmark struct {
	ReplicationKey      string      `json:"replication_key,omitempty"`
	ReplicationKeyValue interface{} `json:"replication_key_value,omitempty"`
	Complete            bool        `json:"complete,omitempty"`
}

// State is the persisted form of all bookmarks.
type State struct {
	Bookmarks map[string]Bookmark `json:"bookmarks"`
}

// Parse decodes a state document. An empty document is an empty state; a
// document that cannot be decoded is a StateCorruptionError.
func Parse(data []byte) (*State, error) {
	st := &State{Bookmarks: map[string]Bookmark{}}
	if len(bytes.TrimSpace(data)) == 0 {
		return st, nil
	}
	if err := json.UnmarshalNumber(data, st); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStateCorruption, "failed to parse state")
	}
	if st.Bookmarks == nil {
		st.Bookmarks = map[string]Bookmark{}
	}
	for stream, b := range st.Bookmarks {
		if b.ReplicationKeyValue != nil && b.ReplicationKey == "" {
			return nil, errors.Newf(errors.ErrorTypeStateCorruption,
				"bookmark for stream %q has a value but no replication key", stream)
		}
	}
	return st, nil
}

// Comparator orders two replication key values.
type Comparator func(a, b interface{}) (int, error)

// Store is a concurrency-safe bookmark store. Each stream is advanced by a
// single extraction path; snapshots may be taken from any goroutine.
type Store struct {
	mu        sync.Mutex
	committed map[string]Bookmark
	live      map[string]Bookmark
}

// NewStore creates a store seeded with a prior state, which may be nil.
func NewStore(initial *State) *Store {
	s := &Store{
		committed: map[string]Bookmark{},
		live:      map[string]Bookmark{},
	}
	if initial != nil {
		for k, v := range initial.Bookmarks {
			s.committed[k] = v
			s.live[k] = v
		}
	}
	return s
}

// Get returns the committed bookmark of a stream.
func (s *Store) Get(stream string) (Bookmark, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.committed[stream]
	return b, ok
}

// Resume returns the value to resume from for a stream replicated on key.
// A bookmark recorded for a different key does not apply.
func (s *Store) Resume(stream, key string) (interface{}, bool) {
	b, ok := s.Get(stream)
	if !ok || b.ReplicationKey != key || b.ReplicationKeyValue == nil {
		return nil, false
	}
	return b.ReplicationKeyValue, true
}

// Advance raises the live bookmark of stream to value when value is greater
// than the current maximum. It reports whether the bookmark moved. Null
// values never move a bookmark.
func (s *Store) Advance(stream, key string, value interface{}, cmp Comparator) (bool, error) {
	if key == "" {
		return false, errors.Newf(errors.ErrorTypeInternal, "stream %q has no replication key", stream)
	}
	if value == nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.live[stream]
	if ok && cur.ReplicationKey == key && cur.ReplicationKeyValue != nil {
		c, err := cmp(value, cur.ReplicationKeyValue)
		if err != nil {
			return false, errors.Wrap(err, errors.ErrorTypeData, "failed to compare replication key values").
				WithDetail("stream", stream)
		}
		if c <= 0 {
			return false, nil
		}
	}
	s.live[stream] = Bookmark{ReplicationKey: key, ReplicationKeyValue: value}
	return true, nil
}

// Checkpoint commits the live bookmark of a stream.
func (s *Store) Checkpoint(stream string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.live[stream]; ok {
		s.committed[stream] = b
	}
}

// Complete marks a stream's live bookmark complete and commits it.
func (s *Store) Complete(stream string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.live[stream]; ok {
		b.Complete = true
		s.live[stream] = b
		s.committed[stream] = b
	}
}

// Rollback discards live progress of a stream not yet committed.
func (s *Store) Rollback(stream string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.committed[stream]; ok {
		s.live[stream] = b
	} else {
		delete(s.live, stream)
	}
}

// Snapshot copies the committed bookmarks of every stream.
func (s *Store) Snapshot() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &State{Bookmarks: make(map[string]Bookmark, len(s.committed))}
	for k, v := range s.committed {
		out.Bookmarks[k] = v
	}
	return out
}
