package unload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/redtap/pkg/compression"
)

// memStore is an in-memory ObjectStore keyed by object key.
type memStore struct {
	mu           sync.Mutex
	objects      map[string][]byte
	failDownload map[string]error
	failList     error
	deleted      []string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, failDownload: map[string]error{}}
}

func (s *memStore) put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
}

func (s *memStore) List(_ context.Context, _ string, prefix string) ([]Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList != nil {
		return nil, s.failList
	}
	var out []Object
	for k, v := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Object{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Key < out[b].Key })
	return out, nil
}

func (s *memStore) Download(_ context.Context, _ string, key string, w io.WriterAt) (int64, error) {
	s.mu.Lock()
	data, ok := s.objects[key]
	err := s.failDownload[key]
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("no such key %s", key)
	}
	n, err := w.WriteAt(data, 0)
	return int64(n), err
}

func (s *memStore) Delete(_ context.Context, _ string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.objects, k)
		s.deleted = append(s.deleted, k)
	}
	return nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

var targetPattern = regexp.MustCompile(`TO 's3://[^/]+/([^']*)'`)

// fakeHandle completes after a number of polls, or never when polls < 0.
type fakeHandle struct {
	mu        sync.Mutex
	polls     int
	pollErr   error
	cancelled bool
}

func (h *fakeHandle) Poll(context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.polls < 0 {
		return false, nil
	}
	if h.polls > 0 {
		h.polls--
		return false, nil
	}
	return true, h.pollErr
}

func (h *fakeHandle) Cancel(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
	return nil
}

func (h *fakeHandle) wasCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// fakeSubmitter writes files under the command's target prefix, the way
// the warehouse would, and hands out handle.
type fakeSubmitter struct {
	store    *memStore
	files    map[string][]byte
	handle   *fakeHandle
	err      error
	mu       sync.Mutex
	commands []string
}

func (s *fakeSubmitter) Submit(_ context.Context, command string) (Handle, error) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	m := targetPattern.FindStringSubmatch(command)
	if m == nil {
		return nil, fmt.Errorf("no target in %q", command)
	}
	for name, data := range s.files {
		s.store.put(m[1]+name, data)
	}
	if s.handle == nil {
		s.handle = &fakeHandle{}
	}
	return s.handle, nil
}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := compression.NewWriter(compression.Gzip, &buf, compression.Default)
	require.NoError(t, err)
	_, err = w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}
