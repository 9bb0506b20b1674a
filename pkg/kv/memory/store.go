package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/leafsii/nft-marketplace/pkg/kv"
)

// Store is an in-memory implementation of the kv.Store interface
type Store struct {
	mu          sync.Mutex
	strings     map[string][]byte
	lists       map[string][][]byte
	expirations map[string]time.Time

	janitorInterval time.Duration
	janitorStop     chan struct{}
	janitorDone     chan struct{}
	closeOnce       sync.Once
}

var _ kv.Store = (*Store)(nil)

// New creates a new in-memory store. A positive janitorInterval starts a
// background sweep of expired keys.
func New(janitorInterval time.Duration) *Store {
	s := &Store{
		strings:         make(map[string][]byte),
		lists:           make(map[string][][]byte),
		expirations:     make(map[string]time.Time),
		janitorInterval: janitorInterval,
		janitorStop:     make(chan struct{}),
		janitorDone:     make(chan struct{}),
	}

	if janitorInterval > 0 {
		go s.janitor()
	} else {
		close(s.janitorDone)
	}

	return s
}

// NewStore creates a new in-memory store with the default janitor interval
func NewStore() kv.Store {
	return New(30 * time.Second)
}

func (s *Store) janitor() {
	defer close(s.janitorDone)
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.janitorStop:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, expiry := range s.expirations {
		if now.After(expiry) {
			s.deleteKeyLocked(key)
		}
	}
}

// expireLocked drops key if its TTL has passed (must hold lock)
func (s *Store) expireLocked(key string) {
	if expiry, ok := s.expirations[key]; ok && time.Now().After(expiry) {
		s.deleteKeyLocked(key)
	}
}

func (s *Store) deleteKeyLocked(key string) {
	delete(s.strings, key)
	delete(s.lists, key)
	delete(s.expirations, key)
}

func (s *Store) existsLocked(key string) bool {
	s.expireLocked(key)
	if _, ok := s.strings[key]; ok {
		return true
	}
	_, ok := s.lists[key]
	return ok
}

// String operations

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteKeyLocked(key)
	s.strings[key] = append([]byte(nil), value...)
	if len(ttl) > 0 && ttl[0] > 0 {
		s.expirations[key] = time.Now().Add(ttl[0])
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	if _, ok := s.lists[key]; ok {
		return nil, kv.ErrWrongType
	}
	value, ok := s.strings[key]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Key operations

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		if s.existsLocked(key) {
			deleted++
		}
		s.deleteKeyLocked(key)
	}
	return deleted, nil
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, key := range keys {
		if s.existsLocked(key) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.existsLocked(key) {
		return false, nil
	}
	if ttl > 0 {
		s.expirations[key] = time.Now().Add(ttl)
	} else {
		delete(s.expirations, key)
	}
	return true, nil
}

// TTL returns the remaining lifetime of key, or -1 when it never expires.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.existsLocked(key) {
		return 0, kv.ErrNotFound
	}
	expiry, ok := s.expirations[key]
	if !ok {
		return -1, nil
	}
	return time.Until(expiry), nil
}

// Counter operations

func (s *Store) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	if _, ok := s.lists[key]; ok {
		return 0, kv.ErrWrongType
	}

	var current int64
	if value, ok := s.strings[key]; ok {
		parsed, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return 0, kv.ErrWrongType
		}
		current = parsed
	}

	current += n
	s.strings[key] = []byte(strconv.FormatInt(current, 10))
	return current, nil
}

// List operations

// LPush prepends values one by one, so the last value ends up at the head.
func (s *Store) LPush(ctx context.Context, key string, values ...[]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	if _, ok := s.strings[key]; ok {
		return 0, kv.ErrWrongType
	}

	list := s.lists[key]
	head := make([][]byte, 0, len(values)+len(list))
	for i := len(values) - 1; i >= 0; i-- {
		head = append(head, append([]byte(nil), values[i]...))
	}
	s.lists[key] = append(head, list...)
	return int64(len(s.lists[key])), nil
}

// LTrim keeps only the elements in [start, stop], with Redis index rules.
func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	list, ok := s.lists[key]
	if !ok {
		return nil
	}
	from, to, ok := bounds(int64(len(list)), start, stop)
	if !ok {
		s.deleteKeyLocked(key)
		return nil
	}
	s.lists[key] = append([][]byte(nil), list[from:to+1]...)
	return nil
}

func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	if _, ok := s.strings[key]; ok {
		return nil, kv.ErrWrongType
	}
	list := s.lists[key]
	from, to, ok := bounds(int64(len(list)), start, stop)
	if !ok {
		return [][]byte{}, nil
	}

	out := make([][]byte, 0, to-from+1)
	for _, v := range list[from : to+1] {
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}

// bounds resolves negative indices and clamps them to a list of length n.
func bounds(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return 0, 0, false
	}
	return start, stop, true
}

// Ping always returns nil for the in-memory store
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close stops the janitor and drops all data
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.janitorInterval > 0 {
			close(s.janitorStop)
			<-s.janitorDone
		}
		s.mu.Lock()
		s.strings = make(map[string][]byte)
		s.lists = make(map[string][][]byte)
		s.expirations = make(map[string]time.Time)
		s.mu.Unlock()
	})
	return nil
}
