package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrDraining  = errors.New("session store is draining")
	ErrDuplicate = errors.New("session already exists")
)

type Hook func(s *Session)

// Store tracks the live sessions of the process.
type Store struct {
	sessions sync.Map
	count    atomic.Int64
	draining atomic.Bool

	OnCreate Hook
	OnEnd    Hook
}

func NewStore() *Store { return &Store{} }

func (r *Store) Create(id, traceID string) (*Session, error) {
	if r.Draining() {
		return nil, ErrDraining
	}
	sess := New(id, traceID)
	if _, loaded := r.sessions.LoadOrStore(id, sess); loaded {
		sess.cancel()
		return nil, ErrDuplicate
	}
	r.count.Add(1)
	if r.OnCreate != nil {
		r.OnCreate(sess)
	}
	return sess, nil
}

func (r *Store) Get(id string) (*Session, bool) {
	if v, ok := r.sessions.Load(id); ok {
		return v.(*Session), true
	}
	return nil, false
}

// Remove drops the session and closes it.
func (r *Store) Remove(id string) error {
	v, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return nil
	}
	sess := v.(*Session)
	r.count.Add(-1)
	err := sess.Close()
	if r.OnEnd != nil {
		r.OnEnd(sess)
	}
	return err
}

func (r *Store) CloseAll() {
	r.sessions.Range(func(key, value any) bool {
		if id, ok := key.(string); ok {
			_ = r.Remove(id)
		}
		return true
	})
}

func (r *Store) IDs() []string {
	var ids []string
	r.sessions.Range(func(key, value any) bool {
		if id, ok := key.(string); ok {
			ids = append(ids, id)
		}
		return true
	})
	sort.Strings(ids)
	return ids
}

func (r *Store) Count() int64 {
	return r.count.Load()
}

func (r *Store) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Store) Draining() bool {
	return r.draining.Load()
}

func (r *Store) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
