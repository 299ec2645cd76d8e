package session

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRegistry_InsertIfAbsent(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	a := newCallSession("s1", "CA123", "+15550001111", now)
	b := newCallSession("s2", "CA123", "+15550001111", now)

	if err := r.Insert(a); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := r.Insert(b); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}

	got, ok := r.Get("CA123")
	if !ok || got != a {
		t.Fatal("expected first session to win")
	}
}

func TestRegistry_ConcurrentInsertAdmitsExactlyOne(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	const racers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := newCallSession("s", "CA123", "", now)
			if r.Insert(s) == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 live session, got %d", r.Len())
	}
}

func TestRegistry_RemoveFreesCallID(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	if err := r.Insert(newCallSession("s1", "CA123", "", now)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	r.Remove("CA123")
	r.Remove("CA123") // idempotent

	if err := r.Insert(newCallSession("s2", "CA123", "", now)); err != nil {
		t.Fatalf("expected insert after remove, got %v", err)
	}
}
