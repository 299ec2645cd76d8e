package calllog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func validSummary() Summary {
	return Summary{
		CallSID:      "CA123",
		RestaurantID: "r1",
		From:         "+15550001111",
		StartedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EndedAt:      time.Date(2026, 3, 1, 12, 3, 0, 0, time.UTC),
		FinalState:   "ENDED_BY_TOOL",
		HandledBy:    "ai",
	}
}

func newService(repo Repository) *Service {
	s := NewService(repo)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

type flakyRepo struct {
	*MemoryRepo
	failures int
	calls    int
}

func (r *flakyRepo) Upsert(ctx context.Context, s Summary) error {
	r.calls++
	if r.calls <= r.failures {
		return errors.New("store unavailable")
	}
	return r.MemoryRepo.Upsert(ctx, s)
}

func TestRecord_PersistsSummary(t *testing.T) {
	repo := NewMemoryRepo()
	svc := newService(repo)

	if err := svc.Record(context.Background(), validSummary()); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	got, err := svc.Get(context.Background(), "CA123")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.HandledBy != "ai" || got.FinalState != "ENDED_BY_TOOL" {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestRecord_RetriesTransientFailures(t *testing.T) {
	repo := &flakyRepo{MemoryRepo: NewMemoryRepo(), failures: 2}
	svc := newService(repo)

	if err := svc.Record(context.Background(), validSummary()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if repo.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", repo.calls)
	}
}

func TestRecord_CancellationCutsBackoffShort(t *testing.T) {
	repo := &flakyRepo{MemoryRepo: NewMemoryRepo(), failures: 10}
	svc := NewService(repo) // real sleep: cancellation must interrupt it

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := svc.Record(ctx, validSummary())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed >= retryBackoff {
		t.Fatalf("expected backoff to be cut short, waited %v", elapsed)
	}
	if repo.calls != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", repo.calls)
	}
}

func TestRecord_GivesUpAfterRetries(t *testing.T) {
	repo := &flakyRepo{MemoryRepo: NewMemoryRepo(), failures: 10}
	svc := newService(repo)

	if err := svc.Record(context.Background(), validSummary()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestRecord_IdempotentOnCallSID(t *testing.T) {
	repo := NewMemoryRepo()
	svc := newService(repo)

	sum := validSummary()
	if err := svc.Record(context.Background(), sum); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := svc.Record(context.Background(), sum); err != nil {
		t.Fatalf("repeat record failed: %v", err)
	}
	if repo.Len() != 1 {
		t.Fatalf("expected 1 summary, got %d", repo.Len())
	}
}

func TestRecord_RejectsIncompleteSummary(t *testing.T) {
	svc := newService(NewMemoryRepo())

	for name, mutate := range map[string]func(*Summary){
		"missing call sid":      func(s *Summary) { s.CallSID = "" },
		"missing restaurant id": func(s *Summary) { s.RestaurantID = "" },
		"missing final state":   func(s *Summary) { s.FinalState = "" },
		"missing handled by":    func(s *Summary) { s.HandledBy = "" },
	} {
		sum := validSummary()
		mutate(&sum)
		if err := svc.Record(context.Background(), sum); !errors.Is(err, ErrInvalidSummary) {
			t.Fatalf("%s: expected ErrInvalidSummary, got %v", name, err)
		}
	}
}

func TestRecord_DefaultsEndedAt(t *testing.T) {
	repo := NewMemoryRepo()
	svc := newService(repo)
	svc.clock = func() time.Time { return time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC) }

	sum := validSummary()
	sum.EndedAt = time.Time{}
	if err := svc.Record(context.Background(), sum); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	got, _ := svc.Get(context.Background(), "CA123")
	if got.EndedAt.IsZero() {
		t.Fatal("expected ended_at defaulted")
	}
}
