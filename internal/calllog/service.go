package calllog

import (
	"context"
	"errors"
	"time"
)

// Repository is the persistence contract for call summaries.
//
// Upsert MUST be idempotent on CallSID: the service retries failed writes,
// and a call that was already recorded is overwritten with identical data,
// never duplicated.
type Repository interface {
	Upsert(ctx context.Context, s Summary) error
	Get(ctx context.Context, callSID string) (Summary, error)
}

var (
	ErrInvalidSummary = errors.New("calllog: invalid summary")
	ErrNotFound       = errors.New("calllog: summary not found")
)

const (
	recordAttempts = 3
	retryBackoff   = 200 * time.Millisecond
)

// Service records finished calls. Recording is at-least-once: transient
// store failures are retried before the error is surfaced to the caller.
type Service struct {
	repo  Repository
	clock func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now, sleep: sleepCtx}
}

// sleepCtx waits out the backoff but yields immediately on cancellation, so
// finalization never overstays its deadline inside a retry pause.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Service) Record(ctx context.Context, sum Summary) error {
	if s.repo == nil {
		return errors.New("calllog: repository not configured")
	}
	if sum.CallSID == "" || sum.RestaurantID == "" {
		return ErrInvalidSummary
	}
	if sum.FinalState == "" || sum.HandledBy == "" {
		return ErrInvalidSummary
	}
	if sum.EndedAt.IsZero() {
		sum.EndedAt = s.clock().UTC()
	}

	var err error
	for attempt := 0; attempt < recordAttempts; attempt++ {
		if attempt > 0 {
			if serr := s.sleep(ctx, retryBackoff<<attempt); serr != nil {
				return serr
			}
		}
		if err = s.repo.Upsert(ctx, sum); err == nil {
			return nil
		}
	}
	return err
}

func (s *Service) Get(ctx context.Context, callSID string) (Summary, error) {
	if callSID == "" {
		return Summary{}, ErrInvalidSummary
	}
	return s.repo.Get(ctx, callSID)
}
