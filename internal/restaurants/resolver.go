package restaurants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when no restaurant is registered for the given
// destination. The orchestrator must reject the call rather than start AI
// handling.
var ErrNotFound = errors.New("restaurants: not found")

// Store is the persistence contract for restaurant configuration.
type Store interface {
	GetByPhone(ctx context.Context, phone string) (RestaurantConfig, error)
	GetByID(ctx context.Context, id string) (RestaurantConfig, error)
}

// Resolver maps an inbound call destination to a tenant snapshot.
// It is read-only and safe for concurrent use.
type Resolver struct {
	store Store
	now   func() time.Time
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// Resolve accepts either a registered E.164 phone number or a restaurant id.
func (r *Resolver) Resolve(ctx context.Context, destination string) (Resolution, error) {
	if r.store == nil {
		return Resolution{}, errors.New("restaurants: store not configured")
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return Resolution{}, ErrNotFound
	}

	var cfg RestaurantConfig
	var err error
	if strings.HasPrefix(destination, "+") {
		cfg, err = r.store.GetByPhone(ctx, destination)
	} else {
		cfg, err = r.store.GetByID(ctx, destination)
	}
	if err != nil {
		return Resolution{}, err
	}

	now := r.now()
	within, err := withinCallHours(cfg, now)
	if err != nil {
		// A malformed window blocks AI handling but not the call itself;
		// the orchestrator falls back to forwarding.
		within = false
	}

	return Resolution{Config: cfg, WithinCallHours: within, ResolvedAt: now}, nil
}

// withinCallHours evaluates the configured window against now in the
// restaurant's timezone. An empty window means always open. An end time at
// or before the start denotes an overnight window.
func withinCallHours(cfg RestaurantConfig, now time.Time) (bool, error) {
	if cfg.CallHoursStart == "" && cfg.CallHoursEnd == "" {
		return true, nil
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return false, fmt.Errorf("restaurants: bad timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	start, err := parseClock(cfg.CallHoursStart)
	if err != nil {
		return false, err
	}
	end, err := parseClock(cfg.CallHoursEnd)
	if err != nil {
		return false, err
	}

	local := now.In(loc)
	minutes := local.Hour()*60 + local.Minute()

	if start == end {
		return true, nil
	}
	if start < end {
		return minutes >= start && minutes < end, nil
	}
	// Overnight window, e.g. 18:00-02:00.
	return minutes >= start || minutes < end, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("restaurants: bad call-hours value %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
