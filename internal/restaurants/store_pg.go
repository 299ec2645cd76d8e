package restaurants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PGStore reads restaurant configuration from Postgres.
//
// Tool and knowledge lists are stored as comma-separated text columns; they
// are small bounded sets, not relational data.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

const restaurantColumns = `
	id, name, address, inbound_number, forwarding_number, timezone,
	ai_enabled, call_hours_start, call_hours_end,
	agent_id, voice_id, enabled_tools, knowledge_refs, greeting`

func (s *PGStore) GetByID(ctx context.Context, id string) (RestaurantConfig, error) {
	q := `SELECT` + restaurantColumns + ` FROM restaurants WHERE id = $1`
	return s.get(ctx, q, id)
}

func (s *PGStore) GetByPhone(ctx context.Context, phone string) (RestaurantConfig, error) {
	q := `SELECT` + restaurantColumns + ` FROM restaurants WHERE inbound_number = $1`
	return s.get(ctx, q, phone)
}

func (s *PGStore) get(ctx context.Context, query, arg string) (RestaurantConfig, error) {
	if s.db == nil {
		return RestaurantConfig{}, errors.New("restaurants: db not configured")
	}

	var (
		c             RestaurantConfig
		address       sql.NullString
		forwarding    sql.NullString
		voiceID       sql.NullString
		enabledTools  sql.NullString
		knowledgeRefs sql.NullString
		greeting      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&c.ID, &c.Name, &address, &c.InboundNumber, &forwarding, &c.Timezone,
		&c.AIEnabled, &c.CallHoursStart, &c.CallHoursEnd,
		&c.AgentID, &voiceID, &enabledTools, &knowledgeRefs, &greeting,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return RestaurantConfig{}, ErrNotFound
	}
	if err != nil {
		return RestaurantConfig{}, fmt.Errorf("restaurants: query failed: %w", err)
	}

	c.Address = address.String
	c.ForwardingNumber = forwarding.String
	c.VoiceID = voiceID.String
	c.EnabledTools = splitList(enabledTools.String)
	c.KnowledgeRefs = splitList(knowledgeRefs.String)
	c.Greeting = greeting.String
	return c, nil
}

func splitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
