package calllog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PGRepo persists call summaries in Postgres. Transcript and tool logs are
// stored as jsonb; the summary row is upserted on call_sid.
//
// Expected schema:
//
//	CREATE TABLE call_summaries (
//	    call_sid      text PRIMARY KEY,
//	    restaurant_id text NOT NULL,
//	    from_number   text NOT NULL DEFAULT '',
//	    started_at    timestamptz NOT NULL,
//	    ended_at      timestamptz NOT NULL,
//	    final_state   text NOT NULL,
//	    handled_by    text NOT NULL,
//	    forwarded_to  text NOT NULL DEFAULT '',
//	    transcript    jsonb NOT NULL DEFAULT '[]',
//	    tools         jsonb NOT NULL DEFAULT '[]',
//	    error         text NOT NULL DEFAULT ''
//	);
type PGRepo struct {
	db *sql.DB
}

func NewPGRepo(db *sql.DB) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Upsert(ctx context.Context, s Summary) error {
	transcript, err := json.Marshal(s.Transcript)
	if err != nil {
		return fmt.Errorf("calllog: marshal transcript: %w", err)
	}
	toolLog, err := json.Marshal(s.Tools)
	if err != nil {
		return fmt.Errorf("calllog: marshal tools: %w", err)
	}

	const q = `
		INSERT INTO call_summaries (
			call_sid, restaurant_id, from_number, started_at, ended_at,
			final_state, handled_by, forwarded_to, transcript, tools, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (call_sid) DO UPDATE SET
			restaurant_id = EXCLUDED.restaurant_id,
			from_number   = EXCLUDED.from_number,
			started_at    = EXCLUDED.started_at,
			ended_at      = EXCLUDED.ended_at,
			final_state   = EXCLUDED.final_state,
			handled_by    = EXCLUDED.handled_by,
			forwarded_to  = EXCLUDED.forwarded_to,
			transcript    = EXCLUDED.transcript,
			tools         = EXCLUDED.tools,
			error         = EXCLUDED.error`

	_, err = r.db.ExecContext(ctx, q,
		s.CallSID, s.RestaurantID, s.From, s.StartedAt, s.EndedAt,
		s.FinalState, s.HandledBy, s.ForwardedTo, transcript, toolLog, s.Error,
	)
	return err
}

func (r *PGRepo) Get(ctx context.Context, callSID string) (Summary, error) {
	const q = `
		SELECT call_sid, restaurant_id, from_number, started_at, ended_at,
		       final_state, handled_by, forwarded_to, transcript, tools, error
		FROM call_summaries
		WHERE call_sid = $1`

	var (
		s          Summary
		transcript []byte
		toolLog    []byte
	)
	err := r.db.QueryRowContext(ctx, q, callSID).Scan(
		&s.CallSID, &s.RestaurantID, &s.From, &s.StartedAt, &s.EndedAt,
		&s.FinalState, &s.HandledBy, &s.ForwardedTo, &transcript, &toolLog, &s.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Summary{}, ErrNotFound
	}
	if err != nil {
		return Summary{}, err
	}

	if err := json.Unmarshal(transcript, &s.Transcript); err != nil {
		return Summary{}, fmt.Errorf("calllog: unmarshal transcript: %w", err)
	}
	if err := json.Unmarshal(toolLog, &s.Tools); err != nil {
		return Summary{}, fmt.Errorf("calllog: unmarshal tools: %w", err)
	}
	return s, nil
}
