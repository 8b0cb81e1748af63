package db

import (
	"fmt"
	"time"

	"github.com/joselamego/IntelligentTrafficControl/internal/phase"
)

// Transition is a stored phase transition.
type Transition struct {
	ID            string    `json:"id"`
	From          int       `json:"from_lane"`
	To            int       `json:"to_lane"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	GreenSeconds  float64   `json:"green_seconds"`
	WriteFailures int       `json:"write_failures"`
}

// LampFault is a stored lamp write failure.
type LampFault struct {
	ID         int64     `json:"id"`
	Lane       int       `json:"lane"`
	Lamp       string    `json:"lamp"`
	Pin        int       `json:"pin"`
	Asserted   bool      `json:"asserted"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	sec := int64(s)
	return time.Unix(sec, int64((s-float64(sec))*1e9)).UTC()
}

// RecordTransition stores one completed transition. It satisfies
// phase.Recorder.
func (db *DB) RecordTransition(r phase.TransitionRecord) error {
	_, err := db.Exec(
		`INSERT INTO phase_transitions (
			transition_id, from_lane, to_lane, started_unix, completed_unix,
			green_seconds, write_failures
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, int(r.From), int(r.To), unixSeconds(r.StartedAt), unixSeconds(r.CompletedAt),
		r.GreenSeconds, r.WriteFailures,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transition %s: %w", r.ID, err)
	}
	return nil
}

// RecordLampFault stores one failed lamp write. It satisfies phase.Recorder.
func (db *DB) RecordLampFault(f phase.LampFault) error {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	_, err := db.Exec(
		`INSERT INTO lamp_faults (lane, lamp, pin, asserted, error, occurred_unix)
		VALUES (?, ?, ?, ?, ?, ?)`,
		int(f.Lane), f.Lamp.String(), f.Pin, bool(f.Level), msg, unixSeconds(db.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert lamp fault on gpio %d: %w", f.Pin, err)
	}
	return nil
}

// RecentTransitions returns up to limit transitions, newest first.
func (db *DB) RecentTransitions(limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT transition_id, from_lane, to_lane, started_unix, completed_unix,
			green_seconds, write_failures
		FROM phase_transitions ORDER BY started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t                  Transition
			started, completed float64
		)
		if err := rows.Scan(&t.ID, &t.From, &t.To, &started, &completed, &t.GreenSeconds, &t.WriteFailures); err != nil {
			return nil, err
		}
		t.StartedAt = fromUnixSeconds(started)
		t.CompletedAt = fromUnixSeconds(completed)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GreenTimes returns the green durations, in seconds and oldest first, of the
// phases that ended on the given lane since the given time. Lane 0 means both
// lanes.
func (db *DB) GreenTimes(lane int, since time.Time) ([]float64, error) {
	rows, err := db.Query(
		`SELECT green_seconds FROM phase_transitions
		WHERE started_unix >= ? AND (? = 0 OR from_lane = ?)
		ORDER BY started_unix ASC`, unixSeconds(since), lane, lane)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecentLampFaults returns up to limit lamp faults, newest first.
func (db *DB) RecentLampFaults(limit int) ([]LampFault, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT fault_id, lane, lamp, pin, asserted, error, occurred_unix
		FROM lamp_faults ORDER BY occurred_unix DESC, fault_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LampFault
	for rows.Next() {
		var (
			f        LampFault
			occurred float64
		)
		if err := rows.Scan(&f.ID, &f.Lane, &f.Lamp, &f.Pin, &f.Asserted, &f.Error, &occurred); err != nil {
			return nil, err
		}
		f.OccurredAt = fromUnixSeconds(occurred)
		out = append(out, f)
	}
	return out, rows.Err()
}
