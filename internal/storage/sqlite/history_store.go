package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/arplace/internal/monitoring"
	"github.com/banshee-data/arplace/internal/planes"
	"github.com/banshee-data/arplace/internal/session"
	"github.com/banshee-data/arplace/internal/timeutil"
)

// SessionRecord is one placement session.
type SessionRecord struct {
	SessionID   string        `json:"session_id"`
	Scene       string        `json:"scene"`
	StartedAtNs int64         `json:"started_at_ns"`
	EndedAtNs   *int64        `json:"ended_at_ns,omitempty"`
	FinalState  session.State `json:"final_state,omitempty"`
}

// EventRecord is a persisted session event. Position fields are set only
// for events that carry a pose.
type EventRecord struct {
	EventID      int64             `json:"event_id"`
	SessionID    string            `json:"session_id"`
	Seq          uint64            `json:"seq"`
	Kind         session.EventKind `json:"kind"`
	From         session.State     `json:"from"`
	To           session.State     `json:"to"`
	PlaneID      planes.PlaneID    `json:"plane_id,omitempty"`
	Position     *[3]float64       `json:"position,omitempty"`
	HeadingDeg   *float64          `json:"heading_deg,omitempty"`
	Error        string            `json:"error,omitempty"`
	RecordedAtNs int64             `json:"recorded_at_ns"`
}

// PlaneRecord is one plane within a recorded registry snapshot.
type PlaneRecord struct {
	Version   uint64           `json:"version"`
	PlaneID   planes.PlaneID   `json:"plane_id"`
	Alignment planes.Alignment `json:"alignment"`
	Center    [3]float64       `json:"center"`
	AreaM2    float64          `json:"area_m2"`
}

var historyf = monitoring.Prefixed("[history] ")

// HistoryStore records placement sessions.
type HistoryStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewHistoryStore creates a HistoryStore. A nil clock uses the wall clock.
func NewHistoryStore(db *sql.DB, clock timeutil.Clock) *HistoryStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &HistoryStore{db: db, clock: clock}
}

// StartSession inserts a new session and returns its generated ID.
func (s *HistoryStore) StartSession(scene string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		`INSERT INTO placement_sessions (session_id, scene, started_at_ns) VALUES (?, ?, ?)`,
		id, scene, s.clock.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session's end time and final state. It returns
// sql.ErrNoRows for an unknown session.
func (s *HistoryStore) EndSession(sessionID string, final session.State) error {
	res, err := s.db.Exec(
		`UPDATE placement_sessions SET ended_at_ns = ?, final_state = ? WHERE session_id = ?`,
		s.clock.Now().UnixNano(), string(final), sessionID,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetSession returns one session or sql.ErrNoRows.
func (s *HistoryStore) GetSession(sessionID string) (*SessionRecord, error) {
	row := s.db.QueryRow(`
		SELECT session_id, scene, started_at_ns, ended_at_ns, final_state
		FROM placement_sessions WHERE session_id = ?`, sessionID)
	r, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListSessions returns sessions, newest first.
func (s *HistoryStore) ListSessions(limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT session_id, scene, started_at_ns, ended_at_ns, final_state
		FROM placement_sessions
		ORDER BY started_at_ns DESC, session_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*SessionRecord, error) {
	r := &SessionRecord{}
	var ended sql.NullInt64
	var final sql.NullString
	if err := row.Scan(&r.SessionID, &r.Scene, &r.StartedAtNs, &ended, &final); err != nil {
		return nil, err
	}
	if ended.Valid {
		r.EndedAtNs = &ended.Int64
	}
	if final.Valid {
		r.FinalState = session.State(final.String)
	}
	return r, nil
}

// RecordEvent appends ev to the session's history.
func (s *HistoryStore) RecordEvent(sessionID string, ev session.Event) error {
	var (
		planeID          sql.NullString
		x, y, z, heading sql.NullFloat64
		errText          sql.NullString
	)
	if ev.Pose.SourcePlaneID != "" {
		planeID = sql.NullString{String: string(ev.Pose.SourcePlaneID), Valid: true}
		p := ev.Pose.Position
		x = sql.NullFloat64{Float64: p.X(), Valid: true}
		y = sql.NullFloat64{Float64: p.Y(), Valid: true}
		z = sql.NullFloat64{Float64: p.Z(), Valid: true}
		heading = sql.NullFloat64{Float64: ev.Pose.HeadingDeg, Valid: true}
	}
	if ev.Err != nil {
		errText = sql.NullString{String: ev.Err.Error(), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO placement_events (
			session_id, seq, kind, from_state, to_state,
			plane_id, pos_x, pos_y, pos_z, heading_deg, error, recorded_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, int64(ev.Seq), string(ev.Kind), string(ev.From), string(ev.To),
		planeID, x, y, z, heading, errText, s.clock.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns a session's events in sequence order.
func (s *HistoryStore) ListEvents(sessionID string) ([]*EventRecord, error) {
	rows, err := s.db.Query(`
		SELECT event_id, session_id, seq, kind, from_state, to_state,
		       plane_id, pos_x, pos_y, pos_z, heading_deg, error, recorded_at_ns
		FROM placement_events
		WHERE session_id = ?
		ORDER BY seq, event_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*EventRecord
	for rows.Next() {
		r := &EventRecord{}
		var (
			seq              int64
			kind, from, to   string
			planeID, errText sql.NullString
			x, y, z, heading sql.NullFloat64
		)
		if err := rows.Scan(&r.EventID, &r.SessionID, &seq, &kind, &from, &to,
			&planeID, &x, &y, &z, &heading, &errText, &r.RecordedAtNs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Seq = uint64(seq)
		r.Kind, r.From, r.To = session.EventKind(kind), session.State(from), session.State(to)
		if planeID.Valid {
			r.PlaneID = planes.PlaneID(planeID.String)
		}
		if x.Valid && y.Valid && z.Valid {
			r.Position = &[3]float64{x.Float64, y.Float64, z.Float64}
		}
		if heading.Valid {
			h := heading.Float64
			r.HeadingDeg = &h
		}
		if errText.Valid {
			r.Error = errText.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Recorder returns a session subscriber that persists every event.
// Failures are logged; they never block the session.
func (s *HistoryStore) Recorder(sessionID string) func(session.Event) {
	return func(ev session.Event) {
		if err := s.RecordEvent(sessionID, ev); err != nil {
			historyf("session %s event %d: %v", sessionID, ev.Seq, err)
		}
	}
}

// RecordPlanes stores every live plane in snap under its version. Storing
// the same version twice is a no-op.
func (s *HistoryStore) RecordPlanes(sessionID string, snap *planes.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO plane_snapshots (
			session_id, version, plane_id, alignment,
			center_x, center_y, center_z, area_m2, recorded_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := s.clock.Now().UnixNano()
	for p := range snap.All() {
		if _, err := stmt.Exec(sessionID, int64(snap.Version()), string(p.ID), string(p.Alignment),
			p.Center.X(), p.Center.Y(), p.Center.Z(), p.Area(), now); err != nil {
			return fmt.Errorf("insert plane %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// ListPlanes returns the planes recorded for a snapshot version, by ID.
func (s *HistoryStore) ListPlanes(sessionID string, version uint64) ([]*PlaneRecord, error) {
	rows, err := s.db.Query(`
		SELECT version, plane_id, alignment, center_x, center_y, center_z, area_m2
		FROM plane_snapshots
		WHERE session_id = ? AND version = ?
		ORDER BY plane_id`, sessionID, int64(version))
	if err != nil {
		return nil, fmt.Errorf("list planes: %w", err)
	}
	defer rows.Close()

	var out []*PlaneRecord
	for rows.Next() {
		r := &PlaneRecord{}
		var v int64
		var id, align string
		if err := rows.Scan(&v, &id, &align, &r.Center[0], &r.Center[1], &r.Center[2], &r.AreaM2); err != nil {
			return nil, fmt.Errorf("scan plane: %w", err)
		}
		r.Version, r.PlaneID, r.Alignment = uint64(v), planes.PlaneID(id), planes.Alignment(align)
		out = append(out, r)
	}
	return out, rows.Err()
}
