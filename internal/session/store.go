package session

import (
	"context"
	"time"

	"backend-fieldtrack/internal/cadence"
	"backend-fieldtrack/internal/db"
	"backend-fieldtrack/internal/position"

	"github.com/jackc/pgx/v5"
)

// Store persists sessions and their samples. The manager is the only
// writer for a given session.
type Store interface {
	Create(ctx context.Context, s *Session) error
	RecordSample(ctx context.Context, sessionID string, sample position.LocationSample, totalM float64, count int, profile cadence.ProfileName) error
	SetStatus(ctx context.Context, sessionID string, status Status, degraded bool) error
	End(ctx context.Context, sessionID string, endedAt time.Time, totalM float64) error
	Get(ctx context.Context, sessionID string) (Session, error)
	OpenSessions(ctx context.Context) ([]Session, error)
	Samples(ctx context.Context, sessionID string) ([]position.LocationSample, error)
}

type PgStore struct {
	db db.Querier
}

func NewPgStore(q db.Querier) *PgStore {
	return &PgStore{db: q}
}

func (s *PgStore) Create(ctx context.Context, sess *Session) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO journey_sessions (id, user_id, company_id, started_at, status, degraded, total_distance_m, sample_count, cadence)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING started_at
	`, sess.ID, sess.UserID, sess.CompanyID, sess.StartedAt, sess.Status, sess.Degraded,
		sess.CumulativeDistanceM, sess.SampleCount, sess.Cadence)
	return row.Scan(&sess.StartedAt)
}

func (s *PgStore) RecordSample(ctx context.Context, sessionID string, sample position.LocationSample, totalM float64, count int, profile cadence.ProfileName) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO journey_samples (session_id, lat, lng, accuracy_m, speed_mps, heading_deg, altitude_m, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sessionID, sample.Lat, sample.Lng, sample.AccuracyM, sample.SpeedMps, sample.HeadingDeg, sample.AltitudeM, sample.Timestamp)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		UPDATE journey_sessions
		SET total_distance_m=$2, sample_count=$3, cadence=$4
		WHERE id=$1
	`, sessionID, totalM, count, profile)
	return err
}

func (s *PgStore) SetStatus(ctx context.Context, sessionID string, status Status, degraded bool) error {
	_, err := s.db.Exec(ctx, `
		UPDATE journey_sessions SET status=$2, degraded=$3 WHERE id=$1
	`, sessionID, status, degraded)
	return err
}

func (s *PgStore) End(ctx context.Context, sessionID string, endedAt time.Time, totalM float64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE journey_sessions
		SET status='ended', ended_at=$2, total_distance_m=$3, degraded=false
		WHERE id=$1
	`, sessionID, endedAt, totalM)
	return err
}

func (s *PgStore) Get(ctx context.Context, sessionID string) (Session, error) {
	sess, err := s.scanSession(s.db.QueryRow(ctx, `
		SELECT id, user_id, company_id, started_at, COALESCE(ended_at, 'epoch'::timestamptz),
		       status, degraded, COALESCE(total_distance_m,0), COALESCE(sample_count,0), COALESCE(cadence,'conservative')
		FROM journey_sessions WHERE id=$1
	`, sessionID))
	if err != nil {
		return Session{}, err
	}
	s.attachLastSample(ctx, &sess)
	return sess, nil
}

// OpenSessions returns every session not yet ended, most recent first, for
// the startup reconciliation pass.
func (s *PgStore) OpenSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, company_id, started_at, COALESCE(ended_at, 'epoch'::timestamptz),
		       status, degraded, COALESCE(total_distance_m,0), COALESCE(sample_count,0), COALESCE(cadence,'conservative')
		FROM journey_sessions
		WHERE status != 'ended'
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	seen := map[string]bool{}
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		// One session per user: only the most recent non-ended one resumes.
		if seen[sess.UserID] {
			continue
		}
		seen[sess.UserID] = true
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range sessions {
		s.attachLastSample(ctx, &sessions[i])
	}
	return sessions, nil
}

func (s *PgStore) Samples(ctx context.Context, sessionID string) ([]position.LocationSample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT lat, lng, accuracy_m, COALESCE(speed_mps,0), COALESCE(heading_deg,0), COALESCE(altitude_m,0), recorded_at
		FROM journey_samples WHERE session_id=$1
		ORDER BY recorded_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []position.LocationSample
	for rows.Next() {
		var p position.LocationSample
		if err := rows.Scan(&p.Lat, &p.Lng, &p.AccuracyM, &p.SpeedMps, &p.HeadingDeg, &p.AltitudeM, &p.Timestamp); err != nil {
			return nil, err
		}
		samples = append(samples, p)
	}
	return samples, rows.Err()
}

func (s *PgStore) scanSession(row pgx.Row) (Session, error) {
	var sess Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.CompanyID, &sess.StartedAt, &sess.EndedAt,
		&sess.Status, &sess.Degraded, &sess.CumulativeDistanceM, &sess.SampleCount, &sess.Cadence); err != nil {
		return Session{}, err
	}
	if sess.EndedAt.Unix() == 0 {
		sess.EndedAt = time.Time{}
	}
	return sess, nil
}

func (s *PgStore) attachLastSample(ctx context.Context, sess *Session) {
	var p position.LocationSample
	err := s.db.QueryRow(ctx, `
		SELECT lat, lng, accuracy_m, COALESCE(speed_mps,0), COALESCE(heading_deg,0), COALESCE(altitude_m,0), recorded_at
		FROM journey_samples WHERE session_id=$1
		ORDER BY recorded_at DESC LIMIT 1
	`, sess.ID).Scan(&p.Lat, &p.Lng, &p.AccuracyM, &p.SpeedMps, &p.HeadingDeg, &p.AltitudeM, &p.Timestamp)
	if err == nil {
		sess.LastSample = &p
	}
}
