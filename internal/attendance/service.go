package attendance

import (
	"context"
	"errors"
	"time"
)

// SessionDefaults is the geofence applied when an instructor starts a session
// without explicit coordinates. Injected from config.
type SessionDefaults struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
}

// Service coordinates session lifecycle and reporting.
type Service struct {
	store    Store
	defaults SessionDefaults
	now      func() time.Time
}

// NewService creates a service backed by a store.
func NewService(store Store, defaults SessionDefaults) *Service {
	return &Service{store: store, defaults: defaults, now: time.Now}
}

// CreateSessionParams are the instructor-supplied session settings. Zero
// coordinates and radius fall back to the configured defaults.
type CreateSessionParams struct {
	TeacherID    string
	SubjectID    string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
}

// CreateSession opens a new attendance window. A teacher may only hold one
// active session at a time: when one is already open it is returned instead
// of creating a second.
func (s *Service) CreateSession(ctx context.Context, p CreateSessionParams) (*Session, bool, error) {
	if p.TeacherID == "" || p.SubjectID == "" {
		return nil, false, errors.New("teacher and subject required")
	}

	if existing, err := s.store.ActiveSessionForTeacher(ctx, p.TeacherID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	sub, err := s.store.GetSubject(ctx, p.SubjectID)
	if err != nil {
		return nil, false, err
	}
	if sub.StaffID != p.TeacherID {
		return nil, false, errors.New("subject does not belong to this teacher")
	}

	sess := &Session{
		TeacherID:    p.TeacherID,
		SubjectID:    p.SubjectID,
		StartTime:    s.now().UTC(),
		Active:       true,
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		RadiusMeters: p.RadiusMeters,
	}
	if sess.Latitude == 0 && sess.Longitude == 0 {
		sess.Latitude = s.defaults.Latitude
		sess.Longitude = s.defaults.Longitude
	}
	if sess.RadiusMeters <= 0 {
		sess.RadiusMeters = s.defaults.RadiusMeters
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// EndSession closes an active session. Only the owning teacher may end it.
func (s *Service) EndSession(ctx context.Context, sessionID, teacherID string) (*Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.TeacherID != teacherID {
		return nil, errors.New("session belongs to another teacher")
	}
	if !sess.Active {
		return sess, nil
	}
	endedAt := s.now().UTC()
	if err := s.store.EndSession(ctx, sessionID, endedAt); err != nil {
		return nil, err
	}
	sess.Active = false
	sess.EndTime = &endedAt
	return sess, nil
}

// MonitorResult is the live view of a session for its teacher.
type MonitorResult struct {
	Session *Session     `json:"session"`
	Records []Record     `json:"records"`
	Stats   SessionStats `json:"stats"`
}

// MonitorSession returns the session, its records and the running counts.
// Only the owning teacher may monitor it.
func (s *Service) MonitorSession(ctx context.Context, sessionID, teacherID string) (*MonitorResult, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.TeacherID != teacherID {
		return nil, errors.New("session belongs to another teacher")
	}
	records, err := s.store.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.SessionStats(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &MonitorResult{Session: sess, Records: records, Stats: stats}, nil
}

// ListSessions returns the teacher's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, teacherID string, limit, offset int) ([]Session, error) {
	return s.store.ListSessionsByTeacher(ctx, teacherID, limit, offset)
}

// CreateSubject registers a new subject for a staff member.
func (s *Service) CreateSubject(ctx context.Context, name, code, staffID string) (*Subject, error) {
	if name == "" || code == "" {
		return nil, errors.New("subject name and code required")
	}
	sub := &Subject{Name: name, Code: code, StaffID: staffID}
	if err := s.store.CreateSubject(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubjects returns a staff member's subjects.
func (s *Service) ListSubjects(ctx context.Context, staffID string) ([]Subject, error) {
	return s.store.ListSubjectsByStaff(ctx, staffID)
}
