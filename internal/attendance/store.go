package attendance

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicateRecord means a record already exists for the
	// (session, student) pair. The Postgres implementation maps the unique
	// constraint violation here so concurrent submissions race safely.
	ErrDuplicateRecord = errors.New("attendance already recorded for this session")
	// ErrNotFound is returned for lookups of absent entities.
	ErrNotFound = errors.New("not found")
)

// Store is the persistence boundary for sessions, records, students and
// subjects. Two implementations exist: Repository (Postgres) and MemoryStore
// (dev/test backend).
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GetSessionByCode(ctx context.Context, code string) (*Session, error)
	ActiveSessionForTeacher(ctx context.Context, teacherID string) (*Session, error)
	ListSessionsByTeacher(ctx context.Context, teacherID string, limit, offset int) ([]Session, error)
	EndSession(ctx context.Context, id string, endedAt time.Time) error

	// Records
	InsertPendingRecord(ctx context.Context, r *Record) error
	FindRecord(ctx context.Context, sessionID, studentID string) (*Record, error)
	LatestRecordForStudent(ctx context.Context, studentID string) (*Record, error)
	MarkPresent(ctx context.Context, recordID string) error
	DeleteRecord(ctx context.Context, recordID string) error
	ListRecords(ctx context.Context, sessionID string) ([]Record, error)
	SessionStats(ctx context.Context, sessionID string) (SessionStats, error)

	// Students
	CreateStudent(ctx context.Context, st *Student) error
	GetStudent(ctx context.Context, id string) (*Student, error)
	GetStudentByEmail(ctx context.Context, email string) (*Student, error)
	UpdateStudentReferenceImage(ctx context.Context, id, ref string) error

	// Subjects
	CreateSubject(ctx context.Context, sub *Subject) error
	GetSubject(ctx context.Context, id string) (*Subject, error)
	ListSubjectsByStaff(ctx context.Context, staffID string) ([]Subject, error)

	// Auth support
	SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, token string) error

	// Audit trail
	InsertAuditEvent(ctx context.Context, ev *AuditEvent) error
}
