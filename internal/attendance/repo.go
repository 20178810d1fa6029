package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// -------- Sessions --------

// CreateSession writes a new session.
func (r *Repository) CreateSession(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Code == "" {
		s.Code = NewSessionCode()
	}
	if s.StartTime.IsZero() {
		s.StartTime = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, teacher_id, subject_id, start_time, end_time, active, latitude, longitude, radius_meters, code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, s.ID, s.TeacherID, s.SubjectID, s.StartTime, s.EndTime, s.Active, s.Latitude, s.Longitude, s.RadiusMeters, s.Code)
	return err
}

const sessionColumns = `
	s.id, s.teacher_id, s.subject_id, s.start_time, s.end_time, s.active,
	s.latitude, s.longitude, s.radius_meters, s.code, sub.name, sub.code
`

func (r *Repository) scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.TeacherID, &s.SubjectID, &s.StartTime, &s.EndTime, &s.Active,
		&s.Latitude, &s.Longitude, &s.RadiusMeters, &s.Code, &s.SubjectName, &s.SubjectCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// GetSession returns a session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	return r.scanSession(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s JOIN subjects sub ON sub.id = s.subject_id
		WHERE s.id = $1
	`, id))
}

// GetSessionByCode returns a session by its short code.
func (r *Repository) GetSessionByCode(ctx context.Context, code string) (*Session, error) {
	return r.scanSession(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s JOIN subjects sub ON sub.id = s.subject_id
		WHERE s.code = $1
	`, code))
}

// ActiveSessionForTeacher returns the teacher's currently active session, or
// ErrNotFound when none is open.
func (r *Repository) ActiveSessionForTeacher(ctx context.Context, teacherID string) (*Session, error) {
	return r.scanSession(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s JOIN subjects sub ON sub.id = s.subject_id
		WHERE s.teacher_id = $1 AND s.active = TRUE
		ORDER BY s.start_time DESC
		LIMIT 1
	`, teacherID))
}

// ListSessionsByTeacher returns the teacher's sessions, newest first.
func (r *Repository) ListSessionsByTeacher(ctx context.Context, teacherID string, limit, offset int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s JOIN subjects sub ON sub.id = s.subject_id
		WHERE s.teacher_id = $1
		ORDER BY s.start_time DESC
		LIMIT $2 OFFSET $3
	`, teacherID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Session
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *s)
	}
	return res, rows.Err()
}

// EndSession deactivates a session and stamps its end time.
func (r *Repository) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET active = FALSE, end_time = $2 WHERE id = $1
	`, id, endedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// -------- Records --------

// InsertPendingRecord writes a new pending record. The unique constraint on
// (session_id, student_id) makes concurrent duplicate submissions fail fast
// with ErrDuplicateRecord instead of producing two rows.
func (r *Repository) InsertPendingRecord(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.Status = StatusPending
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, recorded_at, status, captured_image_ref, gps_lat, gps_lng)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rec.ID, rec.SessionID, rec.StudentID, rec.Timestamp, rec.Status, rec.CapturedImageRef, rec.GPSLat, rec.GPSLng)
	if isUniqueViolation(err) {
		return ErrDuplicateRecord
	}
	return err
}

func (r *Repository) scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Timestamp, &rec.Status,
		&rec.CapturedImageRef, &rec.GPSLat, &rec.GPSLng)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// FindRecord returns the record for a (session, student) pair.
func (r *Repository) FindRecord(ctx context.Context, sessionID, studentID string) (*Record, error) {
	return r.scanRecord(r.db.QueryRowContext(ctx, `
		SELECT id, session_id, student_id, recorded_at, status, captured_image_ref, gps_lat, gps_lng
		FROM attendance_records
		WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID))
}

// LatestRecordForStudent returns the student's most recent record across all
// sessions, used by the cooldown check.
func (r *Repository) LatestRecordForStudent(ctx context.Context, studentID string) (*Record, error) {
	return r.scanRecord(r.db.QueryRowContext(ctx, `
		SELECT id, session_id, student_id, recorded_at, status, captured_image_ref, gps_lat, gps_lng
		FROM attendance_records
		WHERE student_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1
	`, studentID))
}

// MarkPresent transitions a pending record to present.
func (r *Repository) MarkPresent(ctx context.Context, recordID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records SET status = $2 WHERE id = $1
	`, recordID, StatusPresent)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRecord removes a record, rolling back a failed verification attempt.
func (r *Repository) DeleteRecord(ctx context.Context, recordID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM attendance_records WHERE id = $1`, recordID)
	return err
}

// ListRecords returns all records for a session, newest first.
func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.session_id, r.student_id, r.recorded_at, r.status,
		       r.captured_image_ref, r.gps_lat, r.gps_lng, st.name
		FROM attendance_records r
		JOIN students st ON st.id = r.student_id
		WHERE r.session_id = $1
		ORDER BY r.recorded_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Timestamp, &rec.Status,
			&rec.CapturedImageRef, &rec.GPSLat, &rec.GPSLng, &rec.StudentName); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// SessionStats counts present and pending records for the monitor view.
func (r *Repository) SessionStats(ctx context.Context, sessionID string) (SessionStats, error) {
	var st SessionStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3)
		FROM attendance_records WHERE session_id = $1
	`, sessionID, StatusPresent, StatusPending).Scan(&st.TotalPresent, &st.TotalPending)
	return st, err
}

// -------- Students --------

// CreateStudent writes a new user row.
func (r *Repository) CreateStudent(ctx context.Context, st *Student) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	if st.Role == "" {
		st.Role = "student"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, name, email, student_id, department, reference_image_ref, password_hash, role, created_at)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9)
	`, st.ID, st.Name, st.Email, st.StudentID, st.Department, st.ReferenceImageRef, st.PasswordHash, st.Role, st.CreatedAt)
	if isUniqueViolation(err) {
		return errors.New("student already exists")
	}
	return err
}

const studentColumns = `id, name, email, COALESCE(student_id, ''), department, reference_image_ref, password_hash, role, created_at`

func (r *Repository) scanStudent(row interface{ Scan(...any) error }) (*Student, error) {
	var st Student
	err := row.Scan(&st.ID, &st.Name, &st.Email, &st.StudentID, &st.Department,
		&st.ReferenceImageRef, &st.PasswordHash, &st.Role, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

// GetStudent returns a user by id.
func (r *Repository) GetStudent(ctx context.Context, id string) (*Student, error) {
	return r.scanStudent(r.db.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
}

// GetStudentByEmail returns a user by email, for login.
func (r *Repository) GetStudentByEmail(ctx context.Context, email string) (*Student, error) {
	return r.scanStudent(r.db.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE email = $1`, email))
}

// UpdateStudentReferenceImage replaces the on-file reference photo handle.
func (r *Repository) UpdateStudentReferenceImage(ctx context.Context, id, ref string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE students SET reference_image_ref = $2 WHERE id = $1`, id, ref)
	return err
}

// -------- Subjects --------

// CreateSubject writes a new subject.
func (r *Repository) CreateSubject(ctx context.Context, sub *Subject) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subjects (id, name, code, staff_id, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, sub.ID, sub.Name, sub.Code, sub.StaffID, sub.CreatedAt)
	if isUniqueViolation(err) {
		return errors.New("subject code already exists")
	}
	return err
}

// GetSubject returns a subject by id.
func (r *Repository) GetSubject(ctx context.Context, id string) (*Subject, error) {
	var sub Subject
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, code, staff_id, created_at FROM subjects WHERE id = $1
	`, id).Scan(&sub.ID, &sub.Name, &sub.Code, &sub.StaffID, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// ListSubjectsByStaff returns the subjects a staff member teaches.
func (r *Repository) ListSubjectsByStaff(ctx context.Context, staffID string) ([]Subject, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, code, staff_id, created_at FROM subjects
		WHERE staff_id = $1 ORDER BY name
	`, staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Subject
	for rows.Next() {
		var sub Subject
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Code, &sub.StaffID, &sub.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, sub)
	}
	return res, rows.Err()
}

// -------- Auth support --------

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, userID, token, expiresAt)
	return err
}

// GetRefreshToken returns the stored row for a token.
func (r *Repository) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	var rt RefreshToken
	err := r.db.QueryRowContext(ctx, `
		SELECT token, user_id, expires_at, revoked FROM refresh_tokens WHERE token = $1
	`, token).Scan(&rt.Token, &rt.UserID, &rt.ExpiresAt, &rt.Revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

// -------- Audit trail --------

// InsertAuditEvent writes one processed check-in outcome.
func (r *Repository) InsertAuditEvent(ctx context.Context, ev *AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, session_id, student_id, code, success, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, ev.ID, ev.SessionID, ev.StudentID, ev.Code, ev.Success, ev.CreatedAt)
	return err
}
