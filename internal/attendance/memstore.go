package attendance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for dev and tests, selected with
// STORE_BACKEND=memory. It applies the same (session, student) uniqueness
// rule as the Postgres schema.
type MemoryStore struct {
	mu sync.Mutex

	sessions map[string]*Session
	records  map[string]*Record
	students map[string]*Student
	subjects map[string]*Subject
	tokens   map[string]*RefreshToken
	audits   []AuditEvent
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		records:  make(map[string]*Record),
		students: make(map[string]*Student),
		subjects: make(map[string]*Subject),
		tokens:   make(map[string]*RefreshToken),
	}
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// -------- Sessions --------

func (m *MemoryStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Code == "" {
		s.Code = NewSessionCode()
	}
	if s.StartTime.IsZero() {
		s.StartTime = time.Now().UTC()
	}
	if sub, ok := m.subjects[s.SubjectID]; ok {
		s.SubjectName = sub.Name
		s.SubjectCode = sub.Code
	}
	m.sessions[s.ID] = clone(s)
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) GetSessionByCode(ctx context.Context, code string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Code == code {
			return clone(s), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ActiveSessionForTeacher(ctx context.Context, teacherID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Session
	for _, s := range m.sessions {
		if s.TeacherID == teacherID && s.Active {
			if latest == nil || s.StartTime.After(latest.StartTime) {
				latest = s
			}
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return clone(latest), nil
}

func (m *MemoryStore) ListSessionsByTeacher(ctx context.Context, teacherID string, limit, offset int) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Session
	for _, s := range m.sessions {
		if s.TeacherID == teacherID {
			res = append(res, *s)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].StartTime.After(res[j].StartTime)
	})
	if offset > len(res) {
		offset = len(res)
	}
	res = res[offset:]
	if limit > 0 && limit < len(res) {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Active = false
	t := endedAt
	s.EndTime = &t
	return nil
}

// -------- Records --------

func (m *MemoryStore) InsertPendingRecord(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.SessionID == r.SessionID && existing.StudentID == r.StudentID {
			return ErrDuplicateRecord
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	r.Status = StatusPending
	if st, ok := m.students[r.StudentID]; ok {
		r.StudentName = st.Name
	}
	m.records[r.ID] = clone(r)
	return nil
}

func (m *MemoryStore) FindRecord(ctx context.Context, sessionID, studentID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.SessionID == sessionID && r.StudentID == studentID {
			return clone(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) LatestRecordForStudent(ctx context.Context, studentID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Record
	for _, r := range m.records {
		if r.StudentID == studentID {
			if latest == nil || r.Timestamp.After(latest.Timestamp) {
				latest = r
			}
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return clone(latest), nil
}

func (m *MemoryStore) MarkPresent(ctx context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recordID]
	if !ok {
		return ErrNotFound
	}
	r.Status = StatusPresent
	return nil
}

func (m *MemoryStore) DeleteRecord(ctx context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, recordID)
	return nil
}

func (m *MemoryStore) ListRecords(ctx context.Context, sessionID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Record
	for _, r := range m.records {
		if r.SessionID == sessionID {
			res = append(res, *r)
		}
	}
	return res, nil
}

func (m *MemoryStore) SessionStats(ctx context.Context, sessionID string) (SessionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st SessionStats
	for _, r := range m.records {
		if r.SessionID != sessionID {
			continue
		}
		switch r.Status {
		case StatusPresent:
			st.TotalPresent++
		case StatusPending:
			st.TotalPending++
		}
	}
	return st, nil
}

// -------- Students --------

func (m *MemoryStore) CreateStudent(ctx context.Context, st *Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.students {
		if existing.Email == st.Email || (st.StudentID != "" && existing.StudentID == st.StudentID) {
			return errors.New("student already exists")
		}
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	if st.Role == "" {
		st.Role = "student"
	}
	m.students[st.ID] = clone(st)
	return nil
}

func (m *MemoryStore) GetStudent(ctx context.Context, id string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(st), nil
}

func (m *MemoryStore) GetStudentByEmail(ctx context.Context, email string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.students {
		if st.Email == email {
			return clone(st), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateStudentReferenceImage(ctx context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[id]
	if !ok {
		return ErrNotFound
	}
	st.ReferenceImageRef = ref
	return nil
}

// -------- Subjects --------

func (m *MemoryStore) CreateSubject(ctx context.Context, sub *Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.subjects {
		if existing.Code == sub.Code {
			return errors.New("subject code already exists")
		}
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	m.subjects[sub.ID] = clone(sub)
	return nil
}

func (m *MemoryStore) GetSubject(ctx context.Context, id string) (*Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subjects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(sub), nil
}

func (m *MemoryStore) ListSubjectsByStaff(ctx context.Context, staffID string) ([]Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Subject
	for _, sub := range m.subjects {
		if sub.StaffID == staffID {
			res = append(res, *sub)
		}
	}
	return res, nil
}

// -------- Auth support --------

func (m *MemoryStore) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = &RefreshToken{Token: token, UserID: userID, ExpiresAt: expiresAt}
	return nil
}

func (m *MemoryStore) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rt), nil
}

func (m *MemoryStore) RevokeRefreshToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rt, ok := m.tokens[token]; ok {
		rt.Revoked = true
	}
	return nil
}

// -------- Audit trail --------

func (m *MemoryStore) InsertAuditEvent(ctx context.Context, ev *AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	m.audits = append(m.audits, *ev)
	return nil
}

// AuditEvents returns a copy of recorded audit events, for tests.
func (m *MemoryStore) AuditEvents() []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEvent(nil), m.audits...)
}
