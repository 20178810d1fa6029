package attendance

import (
	"context"
	"testing"
	"time"
)

func newTestService(t *testing.T) (*Service, *MemoryStore, *Student, *Subject) {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()

	teacher := &Student{Name: "Prof. Rao", Email: "rao@campus.edu", Role: "staff"}
	if err := store.CreateStudent(ctx, teacher); err != nil {
		t.Fatalf("create teacher: %v", err)
	}
	subject := &Subject{Name: "Distributed Systems", Code: "CS601", StaffID: teacher.ID}
	if err := store.CreateSubject(ctx, subject); err != nil {
		t.Fatalf("create subject: %v", err)
	}

	svc := NewService(store, SessionDefaults{Latitude: 12.9716, Longitude: 77.5946, RadiusMeters: 200})
	return svc, store, teacher, subject
}

func TestCreateSession_AppliesDefaults(t *testing.T) {
	svc, _, teacher, subject := newTestService(t)

	sess, created, err := svc.CreateSession(context.Background(), CreateSessionParams{
		TeacherID: teacher.ID,
		SubjectID: subject.ID,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !created {
		t.Fatal("expected new session")
	}
	if sess.Latitude != 12.9716 || sess.Longitude != 77.5946 || sess.RadiusMeters != 200 {
		t.Errorf("defaults not applied: %+v", sess)
	}
	if !sess.Active {
		t.Error("new session should be active")
	}
	if len(sess.Code) != 8 {
		t.Errorf("session code = %q, want 8 chars", sess.Code)
	}
}

func TestCreateSession_ExplicitLocationWins(t *testing.T) {
	svc, _, teacher, subject := newTestService(t)

	sess, _, err := svc.CreateSession(context.Background(), CreateSessionParams{
		TeacherID:    teacher.ID,
		SubjectID:    subject.ID,
		Latitude:     17.4468,
		Longitude:    78.4468,
		RadiusMeters: 500,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.Latitude != 17.4468 || sess.RadiusMeters != 500 {
		t.Errorf("explicit location overridden: %+v", sess)
	}
}

func TestCreateSession_SingleActivePerTeacher(t *testing.T) {
	svc, _, teacher, subject := newTestService(t)
	ctx := context.Background()

	first, created, err := svc.CreateSession(ctx, CreateSessionParams{TeacherID: teacher.ID, SubjectID: subject.ID})
	if err != nil || !created {
		t.Fatalf("first CreateSession: created=%v err=%v", created, err)
	}

	second, created, err := svc.CreateSession(ctx, CreateSessionParams{TeacherID: teacher.ID, SubjectID: subject.ID})
	if err != nil {
		t.Fatalf("second CreateSession: %v", err)
	}
	if created {
		t.Error("second call should return the existing session, not create one")
	}
	if second.ID != first.ID {
		t.Errorf("got session %s, want existing %s", second.ID, first.ID)
	}

	// After ending, a new one may be created.
	if _, err := svc.EndSession(ctx, first.ID, teacher.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	third, created, err := svc.CreateSession(ctx, CreateSessionParams{TeacherID: teacher.ID, SubjectID: subject.ID})
	if err != nil || !created {
		t.Fatalf("third CreateSession: created=%v err=%v", created, err)
	}
	if third.ID == first.ID {
		t.Error("expected a fresh session after the first ended")
	}
}

func TestEndSession_SetsEndTimeAndOwnership(t *testing.T) {
	svc, store, teacher, subject := newTestService(t)
	ctx := context.Background()

	sess, _, err := svc.CreateSession(ctx, CreateSessionParams{TeacherID: teacher.ID, SubjectID: subject.ID})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := svc.EndSession(ctx, sess.ID, "someone-else"); err == nil {
		t.Error("ending another teacher's session should fail")
	}

	ended, err := svc.EndSession(ctx, sess.ID, teacher.ID)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if ended.Active {
		t.Error("session still active after end")
	}
	if ended.EndTime == nil || time.Since(*ended.EndTime) > time.Minute {
		t.Errorf("end time not stamped: %+v", ended.EndTime)
	}

	stored, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.Active || stored.EndTime == nil {
		t.Error("inactive session must have its end time persisted")
	}
}

func TestMonitorSession_Stats(t *testing.T) {
	svc, store, teacher, subject := newTestService(t)
	ctx := context.Background()

	sess, _, err := svc.CreateSession(ctx, CreateSessionParams{TeacherID: teacher.ID, SubjectID: subject.ID})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	for i, status := range []Status{StatusPresent, StatusPresent, StatusPending} {
		st := &Student{Name: "s", Email: string(rune('a'+i)) + "@campus.edu", StudentID: string(rune('a' + i))}
		if err := store.CreateStudent(ctx, st); err != nil {
			t.Fatalf("create student: %v", err)
		}
		rec := &Record{SessionID: sess.ID, StudentID: st.ID}
		if err := store.InsertPendingRecord(ctx, rec); err != nil {
			t.Fatalf("insert record: %v", err)
		}
		if status == StatusPresent {
			if err := store.MarkPresent(ctx, rec.ID); err != nil {
				t.Fatalf("mark present: %v", err)
			}
		}
	}

	res, err := svc.MonitorSession(ctx, sess.ID, teacher.ID)
	if err != nil {
		t.Fatalf("MonitorSession: %v", err)
	}
	if res.Stats.TotalPresent != 2 || res.Stats.TotalPending != 1 {
		t.Errorf("stats = %+v, want 2 present / 1 pending", res.Stats)
	}
	if len(res.Records) != 3 {
		t.Errorf("records = %d, want 3", len(res.Records))
	}

	if _, err := svc.MonitorSession(ctx, sess.ID, "someone-else"); err == nil {
		t.Error("monitoring another teacher's session should fail")
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"present", StatusPresent, false},
		{"PENDING", StatusPending, false},
		{"Absent", StatusAbsent, false},
		{"unknown", "", true},
	}
	for _, tc := range tests {
		got, err := ParseStatus(tc.in)
		if tc.wantErr != (err != nil) {
			t.Errorf("ParseStatus(%q) err = %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
