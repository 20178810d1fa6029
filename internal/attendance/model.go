package attendance

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an attendance record.
type Status string

const (
	StatusPending Status = "pending"
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

// ParseStatus normalizes and validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(s)) {
	case StatusPending:
		return StatusPending, nil
	case StatusPresent:
		return StatusPresent, nil
	case StatusAbsent:
		return StatusAbsent, nil
	}
	return "", fmt.Errorf("unknown attendance status %q", s)
}

// Session is one class meeting open for check-ins. A session is owned by the
// teacher that started it; active=false implies EndTime is set and no further
// records may attach.
type Session struct {
	ID           string     `json:"id"`
	TeacherID    string     `json:"teacher_id"`
	SubjectID    string     `json:"subject_id"`
	SubjectName  string     `json:"subject_name,omitempty"` // joined
	SubjectCode  string     `json:"subject_code,omitempty"` // joined
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Active       bool       `json:"active"`
	Latitude     float64    `json:"latitude"`
	Longitude    float64    `json:"longitude"`
	RadiusMeters float64    `json:"radius_meters"`
	Code         string     `json:"code"`
}

// Record is one student's check-in attempt against one session. At most one
// record exists per (session, student) pair, enforced at the storage layer.
type Record struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	StudentID        string    `json:"student_id"`
	StudentName      string    `json:"student_name,omitempty"` // joined
	Timestamp        time.Time `json:"timestamp"`
	Status           Status    `json:"status"`
	CapturedImageRef string    `json:"captured_image_ref,omitempty"`
	GPSLat           *float64  `json:"gps_lat,omitempty"`
	GPSLng           *float64  `json:"gps_lng,omitempty"`
}

// Student is a registered student with an on-file reference photo.
type Student struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	StudentID         string    `json:"student_id"`
	Department        string    `json:"department,omitempty"`
	ReferenceImageRef string    `json:"reference_image_ref,omitempty"`
	PasswordHash      string    `json:"-"`
	Role              string    `json:"role"`
	CreatedAt         time.Time `json:"created_at"`
}

// Subject is a course a staff member teaches.
type Subject struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	StaffID   string    `json:"staff_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStats summarizes live check-in progress for the monitor view.
type SessionStats struct {
	TotalPresent int `json:"total_present"`
	TotalPending int `json:"total_pending"`
}

// RefreshToken is one issued refresh token. Rotation revokes the presented
// token and stores its replacement; a revoked or expired row must never mint
// a new pair.
type RefreshToken struct {
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// AuditEvent is one processed check-in outcome, written by the worker.
type AuditEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id"`
	Code      string    `json:"code"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
}
