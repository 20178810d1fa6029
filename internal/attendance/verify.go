package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"smartattend/internal/face"
	"smartattend/internal/geo"
	"smartattend/internal/imagestore"
	"smartattend/internal/metrics"
)

// Code identifies a check-in outcome.
type Code string

const (
	CodeOK                       Code = "ok"
	CodeSessionNotFound          Code = "session_not_found"
	CodeSessionEnded             Code = "session_ended"
	CodeAlreadyMarked            Code = "already_marked"
	CodeTooSoon                  Code = "too_soon"
	CodeOutOfRange               Code = "out_of_range"
	CodeNoImage                  Code = "no_image"
	CodeNoReferenceImage         Code = "no_reference_image"
	CodeNoFaceInReference        Code = "no_face_in_reference"
	CodeNoFaceInCapture          Code = "no_face_in_capture"
	CodeMultipleFacesInReference Code = "multiple_faces_in_reference"
	CodeMultipleFacesInCapture   Code = "multiple_faces_in_capture"
	CodeFaceMismatch             Code = "face_mismatch"
	CodeImageDecodeFailure       Code = "image_decode_failure"
	CodeInternalError            Code = "internal_error"
)

// CheckInDetails accompany a successful verification.
type CheckInDetails struct {
	ClassName   string    `json:"class_name"`
	SubjectCode string    `json:"subject_code"`
	FacultyName string    `json:"faculty_name"`
	Confidence  float64   `json:"confidence"`
	MarkedAt    time.Time `json:"marked_at"`
}

// Outcome is the structured result of one check-in attempt. Every expected
// failure is a value here, never a returned error; raw embeddings and the
// threshold are deliberately not included.
type Outcome struct {
	Success        bool     `json:"success"`
	Code           Code     `json:"code"`
	Message        string   `json:"message"`
	Confidence     *float64 `json:"confidence,omitempty"`
	ExistingStatus Status   `json:"existing_status,omitempty"`
	// RetryAfterSeconds accompanies CodeTooSoon, rounded up to whole seconds
	// so clients and the Retry-After header share one representation.
	RetryAfterSeconds *int64          `json:"retry_after_seconds,omitempty"`
	Details           *CheckInDetails `json:"details,omitempty"`
}

// CheckInRequest carries one student submission. Coordinates of exactly (0,0)
// are read as "no GPS supplied" and skip the geofence; a real fix at the null
// island would be swallowed by that sentinel, which is a known weakness of
// the submission format.
type CheckInRequest struct {
	SessionID string
	StudentID string
	Capture   []byte
	GPSLat    float64
	GPSLng    float64
}

// Verifier runs the check-in decision procedure: session validation,
// duplicate and cooldown guards, geofence, then face verification.
type Verifier struct {
	store     Store
	images    imagestore.Store
	encoder   *face.Encoder
	threshold float64
	cooldown  time.Duration
	now       func() time.Time
}

// NewVerifier wires the orchestrator. threshold is the embedding-distance
// match bound (default policy 0.5); cooldown is the minimum gap between a
// student's attempts across all sessions, 0 disables it.
func NewVerifier(store Store, images imagestore.Store, encoder *face.Encoder, threshold float64, cooldown time.Duration) *Verifier {
	if threshold <= 0 {
		threshold = 0.5
	}
	return &Verifier{
		store:     store,
		images:    images,
		encoder:   encoder,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Verify decides one check-in attempt. Every result, expected failures
// included, comes back as an Outcome; internal faults surface as
// CodeInternalError after being logged.
func (v *Verifier) Verify(ctx context.Context, req CheckInRequest) Outcome {
	started := v.now()
	out := v.verify(ctx, req)
	metrics.ObserveCheckin(string(out.Code), v.now().Sub(started))
	return out
}

func (v *Verifier) verify(ctx context.Context, req CheckInRequest) Outcome {
	// 1. Resolve session.
	sess, err := v.store.GetSession(ctx, req.SessionID)
	if errors.Is(err, ErrNotFound) {
		return fail(CodeSessionNotFound, "Session not found.")
	}
	if err != nil {
		return v.internal("resolve session", err)
	}

	// 2. Session must still be open.
	if !sess.Active {
		return fail(CodeSessionEnded, "This class session has ended.")
	}

	// 3. One record per (session, student).
	if existing, err := v.store.FindRecord(ctx, sess.ID, req.StudentID); err == nil {
		out := fail(CodeAlreadyMarked, fmt.Sprintf("Attendance already marked (%s).", existing.Status))
		out.ExistingStatus = existing.Status
		return out
	} else if !errors.Is(err, ErrNotFound) {
		return v.internal("duplicate check", err)
	}

	// 4. Global per-student cooldown.
	if v.cooldown > 0 {
		if last, err := v.store.LatestRecordForStudent(ctx, req.StudentID); err == nil {
			if elapsed := v.now().UTC().Sub(last.Timestamp); elapsed < v.cooldown {
				remaining := v.cooldown - elapsed
				secs := int64(math.Ceil(remaining.Seconds()))
				out := fail(CodeTooSoon, fmt.Sprintf("Please wait %s before checking in again.", remaining.Round(time.Second)))
				out.RetryAfterSeconds = &secs
				return out
			}
		} else if !errors.Is(err, ErrNotFound) {
			return v.internal("cooldown check", err)
		}
	}

	// 5. Geofence, skipped when no coordinates were supplied.
	if req.GPSLat != 0 || req.GPSLng != 0 {
		student := geo.Point{Lat: req.GPSLat, Lng: req.GPSLng}
		class := geo.Point{Lat: sess.Latitude, Lng: sess.Longitude}
		if !geo.WithinRadius(student, class, sess.RadiusMeters) {
			return fail(CodeOutOfRange, "You are too far from the class location.")
		}
	}

	// 6. A capture is mandatory.
	if len(req.Capture) == 0 {
		return fail(CodeNoImage, "Please capture your photo.")
	}

	// 7. Persist the pending record before the expensive comparison so a
	// crash mid-verification leaves a visible trace instead of silence.
	captureRef, err := v.images.Save(ctx, "capture.jpg", req.Capture)
	if err != nil {
		return v.internal("store capture", err)
	}
	rec := &Record{
		SessionID:        sess.ID,
		StudentID:        req.StudentID,
		Timestamp:        v.now().UTC(),
		CapturedImageRef: captureRef,
	}
	if req.GPSLat != 0 || req.GPSLng != 0 {
		lat, lng := req.GPSLat, req.GPSLng
		rec.GPSLat, rec.GPSLng = &lat, &lng
	}
	if err := v.store.InsertPendingRecord(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			// Lost a race with a concurrent submission from the same student.
			out := fail(CodeAlreadyMarked, "Attendance already marked (pending).")
			out.ExistingStatus = StatusPending
			return out
		}
		return v.internal("insert pending record", err)
	}

	// 8. Resolve the on-file reference photo.
	student, err := v.store.GetStudent(ctx, req.StudentID)
	if err != nil {
		return v.rollbackInternal(ctx, rec.ID, "resolve student", err)
	}
	if student.ReferenceImageRef == "" {
		v.rollback(ctx, rec.ID)
		return fail(CodeNoReferenceImage, "No profile photo found. Please upload one in settings.")
	}
	refBytes, err := v.images.Load(ctx, student.ReferenceImageRef)
	if err != nil {
		return v.rollbackInternal(ctx, rec.ID, "load reference image", err)
	}

	// 9. Encode reference, then capture. The reference is recomputed on every
	// attempt rather than cached, so a changed profile photo needs no
	// invalidation.
	refEmb, err := v.encoder.Encode(ctx, refBytes)
	if err != nil {
		v.rollback(ctx, rec.ID)
		return v.encodeFailure(err, true)
	}
	capEmb, err := v.encoder.Encode(ctx, req.Capture)
	if err != nil {
		v.rollback(ctx, rec.ID)
		return v.encodeFailure(err, false)
	}

	// 10. Compare and settle the record.
	match, err := face.Compare(refEmb, capEmb, v.threshold)
	if err != nil {
		return v.rollbackInternal(ctx, rec.ID, "compare embeddings", err)
	}
	if !match.IsMatch {
		v.rollback(ctx, rec.ID)
		out := fail(CodeFaceMismatch, match.Message)
		conf := match.Confidence
		out.Confidence = &conf
		return out
	}

	if err := v.store.MarkPresent(ctx, rec.ID); err != nil {
		return v.rollbackInternal(ctx, rec.ID, "mark present", err)
	}

	facultyName := ""
	if teacher, err := v.store.GetStudent(ctx, sess.TeacherID); err == nil {
		facultyName = teacher.Name
	}

	conf := match.Confidence
	return Outcome{
		Success:    true,
		Code:       CodeOK,
		Message:    "Attendance marked successfully!",
		Confidence: &conf,
		Details: &CheckInDetails{
			ClassName:   sess.SubjectName,
			SubjectCode: sess.SubjectCode,
			FacultyName: facultyName,
			Confidence:  conf,
			MarkedAt:    rec.Timestamp,
		},
	}
}

// encodeFailure maps encoder errors onto the outcome taxonomy. reference
// distinguishes which of the two images failed.
func (v *Verifier) encodeFailure(err error, reference bool) Outcome {
	switch {
	case errors.Is(err, face.ErrNoFace):
		if reference {
			return fail(CodeNoFaceInReference, "No face found in your profile photo. Please update it.")
		}
		return fail(CodeNoFaceInCapture, "No face detected in selfie. Please ensure good lighting.")
	case errors.Is(err, face.ErrMultipleFaces):
		if reference {
			return fail(CodeMultipleFacesInReference, "Multiple faces in profile photo. Please use a photo with only you.")
		}
		return fail(CodeMultipleFacesInCapture, "Multiple faces detected. Only you should be in the frame.")
	case errors.Is(err, face.ErrDecode):
		log.Printf("verify: image decode failure: %v", err)
		return fail(CodeImageDecodeFailure, "Could not read the image. Please try again.")
	default:
		log.Printf("verify: encode failed: %v", err)
		return fail(CodeInternalError, "Server error. Please try again.")
	}
}

// rollback discards the pending record so the (session, student) pair stays
// eligible for a fresh attempt.
func (v *Verifier) rollback(ctx context.Context, recordID string) {
	if err := v.store.DeleteRecord(ctx, recordID); err != nil {
		log.Printf("verify: rollback of record %s failed: %v", recordID, err)
	}
}

func (v *Verifier) rollbackInternal(ctx context.Context, recordID, op string, err error) Outcome {
	v.rollback(ctx, recordID)
	return v.internal(op, err)
}

func (v *Verifier) internal(op string, err error) Outcome {
	log.Printf("verify: %s failed: %v", op, err)
	return fail(CodeInternalError, "Server error. Please try again.")
}

func fail(code Code, message string) Outcome {
	return Outcome{Success: false, Code: code, Message: message}
}
