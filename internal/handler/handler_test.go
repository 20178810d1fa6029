package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"smartattend/internal/attendance"
	"smartattend/internal/auth"
	"smartattend/internal/face"
	"smartattend/internal/imagestore"
	"smartattend/internal/queue"
)

var testAuth = AuthConfig{
	Issuer:     "smartattend-test",
	SigningKey: "test-signing-key",
	AccessTTL:  time.Hour,
	RefreshTTL: 24 * time.Hour,
}

func newTestRouter(t *testing.T) (*gin.Engine, *attendance.MemoryStore, *queue.InMemory) {
	return newTestRouterWithCooldown(t, 0)
}

func newTestRouterWithCooldown(t *testing.T, cooldown time.Duration) (*gin.Engine, *attendance.MemoryStore, *queue.InMemory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := attendance.NewMemoryStore()
	images := imagestore.NewMemory()
	q := queue.NewInMemory(16)

	encoder := face.NewEncoder(face.NewMockModel(), 2)
	verifier := attendance.NewVerifier(store, images, encoder, 0.5, cooldown)
	svc := attendance.NewService(store, attendance.SessionDefaults{
		Latitude:     12.9716,
		Longitude:    77.5946,
		RadiusMeters: 200,
	})

	h := New(store, svc, verifier, images, q, testAuth)

	r := gin.New()
	r.POST("/v1/auth/register", h.Register)
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/auth/refresh", h.Refresh)

	authed := r.Group("/v1", auth.UserAuth(testAuth.SigningKey, testAuth.Issuer))
	student := authed.Group("", auth.RequireRole(auth.RoleStudent))
	student.POST("/checkins", h.CheckIn)
	student.PUT("/me/photo", h.UpdateReferencePhoto)

	staff := authed.Group("", auth.RequireRole(auth.RoleStaff))
	staff.POST("/subjects", h.CreateSubject)
	staff.GET("/subjects", h.ListSubjects)
	staff.POST("/sessions", h.CreateSession)
	staff.GET("/sessions", h.ListSessions)
	staff.GET("/sessions/:id", h.MonitorSession)
	staff.POST("/sessions/:id/end", h.EndSession)

	return r, store, q
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 120, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if fileField != "" {
		fw, err := w.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(file); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func do(t *testing.T, r *gin.Engine, method, path, contentType, token string, body *bytes.Buffer) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	return do(t, r, method, path, "application/json", token, &buf)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func registerAndLogin(t *testing.T, r *gin.Engine, name, email, role string, photo []byte) string {
	t.Helper()
	fields := map[string]string{
		"name":     name,
		"email":    email,
		"password": "correct-horse",
		"role":     role,
	}
	fileField := ""
	if role == auth.RoleStudent {
		fields["student_id"] = "S-" + name
		fileField = "photo"
	}
	body, ct := multipartBody(t, fields, fileField, "photo.jpg", photo)
	rec := do(t, r, http.MethodPost, "/v1/auth/register", ct, "", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", email, rec.Code, rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": "correct-horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, rec, &tokens)
	if tokens.AccessToken == "" {
		t.Fatal("login returned empty access token")
	}
	return tokens.AccessToken
}

func TestCheckInFlow(t *testing.T) {
	r, _, q := newTestRouter(t)
	photo := testJPEG(t)

	staffToken := registerAndLogin(t, r, "Prof Rao", "rao@campus.edu", auth.RoleStaff, nil)
	studentToken := registerAndLogin(t, r, "Asha", "asha@campus.edu", auth.RoleStudent, photo)

	rec := doJSON(t, r, http.MethodPost, "/v1/subjects", staffToken, map[string]string{
		"name": "Distributed Systems",
		"code": "CS402",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create subject: status %d body %s", rec.Code, rec.Body.String())
	}
	var subject attendance.Subject
	decode(t, rec, &subject)

	rec = doJSON(t, r, http.MethodPost, "/v1/sessions", staffToken, map[string]any{
		"subject_id": subject.ID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d body %s", rec.Code, rec.Body.String())
	}
	var session attendance.Session
	decode(t, rec, &session)
	if session.Latitude != 12.9716 || session.RadiusMeters != 200 {
		t.Fatalf("session did not get campus defaults: %+v", session)
	}

	// Re-creating while active returns the same session with 200.
	rec = doJSON(t, r, http.MethodPost, "/v1/sessions", staffToken, map[string]any{
		"subject_id": subject.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("second create session: status %d", rec.Code)
	}
	var again attendance.Session
	decode(t, rec, &again)
	if again.ID != session.ID {
		t.Fatalf("expected existing session %s, got %s", session.ID, again.ID)
	}

	body, ct := multipartBody(t, map[string]string{
		"session":  session.ID,
		"gps_lat":  "12.9717",
		"gps_long": "77.5946",
	}, "captured_image", "selfie.jpg", photo)
	rec = do(t, r, http.MethodPost, "/v1/checkins", ct, studentToken, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("check-in: status %d body %s", rec.Code, rec.Body.String())
	}
	var outcome attendance.Outcome
	decode(t, rec, &outcome)
	if !outcome.Success || outcome.Code != attendance.CodeOK {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if outcome.Details == nil || outcome.Details.SubjectCode != "CS402" {
		t.Fatalf("missing or wrong details: %+v", outcome.Details)
	}

	// Second submission is rejected as a duplicate.
	body, ct = multipartBody(t, map[string]string{
		"session":  session.ID,
		"gps_lat":  "12.9717",
		"gps_long": "77.5946",
	}, "captured_image", "selfie.jpg", photo)
	rec = do(t, r, http.MethodPost, "/v1/checkins", ct, studentToken, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate check-in: status %d", rec.Code)
	}
	decode(t, rec, &outcome)
	if outcome.Code != attendance.CodeAlreadyMarked {
		t.Fatalf("expected already_marked, got %s", outcome.Code)
	}

	// Both attempts were published for the audit worker.
	msgs, err := q.Consume(context.Background())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-msgs:
			var ev queue.CheckinEvent
			if err := json.Unmarshal(msg.Body, &ev); err != nil {
				t.Fatalf("bad event body: %v", err)
			}
			if ev.SessionID != session.ID {
				t.Fatalf("event for wrong session: %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing outcome event %d", i)
		}
	}

	// Monitor shows one present record.
	rec = do(t, r, http.MethodGet, "/v1/sessions/"+session.ID, "", staffToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("monitor: status %d body %s", rec.Code, rec.Body.String())
	}
	var monitor attendance.MonitorResult
	decode(t, rec, &monitor)
	if monitor.Stats.TotalPresent != 1 || monitor.Stats.TotalPending != 0 {
		t.Fatalf("unexpected stats: %+v", monitor.Stats)
	}

	// End the session, then a new check-in attempt reports it ended.
	rec = do(t, r, http.MethodPost, "/v1/sessions/"+session.ID+"/end", "", staffToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end session: status %d", rec.Code)
	}
	body, ct = multipartBody(t, map[string]string{"session": session.ID}, "captured_image", "selfie.jpg", photo)
	rec = do(t, r, http.MethodPost, "/v1/checkins", ct, studentToken, body)
	decode(t, rec, &outcome)
	if outcome.Code != attendance.CodeSessionEnded {
		t.Fatalf("expected session_ended, got %s", outcome.Code)
	}
}

func TestCheckInBySessionCode(t *testing.T) {
	r, store, _ := newTestRouter(t)
	photo := testJPEG(t)

	staffToken := registerAndLogin(t, r, "Prof Iyer", "iyer@campus.edu", auth.RoleStaff, nil)
	studentToken := registerAndLogin(t, r, "Vikram", "vikram@campus.edu", auth.RoleStudent, photo)

	rec := doJSON(t, r, http.MethodPost, "/v1/subjects", staffToken, map[string]string{
		"name": "Databases", "code": "CS301",
	})
	var subject attendance.Subject
	decode(t, rec, &subject)

	rec = doJSON(t, r, http.MethodPost, "/v1/sessions", staffToken, map[string]any{"subject_id": subject.ID})
	var session attendance.Session
	decode(t, rec, &session)
	if session.Code == "" || session.Code != strings.ToUpper(session.Code) {
		t.Fatalf("expected upper-case join code, got %q", session.Code)
	}

	body, ct := multipartBody(t, map[string]string{
		"session_code": session.Code,
	}, "captured_image", "selfie.jpg", photo)
	rec = do(t, r, http.MethodPost, "/v1/checkins", ct, studentToken, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("check-in by code: status %d body %s", rec.Code, rec.Body.String())
	}

	// GPS was absent, so none is stored on the record.
	records, err := store.ListRecords(context.Background(), session.ID)
	if err != nil || len(records) != 1 {
		t.Fatalf("records: %v %d", err, len(records))
	}
	if records[0].GPSLat != nil {
		t.Fatalf("expected no stored GPS, got %v", *records[0].GPSLat)
	}

	// An unknown code maps to session_not_found.
	body, ct = multipartBody(t, map[string]string{
		"session_code": "NOPE1234",
	}, "captured_image", "selfie.jpg", photo)
	rec = do(t, r, http.MethodPost, "/v1/checkins", ct, studentToken, body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown code: status %d", rec.Code)
	}
}

func TestRoleEnforcement(t *testing.T) {
	r, _, _ := newTestRouter(t)
	photo := testJPEG(t)

	studentToken := registerAndLogin(t, r, "Meera", "meera@campus.edu", auth.RoleStudent, photo)

	rec := doJSON(t, r, http.MethodPost, "/v1/sessions", studentToken, map[string]any{"subject_id": "x"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("student creating session: status %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/v1/sessions", "", map[string]any{"subject_id": "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous creating session: status %d", rec.Code)
	}

	body, ct := multipartBody(t, map[string]string{"session": "x"}, "captured_image", "s.jpg", photo)
	rec = do(t, r, http.MethodPost, "/v1/checkins", ct, "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous check-in: status %d", rec.Code)
	}
}

func TestRegisterRequiresStudentPhoto(t *testing.T) {
	r, _, _ := newTestRouter(t)

	body, ct := multipartBody(t, map[string]string{
		"name":     "No Photo",
		"email":    "nophoto@campus.edu",
		"password": "correct-horse",
	}, "", "", nil)
	rec := do(t, r, http.MethodPost, "/v1/auth/register", ct, "", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing photo, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	r, _, _ := newTestRouter(t)
	photo := testJPEG(t)
	_ = registerAndLogin(t, r, "Ravi", "ravi@campus.edu", auth.RoleStudent, photo)

	rec := doJSON(t, r, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "ravi@campus.edu", "password": "correct-horse",
	})
	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	decode(t, rec, &tokens)

	rec = doJSON(t, r, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": tokens.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", rec.Code, rec.Body.String())
	}

	// The rotated-out token is revoked and must not mint another pair.
	rec = doJSON(t, r, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": tokens.RefreshToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh token: status %d body %s", rec.Code, rec.Body.String())
	}

	// An access token is the wrong type for the refresh endpoint.
	rec = doJSON(t, r, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": tokens.AccessToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("access token as refresh: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestRefreshRejectsUnknownToken(t *testing.T) {
	r, _, _ := newTestRouter(t)

	// Well-formed and correctly signed, but never issued by this server's
	// login flow, so it has no stored row.
	forged, err := auth.Issue("ghost", auth.RoleStudent, testAuth.Issuer, testAuth.SigningKey, testAuth.AccessTTL, testAuth.RefreshTTL)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	rec := doJSON(t, r, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": forged.RefreshToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown refresh token: status %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": "not-a-token",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad refresh: status %d", rec.Code)
	}
}

func TestRefreshTokenRejectedAsBearer(t *testing.T) {
	r, _, _ := newTestRouter(t)
	photo := testJPEG(t)
	_ = registerAndLogin(t, r, "Nina", "nina@campus.edu", auth.RoleStudent, photo)

	rec := doJSON(t, r, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "nina@campus.edu", "password": "correct-horse",
	})
	var tokens struct {
		RefreshToken string `json:"refresh_token"`
	}
	decode(t, rec, &tokens)

	body, ct := multipartBody(t, map[string]string{"session": "x"}, "captured_image", "s.jpg", photo)
	rec = do(t, r, http.MethodPost, "/v1/checkins", ct, tokens.RefreshToken, body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh token as bearer: status %d", rec.Code)
	}
}

func TestCheckInCooldownHeader(t *testing.T) {
	r, _, _ := newTestRouterWithCooldown(t, 5*time.Minute)
	photo := testJPEG(t)

	staffToken := registerAndLogin(t, r, "Prof Sen", "sen@campus.edu", auth.RoleStaff, nil)
	studentToken := registerAndLogin(t, r, "Kiran", "kiran@campus.edu", auth.RoleStudent, photo)

	rec := doJSON(t, r, http.MethodPost, "/v1/subjects", staffToken, map[string]string{
		"name": "Networks", "code": "CS305",
	})
	var subject attendance.Subject
	decode(t, rec, &subject)

	rec = doJSON(t, r, http.MethodPost, "/v1/sessions", staffToken, map[string]any{"subject_id": subject.ID})
	var session attendance.Session
	decode(t, rec, &session)

	body, ct := multipartBody(t, map[string]string{"session": session.ID}, "captured_image", "selfie.jpg", photo)
	rec = do(t, r, http.MethodPost, "/v1/checkins", ct, studentToken, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("first check-in: status %d body %s", rec.Code, rec.Body.String())
	}

	// A fresh session from the same teacher; the global cooldown still bites.
	rec = do(t, r, http.MethodPost, "/v1/sessions/"+session.ID+"/end", "", staffToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end session: status %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodPost, "/v1/sessions", staffToken, map[string]any{"subject_id": subject.ID})
	var next attendance.Session
	decode(t, rec, &next)

	body, ct = multipartBody(t, map[string]string{"session": next.ID}, "captured_image", "selfie.jpg", photo)
	rec = do(t, r, http.MethodPost, "/v1/checkins", ct, studentToken, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("cooldown check-in: status %d body %s", rec.Code, rec.Body.String())
	}
	var outcome attendance.Outcome
	decode(t, rec, &outcome)
	if outcome.Code != attendance.CodeTooSoon {
		t.Fatalf("expected too_soon, got %s", outcome.Code)
	}
	if outcome.RetryAfterSeconds == nil || *outcome.RetryAfterSeconds <= 0 || *outcome.RetryAfterSeconds > 300 {
		t.Fatalf("retry_after_seconds = %v", outcome.RetryAfterSeconds)
	}
	header := rec.Header().Get("Retry-After")
	if header == "" {
		t.Fatal("missing Retry-After header")
	}
	secs, err := strconv.ParseInt(header, 10, 64)
	if err != nil || secs != *outcome.RetryAfterSeconds {
		t.Fatalf("Retry-After = %q, want %d", header, *outcome.RetryAfterSeconds)
	}
}
