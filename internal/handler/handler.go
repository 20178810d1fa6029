package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"smartattend/internal/attendance"
	"smartattend/internal/auth"
	"smartattend/internal/imagestore"
	"smartattend/internal/queue"
)

// AuthConfig is the token-issuing configuration the handlers need.
type AuthConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Handler exposes the HTTP API.
type Handler struct {
	store    attendance.Store
	svc      *attendance.Service
	verifier *attendance.Verifier
	images   imagestore.Store
	q        queue.Queue
	authCfg  AuthConfig
}

// New wires the handler.
func New(store attendance.Store, svc *attendance.Service, verifier *attendance.Verifier, images imagestore.Store, q queue.Queue, authCfg AuthConfig) *Handler {
	return &Handler{store: store, svc: svc, verifier: verifier, images: images, q: q, authCfg: authCfg}
}

// ---------- Auth ----------

type registerRequest struct {
	Name       string `form:"name" binding:"required"`
	Email      string `form:"email" binding:"required,email"`
	Password   string `form:"password" binding:"required,min=8"`
	StudentID  string `form:"student_id"`
	Department string `form:"department"`
	Role       string `form:"role"`
}

// Register creates a user. Students send a multipart form including a
// reference photo; staff accounts skip the photo.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := req.Role
	if role != auth.RoleStaff {
		role = auth.RoleStudent
	}

	var photoRef string
	if role == auth.RoleStudent {
		file, header, err := c.Request.FormFile("photo")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read photo"})
			return
		}
		photoRef, err = h.images.Save(c.Request.Context(), header.Filename, data)
		if err != nil {
			log.Printf("reference photo upload failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to store photo"})
			return
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process password"})
		return
	}

	st := &attendance.Student{
		Name:              req.Name,
		Email:             req.Email,
		StudentID:         req.StudentID,
		Department:        req.Department,
		ReferenceImageRef: photoRef,
		PasswordHash:      hash,
		Role:              role,
	}
	if err := h.store.CreateStudent(c.Request.Context(), st); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, st)
}

// Login exchanges credentials for a token pair.
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := h.store.GetStudentByEmail(c.Request.Context(), req.Email)
	if err != nil || !auth.CheckPassword(req.Password, st.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	h.issueTokens(c, st.ID, st.Role)
}

// Refresh rotates a refresh token into a fresh pair. The presented token must
// be a refresh token (not an access token), must be on record, and must be
// neither revoked nor expired; rotation then revokes it before reissuing.
func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, err := auth.Parse(req.RefreshToken, h.authCfg.SigningKey, h.authCfg.Issuer)
	if err != nil || claims.TokenType != auth.TokenTypeRefresh {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	stored, err := h.store.GetRefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil || stored.Revoked || time.Now().After(stored.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if err := h.store.RevokeRefreshToken(c.Request.Context(), req.RefreshToken); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}
	h.issueTokens(c, claims.Subject, claims.Role)
}

func (h *Handler) issueTokens(c *gin.Context, userID, role string) {
	tokens, err := auth.Issue(userID, role, h.authCfg.Issuer, h.authCfg.SigningKey, h.authCfg.AccessTTL, h.authCfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	_ = h.store.SaveRefreshToken(c.Request.Context(), userID, tokens.RefreshToken, tokens.RefreshExp)

	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// UpdateReferencePhoto replaces the caller's on-file reference photo.
func (h *Handler) UpdateReferencePhoto(c *gin.Context) {
	claims, _ := auth.FromContext(c)

	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read photo"})
		return
	}

	ref, err := h.images.Save(c.Request.Context(), header.Filename, data)
	if err != nil {
		log.Printf("reference photo upload failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to store photo"})
		return
	}
	if err := h.store.UpdateStudentReferenceImage(c.Request.Context(), claims.Subject, ref); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reference_image_ref": ref})
}

// ---------- Check-in ----------

// CheckIn runs the verification pipeline for one student submission.
// Multipart fields: session (id) or session_code, gps_lat, gps_long,
// captured_image (file).
func (h *Handler) CheckIn(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	ctx := c.Request.Context()

	sessionID := c.PostForm("session")
	if sessionID == "" {
		if code := c.PostForm("session_code"); code != "" {
			sess, err := h.store.GetSessionByCode(ctx, code)
			if err == nil {
				sessionID = sess.ID
			} else if !errors.Is(err, attendance.ErrNotFound) {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
				return
			}
			// An unknown code falls through with an empty id and fails the
			// session lookup as session_not_found.
		}
	}

	lat, _ := strconv.ParseFloat(c.DefaultPostForm("gps_lat", "0"), 64)
	lng, _ := strconv.ParseFloat(c.DefaultPostForm("gps_long", "0"), 64)

	var capture []byte
	if file, _, err := c.Request.FormFile("captured_image"); err == nil {
		defer file.Close()
		if data, err := io.ReadAll(file); err == nil {
			capture = data
		}
	}

	outcome := h.verifier.Verify(ctx, attendance.CheckInRequest{
		SessionID: sessionID,
		StudentID: claims.Subject,
		Capture:   capture,
		GPSLat:    lat,
		GPSLng:    lng,
	})

	h.publishOutcome(sessionID, claims.Subject, outcome)
	if outcome.RetryAfterSeconds != nil {
		c.Header("Retry-After", strconv.FormatInt(*outcome.RetryAfterSeconds, 10))
	}
	c.JSON(outcomeStatus(outcome), outcome)
}

// publishOutcome hands the result to the audit worker. A queue failure is
// logged, never surfaced: the student already has their answer.
func (h *Handler) publishOutcome(sessionID, studentID string, out attendance.Outcome) {
	if h.q == nil {
		return
	}
	body, _ := json.Marshal(queue.CheckinEvent{
		SessionID: sessionID,
		StudentID: studentID,
		Code:      string(out.Code),
		Success:   out.Success,
	})
	if err := h.q.Publish(context.Background(), queue.Message{Type: queue.TypeCheckin, Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

func outcomeStatus(out attendance.Outcome) int {
	switch out.Code {
	case attendance.CodeOK:
		return http.StatusOK
	case attendance.CodeSessionNotFound:
		return http.StatusNotFound
	case attendance.CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// ---------- Sessions (staff) ----------

type createSessionRequest struct {
	SubjectID    string  `json:"subject_id" binding:"required"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
}

// CreateSession opens an attendance window, or returns the teacher's
// already-open one.
func (h *Handler) CreateSession(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, created, err := h.svc.CreateSession(c.Request.Context(), attendance.CreateSessionParams{
		TeacherID:    claims.Subject,
		SubjectID:    req.SubjectID,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		RadiusMeters: req.RadiusMeters,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, sess)
}

// EndSession closes the window.
func (h *Handler) EndSession(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	sess, err := h.svc.EndSession(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		if errors.Is(err, attendance.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// MonitorSession returns the session with live records and counts.
func (h *Handler) MonitorSession(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	res, err := h.svc.MonitorSession(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		if errors.Is(err, attendance.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListSessions returns the caller's sessions, newest first.
func (h *Handler) ListSessions(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	sessions, err := h.svc.ListSessions(c.Request.Context(), claims.Subject, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = []attendance.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// ---------- Subjects (staff) ----------

// CreateSubject registers a course for the caller.
func (h *Handler) CreateSubject(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	var req struct {
		Name string `json:"name" binding:"required"`
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sub, err := h.svc.CreateSubject(c.Request.Context(), req.Name, req.Code, claims.Subject)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// ListSubjects returns the caller's courses.
func (h *Handler) ListSubjects(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	subjects, err := h.svc.ListSubjects(c.Request.Context(), claims.Subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if subjects == nil {
		subjects = []attendance.Subject{}
	}
	c.JSON(http.StatusOK, subjects)
}
