// Package handler exposes the HTTP API over the domain services.
package handler

import (
	"encoding/base64"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/devparmar15199/qr-student-app-backend/internal/apperr"
	"github.com/devparmar15199/qr-student-app-backend/internal/attendance"
	"github.com/devparmar15199/qr-student-app-backend/internal/audit"
	"github.com/devparmar15199/qr-student-app-backend/internal/auth"
	"github.com/devparmar15199/qr-student-app-backend/internal/cloudinary"
	"github.com/devparmar15199/qr-student-app-backend/internal/queue"
	"github.com/devparmar15199/qr-student-app-backend/internal/roster"
	"github.com/devparmar15199/qr-student-app-backend/internal/schedule"
	"github.com/devparmar15199/qr-student-app-backend/internal/session"
)

// AuthConfig carries the token issuing parameters.
type AuthConfig struct {
	SigningKey string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Handler is the API surface. All fields are required except CDN,
// which may be nil when image storage is not configured.
type Handler struct {
	Sessions   *session.Service
	Schedules  *schedule.Service
	Attendance *attendance.Service
	Directory  *roster.PGDirectory
	CDN        *cloudinary.Client
	Queue      queue.Queue
	Audit      audit.Logger
	Auth       AuthConfig
}

// Register mounts all API routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/v1/auth/login", h.login)

	authed := r.Group("/v1", auth.Bearer(h.Auth.SigningKey, h.Auth.Issuer))
	authed.POST("/uploads/face", h.uploadFace)
	authed.POST("/tokens/validate", h.validateToken)

	teacher := authed.Group("", auth.RequireRole(auth.RoleTeacher))
	teacher.POST("/sessions", h.generateSession)
	teacher.POST("/sessions/:id/refresh", h.refreshSession)
	teacher.DELETE("/sessions/:id", h.terminateSession)
	teacher.DELETE("/sessions", h.terminateAllSessions)
	teacher.POST("/attendance/manual", h.manualAttendance)
	teacher.GET("/attendance", h.listAttendance)
	teacher.POST("/schedules", h.createSchedule)
	teacher.PUT("/schedules/:id", h.updateSchedule)
	teacher.DELETE("/schedules/:id", h.deleteSchedule)
	teacher.POST("/schedules/merge", h.mergeSchedules)
	teacher.POST("/schedules/:id/split", h.splitSchedule)
	teacher.GET("/schedules/conflict", h.checkScheduleConflict)
	teacher.GET("/schedules", h.listSchedules)

	student := authed.Group("", auth.RequireRole(auth.RoleStudent))
	student.POST("/attendance", h.submitAttendance)
	student.POST("/attendance/sync", h.syncAttendance)
}

func actor(c *gin.Context) roster.Actor {
	claims := auth.FromContext(c)
	return roster.Actor{ID: claims.Subject, Role: claims.Role}
}

// writeError maps failure kinds onto HTTP statuses. Infrastructure
// errors are logged and hidden behind a 500.
func writeError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		log.Printf("internal error on %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperr.KindValidation, apperr.KindFormat:
		status = http.StatusBadRequest
	case apperr.KindAuthorization, apperr.KindProximity:
		status = http.StatusForbidden
	case apperr.KindNotFound, apperr.KindExpired:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	}

	body := gin.H{"error": appErr.Message, "kind": appErr.Kind.String()}
	if appErr.Details != nil {
		if sc, ok := appErr.Details.(schedule.Schedule); ok {
			body["details"] = scheduleJSON(sc)
		} else {
			body["details"] = appErr.Details
		}
	}
	c.JSON(status, body)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, hash, err := h.Directory.UserByEmail(c.Request.Context(), req.Email)
	if err != nil || !auth.CheckPassword(hash, req.Password) {
		// Same answer for unknown account and wrong password.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tokens, err := auth.Issue(user.ID, user.Role, h.Auth.Issuer, h.Auth.SigningKey, h.Auth.AccessTTL, h.Auth.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	h.Audit.Record(c.Request.Context(), user.ID, "auth.login", nil, audit.StatusOK)
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  tokens.AccessToken,
		"refreshToken": tokens.RefreshToken,
		"expiresAt":    tokens.AccessExp.Unix(),
		"user":         user,
	})
}

// uploadFace stores a face capture and returns its URL for use in an
// attendance submission. Accepts a multipart file or a JSON body with a
// base64 data URL.
func (h *Handler) uploadFace(c *gin.Context) {
	if !h.CDN.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}

	var data string
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		raw, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
			return
		}
		data = "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(raw)
	} else {
		var body struct {
			Data string `json:"data" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
			return
		}
		data = body.Data
	}

	result, err := h.CDN.UploadBase64(c.Request.Context(), data)
	if err != nil {
		log.Printf("face upload failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":      result.SecureURL,
		"publicId": result.PublicID,
		"bytes":    result.Bytes,
	})
}
