package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devparmar15199/qr-student-app-backend/internal/audit"
	"github.com/devparmar15199/qr-student-app-backend/internal/geo"
)

// Coordinates are pointers so that a legitimate 0 (equator, Greenwich
// meridian) binds; range checking is geo.Point.Validate's job.
type generateSessionRequest struct {
	ClassID    string   `json:"classId" binding:"required"`
	ScheduleID string   `json:"scheduleId"`
	Latitude   *float64 `json:"latitude" binding:"required"`
	Longitude  *float64 `json:"longitude" binding:"required"`
}

func (h *Handler) generateSession(c *gin.Context) {
	var req generateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	act := actor(c)
	sess, err := h.Sessions.Generate(c.Request.Context(), act, req.ClassID, req.ScheduleID,
		geo.Point{Lat: *req.Latitude, Lon: *req.Longitude})
	if err != nil {
		writeError(c, err)
		return
	}

	h.Audit.Record(c.Request.Context(), act.ID, "session.generate",
		map[string]any{"sessionId": sess.ID, "classId": sess.ClassID}, audit.StatusOK)
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) refreshSession(c *gin.Context) {
	sess, err := h.Sessions.Refresh(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":     sess.ID,
		"rotatingToken": sess.RotatingToken,
		"expiresAt":     sess.ExpiresAt,
	})
}

func (h *Handler) terminateSession(c *gin.Context) {
	act := actor(c)
	id := c.Param("id")
	if err := h.Sessions.Terminate(c.Request.Context(), act, id); err != nil {
		writeError(c, err)
		return
	}
	h.Audit.Record(c.Request.Context(), act.ID, "session.terminate",
		map[string]any{"sessionId": id}, audit.StatusOK)
	c.Status(http.StatusNoContent)
}

func (h *Handler) terminateAllSessions(c *gin.Context) {
	act := actor(c)
	teacherID := act.ID
	if act.IsAdmin() {
		if q := c.Query("teacherId"); q != "" {
			teacherID = q
		}
	}
	n, err := h.Sessions.TerminateAll(c.Request.Context(), act, teacherID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.Audit.Record(c.Request.Context(), act.ID, "session.terminate_all",
		map[string]any{"teacherId": teacherID, "terminated": n}, audit.StatusOK)
	c.JSON(http.StatusOK, gin.H{"terminated": n})
}

type validateTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// validateToken resolves any accepted QR payload encoding and reports
// whether the session behind it is still usable.
func (h *Handler) validateToken(c *gin.Context) {
	var req validateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.Sessions.Validate(c.Request.Context(), req.Token)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":      true,
		"sessionId":  sess.ID,
		"classId":    sess.ClassID,
		"scheduleId": sess.ScheduleID,
		"expiresAt":  sess.ExpiresAt,
	})
}
